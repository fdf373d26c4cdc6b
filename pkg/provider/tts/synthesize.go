package tts

import (
	"bytes"
	"context"
	"fmt"

	"github.com/MrWong99/npcvoice/pkg/audio"
)

// Synthesize renders text with voice and returns the whole utterance. It
// delegates to [AudioSynthesizer] when p implements it and otherwise drives
// p.SynthesizeStream with a single fragment and collects every chunk.
func Synthesize(ctx context.Context, p Provider, voice VoiceProfile, text string) (Audio, error) {
	if s, ok := p.(AudioSynthesizer); ok {
		return s.SynthesizeAudio(ctx, voice, text)
	}

	in := make(chan string, 1)
	in <- text
	close(in)

	out, err := p.SynthesizeStream(ctx, in, voice)
	if err != nil {
		return Audio{}, fmt.Errorf("tts: synthesize with voice %q: %w", voice.ID, err)
	}

	var buf bytes.Buffer
	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				if err := ctx.Err(); err != nil {
					return Audio{}, err
				}
				if buf.Len() == 0 {
					return Audio{}, fmt.Errorf("tts: synthesize with voice %q: %w", voice.ID, ErrNoAudio)
				}
				return Audio{Data: buf.Bytes(), Output: p.Output()}, nil
			}
			buf.Write(chunk)
		case <-ctx.Done():
			go audio.Drain(out)
			return Audio{}, ctx.Err()
		}
	}
}
