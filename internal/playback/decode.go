package playback

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/MrWong99/npcvoice/pkg/audio"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
)

// go-mp3 always decodes to interleaved stereo.
const mp3Channels = 2

// Decode turns a synthesised utterance into 16-bit PCM in the format to and
// applies the linear gain volume.
func Decode(a tts.Audio, to audio.Format, volume float64) ([]byte, error) {
	pcm, from, err := decodePCM(a)
	if err != nil {
		return nil, err
	}
	pcm, err = audio.Convert(pcm, from, to)
	if err != nil {
		return nil, fmt.Errorf("playback: %w", err)
	}
	return audio.Scale(pcm, volume), nil
}

// decodePCM returns the raw PCM of a and its format.
func decodePCM(a tts.Audio) ([]byte, audio.Format, error) {
	switch a.Output.Encoding {
	case audio.EncodingPCM, "":
		if !a.Output.Format.Valid() {
			return nil, audio.Format{}, fmt.Errorf("playback: pcm audio with invalid format %s", a.Output.Format)
		}
		return a.Data[:len(a.Data)&^1], a.Output.Format, nil
	case audio.EncodingWAV:
		pcm, f, err := audio.DecodeWAV(a.Data)
		if err != nil {
			return nil, audio.Format{}, fmt.Errorf("playback: %w", err)
		}
		return pcm[:len(pcm)&^1], f, nil
	case audio.EncodingMP3:
		return decodeMP3(a.Data)
	default:
		return nil, audio.Format{}, fmt.Errorf("playback: unsupported encoding %q", a.Output.Encoding)
	}
}

func decodeMP3(data []byte) ([]byte, audio.Format, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("playback: mp3 decode: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("playback: mp3 read: %w", err)
	}
	f := audio.Format{SampleRate: dec.SampleRate(), Channels: mp3Channels}
	return pcm[:len(pcm)/f.FrameSize()*f.FrameSize()], f, nil
}
