package resilience

import (
	"context"

	"github.com/MrWong99/npcvoice/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across several TTS
// backends, each behind its own circuit breaker. All backends must share one
// voice-id space, since the resolver picks ids without knowing which backend
// will speak them.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertions.
var (
	_ tts.Provider         = (*TTSFallback)(nil)
	_ tts.AudioSynthesizer = (*TTSFallback)(nil)
)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *TTSFallback) Status() []EntryStatus { return f.group.Status() }

// Healthy reports whether any backend currently accepts calls.
func (f *TTSFallback) Healthy() bool { return f.group.Healthy() }

// SynthesizeStream starts a stream on the first healthy backend. The text
// channel can only be consumed once, so only stream setup is covered by
// failover. Use [TTSFallback.SynthesizeAudio] for whole-utterance failover.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// SynthesizeAudio renders the whole utterance, moving on to the next backend
// when one fails at any point, including mid-stream. The returned Audio
// carries the format of the backend that produced it.
func (f *TTSFallback) SynthesizeAudio(ctx context.Context, voice tts.VoiceProfile, text string) (tts.Audio, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (tts.Audio, error) {
		return tts.Synthesize(ctx, p, voice, text)
	})
}

// ListVoices returns the voice catalogue of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// Output reports the primary backend's format. Streams served by a fallback
// use that fallback's format.
func (f *TTSFallback) Output() tts.OutputFormat {
	return f.group.Primary().Output()
}
