// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, the
// OpenAI speech endpoint, or a local Coqui server) and presents a uniform
// streaming interface. Voices are addressed by the provider's own voice ID,
// which is what the voice resolver hands out for each NPC.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrNoAudio is returned by [Synthesize] when the provider closed its stream
// without producing any audio.
var ErrNoAudio = errors.New("tts: provider produced no audio")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and returns
	// a channel that emits audio byte slices as they are synthesised. The bytes
	// are framed as described by [Provider.Output].
	//
	// The returned audio channel is closed by the implementation when all text
	// has been synthesised or when ctx is cancelled. The caller must drain the
	// audio channel to avoid blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered during synthesis are signalled by closing the audio channel
	// early; callers should check ctx.Err() to distinguish cancellation from
	// provider errors.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// Output describes the encoding and PCM format of the bytes emitted by
	// SynthesizeStream.
	Output() OutputFormat
}

// AudioSynthesizer is implemented by providers that can synthesise a complete
// utterance more directly than through the streaming interface, or that pick
// the emitting backend per call. [Synthesize] prefers it when present.
type AudioSynthesizer interface {
	SynthesizeAudio(ctx context.Context, voice VoiceProfile, text string) (Audio, error)
}
