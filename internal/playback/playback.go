// Package playback turns synthesised NPC lines into sound.
//
// A [Queue] serialises [Clip]s onto a [Sink] so that two NPCs never talk over
// each other. [Device] is the speaker-backed sink; [Decode] converts the
// provider's encoding into the PCM format a sink plays.
package playback

import (
	"context"
	"errors"

	"github.com/MrWong99/npcvoice/pkg/provider/tts"
)

// ErrClosed is returned for clips submitted to, or still queued in, a closed
// [Queue].
var ErrClosed = errors.New("playback: queue closed")

// ErrInterrupted is reported for clips cut short or dropped by an interrupt.
var ErrInterrupted = errors.New("playback: interrupted")

// Clip is one spoken line ready for output.
type Clip struct {
	// NPC is the speaker's display name.
	NPC string
	// VoiceID is the voice the line was rendered with.
	VoiceID string
	// Text is the spoken line.
	Text string
	// Audio is the encoded utterance together with its format.
	Audio tts.Audio
	// Volume is a linear gain in [0, 1]. Zero is silent.
	Volume float64
	// Priority orders queued clips; higher plays first, ties are FIFO.
	Priority int
}

// Sink plays clips. Play blocks until the clip has been played, ctx is done,
// or Stop is called. Implementations must be safe for concurrent use.
type Sink interface {
	Play(ctx context.Context, clip Clip) error
	Stop()
}
