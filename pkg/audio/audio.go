// Package audio holds the PCM primitives shared by the TTS providers and the
// playback queue: stream formats, sample-rate and channel conversion, volume
// scaling and RIFF/WAVE framing.
//
// Unless stated otherwise every function operates on signed 16-bit
// little-endian PCM with interleaved channels.
package audio

import (
	"fmt"
	"time"
)

// Encoding identifies how synthesised audio bytes are framed.
type Encoding string

const (
	// EncodingPCM is headerless signed 16-bit little-endian PCM.
	EncodingPCM Encoding = "pcm"

	// EncodingWAV is a RIFF/WAVE container around 16-bit PCM.
	EncodingWAV Encoding = "wav"

	// EncodingMP3 is an MPEG-1/2 Layer III stream.
	EncodingMP3 Encoding = "mp3"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether f has a positive rate and one or two channels.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && (f.Channels == 1 || f.Channels == 2)
}

// FrameSize is the number of bytes per sample frame.
func (f Format) FrameSize() int { return 2 * f.Channels }

// Duration returns how long n bytes of PCM in format f play for.
func (f Format) Duration(n int) time.Duration {
	if !f.Valid() {
		return 0
	}
	frames := n / f.FrameSize()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
