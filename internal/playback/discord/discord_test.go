package discord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/npcvoice/internal/playback"
	"github.com/MrWong99/npcvoice/pkg/audio"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
)

type fakeVoice struct {
	mu           sync.Mutex
	speaking     []bool
	disconnected int
}

func (v *fakeVoice) Speaking(on bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.speaking = append(v.speaking, on)
	return nil
}

func (v *fakeVoice) Disconnect() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.disconnected++
	return nil
}

// lenEncoder "encodes" a frame as a one-byte packet holding its length / 256.
type lenEncoder struct{}

func (lenEncoder) encode(pcm []byte) ([]byte, error) { return []byte{byte(len(pcm) / 256)}, nil }

// pcmClip returns a clip of d of 48 kHz stereo silence.
func pcmClip(d time.Duration) playback.Clip {
	n := int(d.Seconds() * opusSampleRate * opusChannels * 2)
	return playback.Clip{
		Audio: tts.Audio{
			Data: make([]byte, n),
			Output: tts.OutputFormat{
				Encoding: audio.EncodingPCM,
				Format:   audio.Format{SampleRate: opusSampleRate, Channels: opusChannels},
			},
		},
		Volume: 1,
	}
}

func TestFrames(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		n    int
		want int
	}{
		{name: "empty", n: 0, want: 0},
		{name: "exact", n: 2 * opusFrameBytes, want: 2},
		{name: "padded", n: opusFrameBytes + 10, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := frames(make([]byte, tt.n))
			if len(got) != tt.want {
				t.Fatalf("frames: got %d, want %d", len(got), tt.want)
			}
			for i, f := range got {
				if len(f) != opusFrameBytes {
					t.Errorf("frame %d: got %d bytes, want %d", i, len(f), opusFrameBytes)
				}
			}
		})
	}
}

func TestSink_Play(t *testing.T) {
	t.Parallel()
	v := &fakeVoice{}
	send := make(chan []byte, 16)
	s := newSink(v, send, lenEncoder{}, nil)

	if err := s.Play(context.Background(), pcmClip(100*time.Millisecond)); err != nil {
		t.Fatalf("Play: %v", err)
	}
	close(send)
	var n int
	for p := range send {
		if len(p) != 1 || p[0] != byte(opusFrameBytes/256) {
			t.Errorf("packet %d: got %v", n, p)
		}
		n++
	}
	if n != 5 {
		t.Errorf("packets: got %d, want 5 for 100ms", n)
	}
	if len(v.speaking) != 2 || !v.speaking[0] || v.speaking[1] {
		t.Errorf("speaking notifications: got %v, want [true false]", v.speaking)
	}
}

func TestSink_StopInterrupts(t *testing.T) {
	t.Parallel()
	send := make(chan []byte) // nobody reads: Play blocks on the first packet
	s := newSink(&fakeVoice{}, send, lenEncoder{}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Play(context.Background(), pcmClip(time.Second)) }()

	deadline := time.After(5 * time.Second)
	for {
		s.mu.Lock()
		started := s.stop != nil
		s.mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Play did not start")
		case <-time.After(time.Millisecond):
		}
	}
	s.Stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, playback.ErrInterrupted) {
			t.Errorf("expected ErrInterrupted, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Play did not return after Stop")
	}
}

func TestSink_ContextCancel(t *testing.T) {
	t.Parallel()
	s := newSink(&fakeVoice{}, make(chan []byte), lenEncoder{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Play(ctx, pcmClip(time.Second)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSink_Close(t *testing.T) {
	t.Parallel()
	v := &fakeVoice{}
	var sessionClosed bool
	s := newSink(v, make(chan []byte), lenEncoder{}, func() error {
		sessionClosed = true
		return nil
	})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if v.disconnected != 1 || !sessionClosed {
		t.Errorf("disconnected=%d sessionClosed=%v", v.disconnected, sessionClosed)
	}
}

func TestOpusEncoder(t *testing.T) {
	t.Parallel()
	enc, err := newOpusEncoder()
	if err != nil {
		t.Fatalf("newOpusEncoder: %v", err)
	}
	packet, err := enc.encode(make([]byte, opusFrameBytes))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(packet) == 0 {
		t.Error("expected a non-empty opus packet")
	}
}

func TestOpen_RequiresConfig(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Token: "t"}); err == nil {
		t.Error("expected error for incomplete config")
	}
}
