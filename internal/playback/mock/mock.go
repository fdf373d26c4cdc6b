// Package mock provides a test double for the playback.Sink interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/npcvoice/internal/playback"
)

// Compile-time interface assertion.
var _ playback.Sink = (*Sink)(nil)

// Sink records every clip it is asked to play.
//
// When Block is true, Play waits until ctx is done or Stop is called, which
// lets tests hold a clip "on air".
type Sink struct {
	// PlayErr, if non-nil, is returned by every Play.
	PlayErr error
	// Block keeps Play running until it is stopped.
	Block bool

	mu      sync.Mutex
	clips   []playback.Clip
	stops   int
	stopCh  chan struct{}
	started chan playback.Clip
}

// Started returns a channel that receives each clip as Play begins. It must be
// called before the first Play.
func (s *Sink) Started() <-chan playback.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started == nil {
		s.started = make(chan playback.Clip, 64)
	}
	return s.started
}

// Play records clip and returns PlayErr, blocking first when Block is set.
func (s *Sink) Play(ctx context.Context, clip playback.Clip) error {
	s.mu.Lock()
	s.clips = append(s.clips, clip)
	stop := make(chan struct{})
	s.stopCh = stop
	started := s.started
	block := s.Block
	err := s.PlayErr
	s.mu.Unlock()

	if started != nil {
		started <- clip
	}
	if block {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return playback.ErrInterrupted
		}
	}
	return err
}

// Stop releases a blocked Play and counts the call.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}

// Clips returns a copy of the clips played so far.
func (s *Sink) Clips() []playback.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]playback.Clip, len(s.clips))
	copy(out, s.clips)
	return out
}

// Stops returns how often Stop was called.
func (s *Sink) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// SetBlock changes Block. Thread-safe.
func (s *Sink) SetBlock(b bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Block = b
}
