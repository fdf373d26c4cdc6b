// Package dialogue reads the NPC lines a game client emits and hands them to
// the voice pipeline.
package dialogue

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Line is one spoken NPC line.
type Line struct {
	// NPC is the speaker's display name as the game shows it.
	NPC string `json:"npc"`
	// Text is the line itself. It may be empty when only the speaker is known.
	Text string `json:"text"`
	// Priority lets urgent lines jump the playback queue. Zero is normal.
	Priority int `json:"priority,omitempty"`
}

// Source yields dialogue lines. Next blocks until a line is available and
// returns io.EOF once the source is exhausted.
type Source interface {
	Next(ctx context.Context) (Line, error)
}

// DefaultDedupWindow is how long an identical line from the same NPC is
// suppressed.
const DefaultDedupWindow = 5 * time.Second

// Deduper suppresses repeats of the same NPC line within a time window. Game
// clients tend to re-fire a dialogue event when a window is redrawn.
type Deduper struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewDeduper returns a Deduper with the given window. A non-positive window
// disables suppression.
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{window: window, now: time.Now, seen: make(map[string]time.Time)}
}

// Duplicate reports whether l repeats a line seen within the window and
// records it otherwise. NPC and text are compared case-insensitively.
func (d *Deduper) Duplicate(l Line) bool {
	if d.window <= 0 {
		return false
	}
	key := strings.ToLower(strings.TrimSpace(l.NPC)) + "\x00" + strings.ToLower(strings.TrimSpace(l.Text))
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}
