package playback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/MrWong99/npcvoice/pkg/audio"
)

// Compile-time interface assertion.
var _ Sink = (*WAVDir)(nil)

// WAVDir is a [Sink] that writes every clip to a numbered WAV file instead of
// a speaker. It serves headless hosts and recording sessions.
type WAVDir struct {
	dir    string
	format audio.Format

	mu  sync.Mutex
	seq int
}

// NewWAVDir creates dir if needed and returns a sink writing into it.
func NewWAVDir(dir string, format audio.Format) (*WAVDir, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("playback: invalid output format %s", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("playback: create output dir: %w", err)
	}
	return &WAVDir{dir: dir, format: format}, nil
}

// Play writes clip as "<seq>-<npc>.wav".
func (w *WAVDir) Play(ctx context.Context, clip Clip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pcm, err := Decode(clip.Audio, w.format, clip.Volume)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.seq++
	name := fmt.Sprintf("%05d-%s.wav", w.seq, fileSafe(clip.NPC))
	w.mu.Unlock()

	f, err := os.Create(filepath.Join(w.dir, name))
	if err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	if err := audio.WriteWAV(f, pcm, w.format); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Stop is a no-op; writes are not interruptible.
func (w *WAVDir) Stop() {}

func fileSafe(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return unicode.ToLower(r)
		}
		return '_'
	}, strings.TrimSpace(s))
	if s == "" {
		return "npc"
	}
	return s
}
