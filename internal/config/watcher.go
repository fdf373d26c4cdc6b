package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is the polling period of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// Watcher keeps the config file at path loaded. [Watcher.Run] polls it and
// hands every valid, materially different revision to the change callback
// as (old, new). Invalid revisions are logged and ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config

	// checkMu serialises Reload with the poller, callbacks included.
	checkMu sync.Mutex
	mtime   time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval]. Non-positive values are
// ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a Watcher for it. It fails when the
// initial revision cannot be read or is invalid.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	rev, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.mtime, w.sum = rev.cfg, rev.mtime, rev.sum
	return w, nil
}

// Current returns the last valid revision.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.check(false); err != nil {
				slog.Warn("config reload rejected; keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Reload re-reads the file even if its mtime is unchanged. An invalid file
// is reported and leaves the current revision in place.
func (w *Watcher) Reload() error {
	return w.check(true)
}

type revision struct {
	cfg   *Config
	mtime time.Time
	sum   [sha256.Size]byte
}

func (w *Watcher) check(force bool) error {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return fmt.Errorf("config: stat %q: %w", w.path, err)
		}
		if info.ModTime().Equal(w.mtime) {
			return nil
		}
	}
	rev, err := w.read()
	if err != nil {
		return err
	}
	w.mtime = rev.mtime
	if rev.sum == w.sum {
		return nil
	}
	w.sum = rev.sum

	w.mu.Lock()
	old := w.current
	w.current = rev.cfg
	w.mu.Unlock()

	if Diff(old, rev.cfg).Empty() {
		slog.Debug("config file changed without effect", "path", w.path)
		return nil
	}
	slog.Info("configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, rev.cfg)
	}
	return nil
}

func (w *Watcher) read() (revision, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return revision{}, fmt.Errorf("config: read %q: %w", w.path, err)
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return revision{}, fmt.Errorf("config: stat %q: %w", w.path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return revision{}, err
	}
	return revision{cfg: cfg, mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
