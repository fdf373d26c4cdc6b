package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/npcvoice/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  tts:
    name: coqui
    base_url: http://localhost:5002
npcs:
  - name: Watcher NPC
    bucket: machine
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  tts:
    name: coqui
    base_url: http://localhost:5002
npcs:
  - name: Updated NPC
    voice: v2
`

// Same settings as watcherValidYAML, different bytes.
const watcherCommentedYAML = `
# edited by hand
server:
  log_level: info
providers:
  tts:
    name: coqui
    base_url: http://localhost:5002
npcs:
  - name: Watcher NPC
    bucket: machine
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	// Some filesystems have coarse mtimes; push it forward so polls notice.
	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

type change struct{ old, new *config.Config }

// startWatcher writes content, starts a polling watcher and returns it with
// the channel receiving its callbacks.
func startWatcher(t *testing.T, content string, interval time.Duration) (*config.Watcher, string, <-chan change) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "npcvoice.yaml")
	writeFile(t, path, content)

	changes := make(chan change, 4)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		changes <- change{old, new}
	}, config.WithInterval(interval))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, path, changes
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _, _ := startWatcher(t, watcherValidYAML, time.Hour)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", got, config.LogInfo)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestWatcher_PollsChanges(t *testing.T) {
	t.Parallel()
	w, path, changes := startWatcher(t, watcherValidYAML, 20*time.Millisecond)

	writeFile(t, path, watcherUpdatedYAML)
	select {
	case c := <-changes:
		if c.old.Server.LogLevel != config.LogInfo || c.new.Server.LogLevel != config.LogDebug {
			t.Errorf("callback levels: old %q new %q", c.old.Server.LogLevel, c.new.Server.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("change not picked up")
	}
	if got := w.Current().NPCs[0].Name; got != "Updated NPC" {
		t.Errorf("Current npc: got %q", got)
	}
}

func TestWatcher_IgnoresIneffectiveEdits(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
	}{
		{name: "invalid", content: watcherInvalidYAML},
		{name: "comment only", content: watcherCommentedYAML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, path, changes := startWatcher(t, watcherValidYAML, 20*time.Millisecond)
			writeFile(t, path, tt.content)

			select {
			case c := <-changes:
				t.Errorf("unexpected callback: %+v", c.new.Server)
			case <-time.After(300 * time.Millisecond):
			}
			if got := w.Current().Server.LogLevel; got != config.LogInfo {
				t.Errorf("Current log_level: got %q, want %q", got, config.LogInfo)
			}
		})
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()
	w, path, changes := startWatcher(t, watcherValidYAML, time.Hour)

	writeFile(t, path, watcherInvalidYAML)
	if err := w.Reload(); err == nil {
		t.Fatal("expected Reload error for invalid config")
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("invalid reload replaced config: log_level=%q", got)
	}

	writeFile(t, path, watcherUpdatedYAML)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	select {
	case c := <-changes:
		if c.new.NPCs[0].Voice != "v2" {
			t.Errorf("callback npcs[0].voice: got %q, want v2", c.new.NPCs[0].Voice)
		}
	default:
		t.Fatal("Reload did not invoke the callback synchronously")
	}

	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	select {
	case <-changes:
		t.Error("callback fired for unchanged content")
	default:
	}
}

func TestWatcher_RunStopsWithContext(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "npcvoice.yaml")
	writeFile(t, path, watcherValidYAML)
	w, err := config.NewWatcher(path, nil, config.WithInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
