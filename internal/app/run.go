package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/npcvoice/internal/config"
	"github.com/MrWong99/npcvoice/internal/dialogue"
	"github.com/MrWong99/npcvoice/internal/health"
	"github.com/MrWong99/npcvoice/internal/observe"
	"github.com/MrWong99/npcvoice/internal/playback"
	"github.com/MrWong99/npcvoice/internal/voice/registry"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
)

// ErrVoiceDisabled is returned by [App.Speak] while voicing is switched off
// in the voice settings.
var ErrVoiceDisabled = errors.New("app: voicing is disabled")

// Utterance is the outcome of [App.Speak] up to the point the clip was queued.
type Utterance struct {
	VoiceID string
	Step    string
	// Done receives the playback result once the clip finished or was dropped.
	Done <-chan error
}

// Speak resolves a voice for npc, synthesises text with it and queues the
// clip. Settings changed by the resolution (a new sticky assignment) are
// persisted before Speak returns.
func (a *App) Speak(ctx context.Context, line dialogue.Line) (Utterance, error) {
	if !a.resolver.Enabled() {
		return Utterance{}, ErrVoiceDisabled
	}
	if a.tts == nil {
		return Utterance{}, ErrNoProvider
	}
	id, step, err := a.resolver.Resolve(ctx, line.NPC, line.Text)
	if err != nil {
		return Utterance{}, err
	}
	if err := a.SaveIfDirty(ctx); err != nil {
		observe.Logger(ctx).Warn("failed to persist voice assignment", "npc", line.NPC, "err", err)
	}

	clip, err := a.Synthesize(ctx, id, line.Text)
	if err != nil {
		return Utterance{VoiceID: id, Step: step.String()}, err
	}
	clip.NPC = line.NPC
	clip.Priority = line.Priority

	q, err := a.player()
	if err != nil {
		return Utterance{VoiceID: id, Step: step.String()}, err
	}
	observe.Logger(ctx).Debug("line queued", "npc", line.NPC, "voice_id", id, "step", step.String())
	return Utterance{VoiceID: id, Step: step.String(), Done: q.Enqueue(clip)}, nil
}

// Synthesize renders text with voiceID through the failover chain. The
// returned clip carries the current volume.
func (a *App) Synthesize(ctx context.Context, voiceID, text string) (playback.Clip, error) {
	if a.tts == nil {
		return playback.Clip{}, ErrNoProvider
	}
	profile := tts.VoiceProfile{ID: voiceID}
	if v, ok := a.resolver.Voice(voiceID); ok {
		profile.Name = v.DisplayName
	}
	start := time.Now()
	au, err := a.tts.SynthesizeAudio(ctx, profile, text)
	if err != nil {
		return playback.Clip{}, fmt.Errorf("app: synthesize with voice %q: %w", voiceID, err)
	}
	a.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	return playback.Clip{VoiceID: voiceID, Text: text, Audio: au, Volume: a.resolver.Volume()}, nil
}

// Play queues clip and waits until it finished playing.
func (a *App) Play(ctx context.Context, clip playback.Clip) error {
	q, err := a.player()
	if err != nil {
		return err
	}
	select {
	case err := <-q.Enqueue(clip):
		return err
	case <-ctx.Done():
		q.Interrupt()
		return ctx.Err()
	}
}

// RefreshVoices fetches the provider's voice list and swaps it into the
// catalogue. On failure, or when the provider returns no voices, the previous
// catalogue stays in place. It returns the number of voices seen for the
// first time.
func (a *App) RefreshVoices(ctx context.Context) (int, error) {
	if a.tts == nil {
		return 0, ErrNoProvider
	}
	profiles, err := a.tts.ListVoices(ctx)
	if err == nil && len(profiles) == 0 {
		err = errors.New("provider returned no voices")
	}
	if err != nil {
		a.metrics.RecordCatalogueRefresh(ctx, "error", 0)
		return 0, fmt.Errorf("app: refresh voices: %w", err)
	}

	voices := make([]registry.Voice, 0, len(profiles))
	for _, p := range profiles {
		voices = append(voices, registry.Voice{ID: p.ID, DisplayName: p.Name, Hint: p.Hint()})
	}
	a.voicesMu.RLock()
	autoTag := a.voicesCfg.AutoTag
	a.voicesMu.RUnlock()

	added := a.resolver.ReplaceVoices(voices, autoTag)
	a.metrics.RecordCatalogueRefresh(ctx, "ok", len(voices))
	slog.Info("voice catalogue refreshed", "voices", len(voices), "new", added)

	if err := a.SaveIfDirty(ctx); err != nil {
		return added, err
	}
	return added, nil
}

// Save persists the current voice settings unconditionally.
func (a *App) Save(ctx context.Context) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	return a.saveLocked(ctx)
}

// SaveIfDirty persists the voice settings if they changed since the last save.
func (a *App) SaveIfDirty(ctx context.Context) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	if a.resolver.Version() == a.savedVersion {
		return nil
	}
	return a.saveLocked(ctx)
}

func (a *App) saveLocked(ctx context.Context) error {
	v := a.resolver.Version()
	if err := a.store.Save(ctx, a.resolver.Snapshot()); err != nil {
		return fmt.Errorf("app: save voice settings: %w", err)
	}
	a.savedVersion = v
	return nil
}

// ApplyConfig applies the hot-reloadable parts of a changed config file.
// Sections that need a restart are only logged.
func (a *App) ApplyConfig(old, next *config.Config) {
	oldD, nextD := old.WithDefaults(), next.WithDefaults()
	d := config.Diff(&oldD, &nextD)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(observe.ParseLevel(string(d.NewLogLevel)))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PlaybackChanged {
		a.mu.Lock()
		a.cfg.Playback.Gap = nextD.Playback.Gap
		a.cfg.Playback.InterruptPrevious = nextD.Playback.InterruptPrevious
		q := a.queue
		a.mu.Unlock()
		if q != nil {
			q.SetGap(nextD.Playback.Gap)
			q.SetInterruptPrevious(nextD.Playback.InterruptPrevious)
		}
		slog.Info("playback settings changed", "gap", nextD.Playback.Gap, "interrupt_previous", nextD.Playback.InterruptPrevious)
	}
	if d.VoicesChanged {
		a.voicesMu.Lock()
		prev := a.voicesCfg
		a.voicesCfg = nextD.Voices
		a.voicesMu.Unlock()
		if prev.RefreshInterval != nextD.Voices.RefreshInterval {
			select {
			case a.refreshCh <- struct{}{}:
			default:
			}
		}
		slog.Info("voice refresh settings changed", "refresh_interval", nextD.Voices.RefreshInterval, "auto_tag", nextD.Voices.AutoTag)
	}
	if d.NPCsChanged {
		for _, n := range oldD.NPCs {
			a.removeNPC(n)
		}
		for _, n := range nextD.NPCs {
			a.applyNPC(n)
		}
		slog.Info("NPC config reapplied", "changes", len(d.NPCChanges))
		if err := a.SaveIfDirty(context.Background()); err != nil {
			slog.Warn("failed to persist NPC config", "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// Handler returns the HTTP surface: health probes and the Prometheus
// /metrics endpoint, wrapped in the metrics middleware.
func (a *App) Handler() http.Handler {
	checkers := []health.Checker{
		health.Catalogue(func() int { return len(a.resolver.Voices()) }),
	}
	if a.tts != nil {
		checkers = append(checkers, health.Providers(a.tts.Status))
	}
	if a.pinger != nil {
		checkers = append(checkers, health.Store(a.pinger))
	}
	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// Run starts the catalogue refresh loop, the dialogue loop and, if enabled,
// the HTTP server. It blocks until ctx is cancelled or a loop fails. The end
// of the dialogue input does not stop Run.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.refreshLoop(ctx)
		return nil
	})
	g.Go(func() error {
		return a.dialogueLoop(ctx)
	})
	if a.cfg.Server.HTTPEnabled() {
		srv := &http.Server{
			Addr:              a.cfg.Server.ListenAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("npcvoice running", "voices", len(a.resolver.Voices()), "http", a.cfg.Server.HTTPEnabled())
	return g.Wait()
}

// refreshLoop refreshes the catalogue immediately and then on every tick of
// voices.refresh_interval. A non-positive interval refreshes only once.
func (a *App) refreshLoop(ctx context.Context) {
	if a.tts == nil {
		return
	}
	refresh := func() {
		if _, err := a.RefreshVoices(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("voice catalogue refresh failed; keeping previous catalogue", "err", err)
		}
	}
	refresh()
	for {
		a.voicesMu.RLock()
		interval := a.voicesCfg.RefreshInterval
		a.voicesMu.RUnlock()

		var (
			tick  <-chan time.Time
			timer *time.Timer
		)
		if interval > 0 {
			timer = time.NewTimer(interval)
			tick = timer.C
		}
		select {
		case <-ctx.Done():
		case <-a.refreshCh:
		case <-tick:
			refresh()
		}
		if timer != nil {
			timer.Stop()
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// dialogueLoop speaks every line from the dialogue source until ctx is
// cancelled. Reaching the end of the input parks the loop.
func (a *App) dialogueLoop(ctx context.Context) error {
	src, err := a.openSource()
	if err != nil {
		return err
	}
	dedup := dialogue.NewDeduper(a.cfg.Dialogue.DedupWindow)
	for {
		line, err := src.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			slog.Info("dialogue input ended")
			<-ctx.Done()
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			slog.Warn("skipping malformed dialogue line", "err", err)
			a.metrics.RecordDialogueLine(ctx, "skipped")
			continue
		}
		a.handleLine(ctx, dedup, line)
	}
}

func (a *App) handleLine(ctx context.Context, dedup *dialogue.Deduper, line dialogue.Line) {
	if dedup.Duplicate(line) {
		a.metrics.RecordDialogueLine(ctx, "duplicate")
		return
	}
	u, err := a.Speak(ctx, line)
	switch {
	case errors.Is(err, ErrVoiceDisabled):
		a.metrics.RecordDialogueLine(ctx, "skipped")
		return
	case err != nil:
		slog.Warn("failed to voice line", "npc", line.NPC, "voice_id", u.VoiceID, "err", err)
		a.metrics.RecordDialogueLine(ctx, "failed")
		return
	}
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		outcome := "spoken"
		if err := <-u.Done; err != nil && !errors.Is(err, playback.ErrInterrupted) {
			slog.Warn("playback failed", "npc", line.NPC, "voice_id", u.VoiceID, "err", err)
			outcome = "failed"
		}
		a.metrics.RecordDialogueLine(context.WithoutCancel(ctx), outcome)
	}()
}
