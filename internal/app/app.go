// Package app wires the npcvoice subsystems into a running service.
//
// The App struct owns the full lifecycle: New opens the settings store, builds
// the resolver and the TTS failover chain, Run executes the dialogue, refresh
// and HTTP loops, and Shutdown persists the voice settings and tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithSettingsStore,
// WithSink, WithSource, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/npcvoice/internal/config"
	"github.com/MrWong99/npcvoice/internal/dialogue"
	"github.com/MrWong99/npcvoice/internal/observe"
	"github.com/MrWong99/npcvoice/internal/playback"
	discordsink "github.com/MrWong99/npcvoice/internal/playback/discord"
	"github.com/MrWong99/npcvoice/internal/resilience"
	"github.com/MrWong99/npcvoice/internal/voice/bucket"
	"github.com/MrWong99/npcvoice/internal/voice/resolver"
	"github.com/MrWong99/npcvoice/internal/voice/settings"
	"github.com/MrWong99/npcvoice/internal/voice/settings/postgres"
	"github.com/MrWong99/npcvoice/internal/voice/settings/sqlite"
	"github.com/MrWong99/npcvoice/internal/voice/tag"
	"github.com/MrWong99/npcvoice/pkg/audio"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
)

// ErrNoProvider is returned by operations that need a TTS provider when none
// is configured.
var ErrNoProvider = errors.New("app: no tts provider configured")

// NamedTTS is one configured TTS backend.
type NamedTTS struct {
	Name     string
	Provider tts.Provider
}

// Providers holds the TTS backends in failover order: the primary first.
// Populated by main.go via the config registry. Empty means synthesis and
// catalogue refresh are unavailable.
type Providers struct {
	TTS []NamedTTS
}

// App owns all subsystem lifetimes and runs the NPC voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store    settings.Store
	resolver *resolver.Resolver
	tts      *resilience.TTSFallback
	metrics  *observe.Metrics
	level    *slog.LevelVar
	pinger   func(context.Context) error

	resolverOpts []resolver.Option

	// Playback and input are opened lazily so that CLI commands which only
	// edit settings never touch an audio device or stdin. mu guards them
	// together with closers and cfg.Playback.
	mu     sync.Mutex
	sink   playback.Sink
	source dialogue.Source
	queue  *playback.Queue

	// voicesMu guards voicesCfg, which hot-reload may replace.
	voicesMu  sync.RWMutex
	voicesCfg config.VoicesConfig
	refreshCh chan struct{}

	saveMu       sync.Mutex
	savedVersion uint64

	// npcMu guards shadowed: the overrides that config NPC entries replaced,
	// restored when the entry leaves the config.
	npcMu    sync.Mutex
	shadowed map[resolver.NPCKey]shadowedNPC

	pending sync.WaitGroup

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSettingsStore injects a settings store instead of opening one from config.
func WithSettingsStore(s settings.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSink injects an audio sink instead of opening a device from config.
func WithSink(s playback.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithSource injects a dialogue source instead of reading dialogue.input.
func WithSource(s dialogue.Source) Option {
	return func(a *App) { a.source = s }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevel lets hot-reloaded log levels take effect on the logger built
// around lv.
func WithLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithResolverOptions passes extra options to the resolver, such as a
// deterministic random source in tests.
func WithResolverOptions(opts ...resolver.Option) Option {
	return func(a *App) { a.resolverOpts = append(a.resolverOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry); it may be nil.
//
// New opens the settings store, loads and migrates the voice settings, applies
// the config's NPC entries and builds the TTS failover chain. It does not
// contact the TTS provider; call [App.RefreshVoices] or [App.Run] for that.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	withDefaults := cfg.WithDefaults()
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       &withDefaults,
		providers: providers,
		voicesCfg: withDefaults.Voices,
		refreshCh: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Settings store ────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init settings store: %w", err)
	}

	// ── 2. Resolver ──────────────────────────────────────────────────────
	doc, err := settings.LoadOrDefault(ctx, a.store)
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: load voice settings: %w", err)
	}
	a.resolver = resolver.New(doc, append([]resolver.Option{resolver.WithMetrics(a.metrics)}, a.resolverOpts...)...)
	a.savedVersion = a.resolver.Version()
	slog.Info("voice settings loaded",
		"voices", len(doc.Catalogue),
		"exact_overrides", len(doc.ExactOverrides),
		"assignments", len(doc.AssignedVoices),
	)

	// ── 3. NPC entries from the config file ──────────────────────────────
	for _, npc := range a.cfg.NPCs {
		a.applyNPC(npc)
	}

	// ── 4. TTS failover chain ────────────────────────────────────────────
	a.initTTS()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured settings backend unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	sc := a.cfg.Storage
	switch sc.Kind {
	case config.StorageFile:
		a.store = settings.NewFileStore(sc.Path)
	case config.StorageSQLite:
		s, err := sqlite.Open(ctx, sc.Path, sc.Profile)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, sc.DSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		s := postgres.New(pool, sc.Profile)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return err
		}
		a.store = s
		a.pinger = pool.Ping
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
	default:
		return fmt.Errorf("unknown storage kind %q", sc.Kind)
	}
	slog.Debug("settings store ready", "kind", sc.Kind)
	return nil
}

// initTTS wraps the configured providers in a failover chain whose attempts
// are counted in the provider metrics.
func (a *App) initTTS() {
	if len(a.providers.TTS) == 0 {
		slog.Warn("no TTS provider configured; lines are resolved but not spoken")
		return
	}
	cfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Info("tts provider state changed", "provider", name, "from", from, "to", to)
			},
		},
		OnAttempt: func(ctx context.Context, name string, err error) {
			status := "ok"
			if err != nil {
				status = "error"
				a.metrics.RecordProviderError(ctx, name, "tts")
			}
			a.metrics.RecordProviderRequest(ctx, name, "tts", status)
		},
	}
	primary := a.providers.TTS[0]
	a.tts = resilience.NewTTSFallback(primary.Provider, primary.Name, cfg)
	for _, fb := range a.providers.TTS[1:] {
		a.tts.AddFallback(fb.Name, fb.Provider)
	}
}

// player returns the playback queue, opening the sink on first use.
func (a *App) player() (*playback.Queue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.queue != nil {
		return a.queue, nil
	}
	if a.sink == nil {
		sink, closer, err := a.openSink()
		if err != nil {
			return nil, fmt.Errorf("app: open audio output: %w", err)
		}
		a.sink = sink
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}
	a.queue = playback.NewQueue(a.sink,
		playback.WithGap(a.cfg.Playback.Gap),
		playback.WithInterruptPrevious(a.cfg.Playback.InterruptPrevious),
		playback.WithMetrics(a.metrics),
	)
	return a.queue, nil
}

// activeQueue returns the playback queue if it has been opened.
func (a *App) activeQueue() *playback.Queue {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue
}

func (a *App) openSink() (playback.Sink, func() error, error) {
	pc := a.cfg.Playback
	format := audio.Format{SampleRate: pc.SampleRate, Channels: pc.Channels}
	if pc.Discord.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		d, err := discordsink.Open(ctx, discordsink.Config{
			Token:     pc.Discord.Token,
			GuildID:   pc.Discord.GuildID,
			ChannelID: pc.Discord.ChannelID,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	}
	if pc.OutputDir != "" {
		w, err := playback.NewWAVDir(pc.OutputDir, format)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("writing clips to directory", "dir", pc.OutputDir)
		return w, nil, nil
	}
	d, err := playback.OpenDevice(pc.Device, format)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("audio device opened", "device", pc.Device, "format", format.String())
	return d, d.Close, nil
}

// openSource returns the dialogue source, opening dialogue.input if none
// was injected.
func (a *App) openSource() (dialogue.Source, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.source != nil {
		return a.source, nil
	}
	in := a.cfg.Dialogue.Input
	if in == "-" {
		a.source = dialogue.NewLineReader(os.Stdin)
		return a.source, nil
	}
	f, err := os.Open(in)
	if err != nil {
		return nil, fmt.Errorf("app: open dialogue input: %w", err)
	}
	lr := dialogue.NewLineReader(f)
	a.source = lr
	a.closers = append(a.closers, func() error {
		lr.Close()
		return f.Close()
	})
	return lr, nil
}

// shadowedNPC holds the overrides a config NPC entry replaced.
type shadowedNPC struct {
	exact     *resolver.ExactOverride
	bucket    string
	hasBucket bool
}

// applyNPC layers one config NPC entry over the persisted settings. Values
// it replaces are kept so removeNPC can put them back. A stored value equal
// to the config's is taken as left over from an earlier run and not kept.
func (a *App) applyNPC(npc config.NPCConfig) {
	var prev shadowedNPC
	if npc.Voice != "" {
		if o, ok := a.resolver.ExactOverrideFor(npc.Name); ok && (o.VoiceID != strings.TrimSpace(npc.Voice) || !o.Enabled) {
			prev.exact = &o
		}
		if err := a.resolver.SetExactOverride(npc.Name, npc.Voice, true); err != nil {
			slog.Warn("ignoring NPC voice from config", "npc", npc.Name, "err", err)
		}
	}
	if npc.Bucket != "" {
		want, _ := bucket.CanonicalName(npc.Bucket)
		if b, ok := a.resolver.BucketOverride(npc.Name); ok && b != want {
			prev.bucket, prev.hasBucket = b, true
		}
		if err := a.resolver.SetBucketOverride(npc.Name, npc.Bucket); err != nil {
			slog.Warn("ignoring NPC bucket from config", "npc", npc.Name, "err", err)
		}
	}
	if profile := npcProfile(npc); !profile.IsZero() {
		if err := a.resolver.SetProfile(npc.Name, profile); err != nil {
			slog.Warn("ignoring NPC profile from config", "npc", npc.Name, "err", err)
		}
	}

	if prev.exact == nil && !prev.hasBucket {
		return
	}
	a.npcMu.Lock()
	defer a.npcMu.Unlock()
	if a.shadowed == nil {
		a.shadowed = make(map[resolver.NPCKey]shadowedNPC)
	}
	if _, ok := a.shadowed[resolver.NewNPCKey(npc.Name)]; !ok {
		a.shadowed[resolver.NewNPCKey(npc.Name)] = prev
	}
}

// removeNPC undoes what applyNPC set for an entry that left the config,
// restoring the overrides the entry had replaced.
func (a *App) removeNPC(npc config.NPCConfig) {
	key := resolver.NewNPCKey(npc.Name)
	a.npcMu.Lock()
	prev := a.shadowed[key]
	delete(a.shadowed, key)
	a.npcMu.Unlock()

	if npc.Voice != "" {
		if prev.exact != nil {
			_ = a.resolver.SetExactOverride(prev.exact.NPC, prev.exact.VoiceID, prev.exact.Enabled)
		} else {
			a.resolver.RemoveExactOverride(npc.Name)
		}
	}
	if npc.Bucket != "" {
		restored := prev.hasBucket && a.resolver.SetBucketOverride(npc.Name, prev.bucket) == nil
		if !restored {
			a.resolver.RemoveBucketOverride(npc.Name)
		}
	}
	if !npcProfile(npc).IsZero() {
		_ = a.resolver.SetProfile(npc.Name, settings.Profile{})
	}
}

func npcProfile(npc config.NPCConfig) settings.Profile {
	return settings.Profile{
		RequiredTags:  tag.NewSet(npc.RequiredTags...),
		PreferredTags: tag.NewSet(npc.PreferredTags...),
		Tone:          tag.Normalize(npc.Tone),
		Accent:        tag.Normalize(npc.Accent),
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the effective config with defaults applied.
func (a *App) Config() *config.Config { return a.cfg }

// Resolver returns the voice resolver holding the voice settings.
func (a *App) Resolver() *resolver.Resolver { return a.resolver }

// TTS returns the failover TTS chain, or nil when no provider is configured.
func (a *App) TTS() *resilience.TTSFallback { return a.tts }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops playback, persists unsaved voice settings and closes all
// subsystems. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop playback first so no clip outlives the process.
		if q := a.activeQueue(); q != nil {
			if err := q.Close(); err != nil {
				slog.Warn("playback queue close error", "err", err)
			}
		}
		waitTimeout(&a.pending, time.Second)

		if err := a.SaveIfDirty(ctx); err != nil {
			slog.Error("failed to persist voice settings", "err", err)
			shutdownErr = err
		}

		a.mu.Lock()
		closers := a.closers
		a.mu.Unlock()
		for i, closer := range closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases whatever New had opened before it failed.
func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
}

// waitTimeout waits for wg, giving up after d.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
	}
}
