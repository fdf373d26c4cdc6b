package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/npcvoice/internal/app"
	"github.com/MrWong99/npcvoice/internal/config"
	"github.com/MrWong99/npcvoice/internal/dialogue"
	"github.com/MrWong99/npcvoice/internal/observe"
	playbackmock "github.com/MrWong99/npcvoice/internal/playback/mock"
	"github.com/MrWong99/npcvoice/internal/voice/resolver"
	"github.com/MrWong99/npcvoice/internal/voice/settings"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
	ttsmock "github.com/MrWong99/npcvoice/pkg/provider/tts/mock"
)

// testConfig returns a config with HTTP disabled and one NPC routed to the
// male bucket.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: "off", LogLevel: config.LogInfo},
		Voices: config.VoicesConfig{RefreshInterval: -1},
		Playback: config.PlaybackConfig{
			Gap: time.Millisecond,
		},
		NPCs: []config.NPCConfig{
			{Name: "Greymantle", Bucket: "male", RequiredTags: []string{"old"}},
		},
	}
}

func testTTS() *ttsmock.Provider {
	return &ttsmock.Provider{
		SynthesizeChunks: [][]byte{make([]byte, 480)},
		ListVoicesResult: []tts.VoiceProfile{
			{ID: "v1", Name: "Old Sage"},
			{ID: "v2", Name: "Young Girl"},
		},
	}
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// newTestApp builds an App over a file store in a temp dir with mock TTS and
// a mock sink.
func newTestApp(t *testing.T, cfg *config.Config, p *ttsmock.Provider, opts ...app.Option) (*app.App, *settings.FileStore, *playbackmock.Sink) {
	t.Helper()
	store := settings.NewFileStore(filepath.Join(t.TempDir(), "settings.json"))
	sink := &playbackmock.Sink{}
	m, _ := newTestMetrics(t)

	var providers *app.Providers
	if p != nil {
		providers = &app.Providers{TTS: []app.NamedTTS{{Name: "mock", Provider: p}}}
	}
	base := []app.Option{
		app.WithSettingsStore(store),
		app.WithSink(sink),
		app.WithMetrics(m),
		app.WithResolverOptions(resolver.WithRand(func(int) int { return 0 })),
	}
	a, err := app.New(context.Background(), cfg, providers, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, store, sink
}

// sliceSource yields the given lines and then io.EOF.
type sliceSource struct {
	mu    sync.Mutex
	lines []dialogue.Line
}

func (s *sliceSource) Next(ctx context.Context) (dialogue.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return dialogue.Line{}, err
	}
	if len(s.lines) == 0 {
		return dialogue.Line{}, io.EOF
	}
	l := s.lines[0]
	s.lines = s.lines[1:]
	return l, nil
}

// ─── New ─────────────────────────────────────────────────────────────────────

func TestNew_AppliesNPCConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.NPCs = append(cfg.NPCs, config.NPCConfig{Name: "Tataru", Voice: "v2"})
	a, _, _ := newTestApp(t, cfg, nil)

	r := a.Resolver()
	overrides := r.ExactOverrides()
	if len(overrides) != 1 || overrides[0].VoiceID != "v2" {
		t.Errorf("exact overrides: got %+v", overrides)
	}
	p, ok := r.Profile("greymantle")
	if !ok || !p.RequiredTags.Contains("old") {
		t.Errorf("profile: got %+v, %v", p, ok)
	}
	if a.TTS() != nil {
		t.Error("expected nil TTS without providers")
	}
}

func TestNew_UnknownBucketIsIgnored(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.NPCs = []config.NPCConfig{{Name: "Bob", Bucket: "dragons"}}
	a, _, _ := newTestApp(t, cfg, nil)

	if _, step, err := a.Resolver().Resolve(context.Background(), "Bob", ""); err == nil && step == resolver.StepBucketOverride {
		t.Error("an unknown bucket must not become an override")
	}
}

func TestNew_LoadsPersistedSettings(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.json")
	store := settings.NewFileStore(path)
	doc := settings.Default()
	doc.Volume = 0.25
	if err := store.Save(context.Background(), doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	a, err := app.New(context.Background(), &config.Config{
		Server:  config.ServerConfig{ListenAddr: "off"},
		Storage: config.StorageConfig{Kind: config.StorageFile, Path: path},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if got := a.Resolver().Volume(); got != 0.25 {
		t.Errorf("volume: got %v, want 0.25", got)
	}
}

func TestNew_SQLiteStore(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), &config.Config{
		Server:  config.ServerConfig{ListenAddr: "off"},
		Storage: config.StorageConfig{Kind: config.StorageSQLite, Path: filepath.Join(t.TempDir(), "s.db")},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Save(context.Background()); err != nil {
		t.Errorf("Save: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

// ─── RefreshVoices ───────────────────────────────────────────────────────────

func TestRefreshVoices(t *testing.T) {
	t.Parallel()
	p := testTTS()
	a, store, _ := newTestApp(t, testConfig(), p)

	added, err := a.RefreshVoices(context.Background())
	if err != nil {
		t.Fatalf("RefreshVoices: %v", err)
	}
	if added != 2 {
		t.Errorf("added: got %d, want 2", added)
	}
	if got := len(a.Resolver().Voices()); got != 2 {
		t.Errorf("voices: got %d, want 2", got)
	}

	doc, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Catalogue) != 2 {
		t.Errorf("persisted catalogue: got %d entries, want 2", len(doc.Catalogue))
	}
}

func TestRefreshVoices_KeepsCatalogueOnFailure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		voices []tts.VoiceProfile
		err    error
	}{
		{name: "provider error", err: errors.New("503")},
		{name: "empty list"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := testTTS()
			a, _, _ := newTestApp(t, testConfig(), p)
			if _, err := a.RefreshVoices(context.Background()); err != nil {
				t.Fatalf("first refresh: %v", err)
			}

			p.SetListVoices(tt.voices, tt.err)
			if _, err := a.RefreshVoices(context.Background()); err == nil {
				t.Fatal("expected refresh error")
			}
			if got := len(a.Resolver().Voices()); got != 2 {
				t.Errorf("voices after failed refresh: got %d, want 2", got)
			}
		})
	}
}

func TestRefreshVoices_NoProvider(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestApp(t, testConfig(), nil)
	if _, err := a.RefreshVoices(context.Background()); !errors.Is(err, app.ErrNoProvider) {
		t.Errorf("expected ErrNoProvider, got %v", err)
	}
}

// ─── Speak ───────────────────────────────────────────────────────────────────

func TestSpeak(t *testing.T) {
	t.Parallel()
	p := testTTS()
	a, store, sink := newTestApp(t, testConfig(), p)
	ctx := context.Background()

	if _, err := a.RefreshVoices(ctx); err != nil {
		t.Fatalf("RefreshVoices: %v", err)
	}
	if _, err := a.Resolver().AddVoiceToBucket("male", "v1"); err != nil {
		t.Fatalf("AddVoiceToBucket: %v", err)
	}
	a.Resolver().SetVolume(0.5)

	u, err := a.Speak(ctx, dialogue.Line{NPC: "Greymantle", Text: "Well met."})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if u.VoiceID != "v1" || u.Step != resolver.StepBucketOverride.String() {
		t.Errorf("utterance: got %+v", u)
	}
	select {
	case err := <-u.Done:
		if err != nil {
			t.Fatalf("playback: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("clip was not played within 5s")
	}

	clips := sink.Clips()
	if len(clips) != 1 {
		t.Fatalf("clips: got %d, want 1", len(clips))
	}
	if clips[0].NPC != "Greymantle" || clips[0].Text != "Well met." || clips[0].Volume != 0.5 {
		t.Errorf("clip: got NPC=%q Text=%q Volume=%v", clips[0].NPC, clips[0].Text, clips[0].Volume)
	}

	// The sticky assignment was persisted.
	doc, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.AssignedVoices) != 1 {
		t.Errorf("persisted assignments: got %v", doc.AssignedVoices)
	}

	// Second line replays the sticky voice.
	u, err = a.Speak(ctx, dialogue.Line{NPC: "greymantle", Text: "Again."})
	if err != nil {
		t.Fatalf("second Speak: %v", err)
	}
	if u.Step != resolver.StepSticky.String() {
		t.Errorf("second step: got %q, want sticky", u.Step)
	}
}

func TestSpeak_Errors(t *testing.T) {
	t.Parallel()
	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		a, _, _ := newTestApp(t, testConfig(), testTTS())
		a.Resolver().SetEnabled(false)
		if _, err := a.Speak(context.Background(), dialogue.Line{NPC: "Bob"}); !errors.Is(err, app.ErrVoiceDisabled) {
			t.Errorf("expected ErrVoiceDisabled, got %v", err)
		}
	})
	t.Run("no provider", func(t *testing.T) {
		t.Parallel()
		a, _, _ := newTestApp(t, testConfig(), nil)
		if _, err := a.Speak(context.Background(), dialogue.Line{NPC: "Bob"}); !errors.Is(err, app.ErrNoProvider) {
			t.Errorf("expected ErrNoProvider, got %v", err)
		}
	})
	t.Run("no voice", func(t *testing.T) {
		t.Parallel()
		a, _, _ := newTestApp(t, testConfig(), testTTS())
		if _, err := a.Speak(context.Background(), dialogue.Line{NPC: "Bob"}); !errors.Is(err, resolver.ErrNoVoiceAvailable) {
			t.Errorf("expected ErrNoVoiceAvailable, got %v", err)
		}
	})
	t.Run("synthesis failure", func(t *testing.T) {
		t.Parallel()
		p := testTTS()
		p.SynthesizeErr = errors.New("quota exceeded")
		cfg := testConfig()
		cfg.NPCs = []config.NPCConfig{{Name: "Bob", Voice: "v1"}}
		a, _, sink := newTestApp(t, cfg, p)
		u, err := a.Speak(context.Background(), dialogue.Line{NPC: "Bob", Text: "hi"})
		if err == nil {
			t.Fatal("expected synthesis error")
		}
		if u.VoiceID != "v1" {
			t.Errorf("voice id should be reported on failure, got %q", u.VoiceID)
		}
		if len(sink.Clips()) != 0 {
			t.Error("nothing should be played")
		}
	})
}

// ─── Run ─────────────────────────────────────────────────────────────────────

func TestRun_SpeaksDialogueLines(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.NPCs = append(cfg.NPCs, config.NPCConfig{Name: "Tataru", Voice: "v2"})
	src := &sliceSource{lines: []dialogue.Line{
		{NPC: "Tataru", Text: "Hello!"},
		{NPC: "Tataru", Text: "Hello!"}, // duplicate
		{NPC: "Tataru", Text: "Goodbye!"},
	}}
	a, _, sink := newTestApp(t, cfg, testTTS(), app.WithSource(src))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for len(sink.Clips()) < 2 || len(a.Resolver().Voices()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 clips and 2 voices, got %d and %d", len(sink.Clips()), len(a.Resolver().Voices()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	clips := sink.Clips()
	if len(clips) != 2 || clips[0].Text != "Hello!" || clips[1].Text != "Goodbye!" {
		t.Errorf("clips: got %+v", clips)
	}
}

// ─── ApplyConfig ─────────────────────────────────────────────────────────────

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	old := testConfig()
	old.NPCs = []config.NPCConfig{{Name: "Bob", Voice: "v1"}, {Name: "Alice", Voice: "v2"}}
	lv := new(slog.LevelVar)
	a, store, _ := newTestApp(t, old, nil, app.WithLevel(lv))

	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.NPCs = []config.NPCConfig{{Name: "Bob", Voice: "v3"}}
	a.ApplyConfig(old, next)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level: got %v, want debug", lv.Level())
	}
	overrides := a.Resolver().ExactOverrides()
	if len(overrides) != 1 || overrides[0].NPC != "Bob" || overrides[0].VoiceID != "v3" {
		t.Errorf("exact overrides: got %+v", overrides)
	}

	doc, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.ExactOverrides) != 1 || doc.ExactOverrides[0].VoiceID != "v3" {
		t.Errorf("persisted overrides: got %+v", doc.ExactOverrides)
	}
}

func TestApplyConfig_KeepsUserProfiles(t *testing.T) {
	t.Parallel()
	old := testConfig()
	old.NPCs = []config.NPCConfig{{Name: "Bob", Voice: "v1"}}
	a, _, _ := newTestApp(t, old, nil)

	if err := a.Resolver().SetProfile("Bob", settings.Profile{Tone: "gruff"}); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	next := testConfig()
	next.NPCs = []config.NPCConfig{{Name: "Bob", Voice: "v2"}}
	a.ApplyConfig(old, next)

	if _, ok := a.Resolver().Profile("Bob"); !ok {
		t.Error("a profile the config never set must survive a reload")
	}
}

func TestApplyConfig_RestoresShadowedOverrides(t *testing.T) {
	t.Parallel()
	base := testConfig()
	a, _, _ := newTestApp(t, base, nil)
	r := a.Resolver()

	if err := r.SetExactOverride("Bob", "user-voice", false); err != nil {
		t.Fatalf("SetExactOverride: %v", err)
	}
	if err := r.SetBucketOverride("Bob", "woman"); err != nil {
		t.Fatalf("SetBucketOverride: %v", err)
	}

	withBob := testConfig()
	withBob.NPCs = append(withBob.NPCs, config.NPCConfig{Name: "Bob", Voice: "v1", Bucket: "machine"})
	a.ApplyConfig(base, withBob)
	if o, _ := r.ExactOverrideFor("Bob"); o.VoiceID != "v1" || !o.Enabled {
		t.Fatalf("config override not applied: %+v", o)
	}
	if b, _ := r.BucketOverride("Bob"); b != "machine" {
		t.Fatalf("config bucket not applied: %q", b)
	}

	// A second reload that keeps Bob must not lose the user's values.
	a.ApplyConfig(withBob, withBob)
	a.ApplyConfig(withBob, base)

	o, ok := r.ExactOverrideFor("Bob")
	if !ok || o.VoiceID != "user-voice" || o.Enabled {
		t.Errorf("exact override after removal: got %+v, %v; want disabled user-voice", o, ok)
	}
	if b, ok := r.BucketOverride("Bob"); !ok || b != "woman" {
		t.Errorf("bucket override after removal: got %q, %v; want woman", b, ok)
	}
}

func TestApplyConfig_RemovesOverrideLeftByEarlierRun(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.json")
	store := settings.NewFileStore(path)
	doc := settings.Default()
	doc.ExactOverrides = []settings.ExactOverride{{NPC: "Bob", VoiceID: "v1", Enabled: true}}
	if err := store.Save(context.Background(), doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	withBob := testConfig()
	withBob.NPCs = []config.NPCConfig{{Name: "Bob", Voice: "v1"}}
	a, _, _ := newTestApp(t, withBob, nil, app.WithSettingsStore(store))

	a.ApplyConfig(withBob, testConfig())
	if o, ok := a.Resolver().ExactOverrideFor("Bob"); ok {
		t.Errorf("override written by the config survived its removal: %+v", o)
	}
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

func TestHandler(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestApp(t, testConfig(), testTTS())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	get := func(path string) int {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := get("/healthz"); got != http.StatusOK {
		t.Errorf("/healthz: got %d, want 200", got)
	}
	if got := get("/readyz"); got != http.StatusServiceUnavailable {
		t.Errorf("/readyz before refresh: got %d, want 503", got)
	}
	if _, err := a.RefreshVoices(context.Background()); err != nil {
		t.Fatalf("RefreshVoices: %v", err)
	}
	if got := get("/readyz"); got != http.StatusOK {
		t.Errorf("/readyz after refresh: got %d, want 200", got)
	}
	if got := get("/metrics"); got != http.StatusOK {
		t.Errorf("/metrics: got %d, want 200", got)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

func TestShutdown_PersistsAndIsIdempotent(t *testing.T) {
	t.Parallel()
	a, store, _ := newTestApp(t, testConfig(), nil)
	a.Resolver().SetDefaultBucket("girl")

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	doc, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.DefaultBucket != "girl" {
		t.Errorf("default bucket: got %q, want girl", doc.DefaultBucket)
	}
}
