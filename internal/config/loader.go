package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/npcvoice/internal/voice/bucket"
	"github.com/MrWong99/npcvoice/internal/voice/settings"
)

// ValidProviderNames lists the TTS providers shipped with npcvoice.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"elevenlabs", "openai", "coqui"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// An empty document is a valid, all-defaults config. Provider API keys of the
// form "${VAR}" are expanded from the environment.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandSecrets(cfg *Config) {
	cfg.Providers.TTS.APIKey = os.ExpandEnv(cfg.Providers.TTS.APIKey)
	for i := range cfg.Providers.TTSFallbacks {
		cfg.Providers.TTSFallbacks[i].APIKey = os.ExpandEnv(cfg.Providers.TTSFallbacks[i].APIKey)
	}
	cfg.Storage.DSN = os.ExpandEnv(cfg.Storage.DSN)
	cfg.Playback.Discord.Token = os.ExpandEnv(cfg.Playback.Discord.Token)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.LogMaxSizeMB < 0 || cfg.Server.LogMaxBackups < 0 || cfg.Server.LogMaxAgeDays < 0 {
		errs = append(errs, errors.New("server: log rotation limits must not be negative"))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be between 0 and 1", r))
	}

	// Providers
	if cfg.Providers.TTS.Name == "" {
		if len(cfg.Providers.TTSFallbacks) > 0 {
			errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts to be configured"))
		} else {
			slog.Warn("no TTS provider configured; synthesis and voice refresh are unavailable")
		}
	} else {
		errs = append(errs, validateEntry("providers.tts", cfg.Providers.TTS)...)
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		prefix := fmt.Sprintf("providers.tts_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		errs = append(errs, validateEntry(prefix, fb)...)
	}

	// Storage
	switch cfg.Storage.Kind {
	case "", StorageFile:
	case StoragePostgres:
		if cfg.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required when storage.kind is postgres"))
		}
	case StorageSQLite:
		if cfg.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required when storage.kind is sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.kind %q is invalid; valid values: file, postgres, sqlite", cfg.Storage.Kind))
	}

	// Playback
	if cfg.Playback.Gap < 0 {
		errs = append(errs, fmt.Errorf("playback.gap %s must not be negative", cfg.Playback.Gap))
	}
	if cfg.Playback.SampleRate < 0 || (cfg.Playback.SampleRate > 0 && cfg.Playback.SampleRate < 8000) {
		errs = append(errs, fmt.Errorf("playback.sample_rate %d is out of range [8000, ...]", cfg.Playback.SampleRate))
	}
	if cfg.Playback.Channels < 0 || cfg.Playback.Channels > 2 {
		errs = append(errs, fmt.Errorf("playback.channels %d is invalid; valid values: 1, 2", cfg.Playback.Channels))
	}
	if d := cfg.Playback.Discord; d.Enabled() {
		if d.Token == "" || d.GuildID == "" || d.ChannelID == "" {
			errs = append(errs, errors.New("playback.discord needs token, guild_id and channel_id"))
		}
		if cfg.Playback.OutputDir != "" || cfg.Playback.Device != "" {
			slog.Warn("playback.discord is set; playback.device and playback.output_dir are ignored")
		}
	}
	if cfg.Playback.Device != "" && cfg.Playback.OutputDir != "" {
		slog.Warn("playback.output_dir is set; playback.device is ignored", "device", cfg.Playback.Device)
	}

	// NPC duplicate name detection
	npcNamesSeen := make(map[string]int, len(cfg.NPCs))

	// NPCs
	for i, npc := range cfg.NPCs {
		prefix := fmt.Sprintf("npcs[%d]", i)
		key := settings.FoldKey(npc.Name)
		if key == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := npcNamesSeen[key]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of npcs[%d]", prefix, npc.Name, prev))
			}
			npcNamesSeen[key] = i
		}
		if npc.Bucket != "" {
			if _, ok := bucket.CanonicalName(npc.Bucket); !ok {
				errs = append(errs, fmt.Errorf("%s.bucket must not be blank", prefix))
			}
		}
		if npc.Voice != "" && npc.Bucket != "" {
			slog.Warn("NPC has both an exact voice and a bucket; the exact voice wins",
				"npc", npc.Name,
				"voice", npc.Voice,
				"bucket", npc.Bucket,
			)
		}
	}

	return errors.Join(errs...)
}

// validateEntry checks a single provider entry and logs a warning for
// unknown provider names.
func validateEntry(prefix string, e ProviderEntry) []error {
	var errs []error
	if !slices.Contains(ValidProviderNames, e.Name) {
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"field", prefix,
			"name", e.Name,
			"known", ValidProviderNames,
		)
	}
	switch e.Name {
	case "coqui":
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for coqui", prefix))
		}
	case "elevenlabs", "openai":
		if strings.TrimSpace(e.APIKey) == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for %s", prefix, e.Name))
		}
	}
	return errs
}

// OptString extracts a string value from a provider Options map.
func OptString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprint(v)
	}
	return s
}

// OptFloat extracts a numeric value from a provider Options map. YAML integers
// and floats are both accepted.
func OptFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
