package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/npcvoice/internal/app"
	"github.com/MrWong99/npcvoice/internal/config"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
	"github.com/MrWong99/npcvoice/pkg/provider/tts/coqui"
	"github.com/MrWong99/npcvoice/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/npcvoice/pkg/provider/tts/openai"
)

func newRegistry() *config.Registry {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	return reg
}

// registerBuiltinProviders wires all built-in TTS factories into reg. Each
// factory receives a config.ProviderEntry and constructs the provider from
// the real implementation package.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := config.OptString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		stability, okS := config.OptFloat(entry.Options, "stability")
		similarity, okB := config.OptFloat(entry.Options, "similarity_boost")
		if okS || okB {
			if !okS {
				stability = 0.5
			}
			if !okB {
				similarity = 0.75
			}
			opts = append(opts, elevenlabs.WithVoiceSettings(stability, similarity))
		}
		if entry.BaseURL != "" {
			ws := config.OptString(entry.Options, "ws_base_url")
			if ws == "" {
				// http://host -> ws://host, https://host -> wss://host
				ws = "ws" + strings.TrimPrefix(entry.BaseURL, "http")
			}
			opts = append(opts, elevenlabs.WithBaseURLs(ws, entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if f := config.OptString(entry.Options, "response_format"); f != "" {
			opts = append(opts, openai.WithResponseFormat(f))
		}
		if org := config.OptString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if s := config.OptString(entry.Options, "instructions"); s != "" {
			opts = append(opts, openai.WithInstructions(s))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		if n, ok := config.OptFloat(entry.Options, "max_retries"); ok {
			opts = append(opts, openai.WithMaxRetries(int(n)))
		}
		return openai.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := config.OptString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if rate, ok := config.OptFloat(entry.Options, "sample_rate"); ok {
			opts = append(opts, coqui.WithOutputSampleRate(int(rate)))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for _, name := range reg.TTSNames() {
		slog.Debug("registered provider", "kind", "tts", "name", name)
	}
}

// buildProviders instantiates the primary TTS provider and its fallbacks in
// order. A provider name the registry does not know is skipped with a warning.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	if cfg.Providers.TTS.Name == "" {
		return ps, nil
	}
	entries := append([]config.ProviderEntry{cfg.Providers.TTS}, cfg.Providers.TTSFallbacks...)
	for _, entry := range entries {
		p, err := reg.CreateTTS(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown tts provider; skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		ps.TTS = append(ps.TTS, app.NamedTTS{Name: entry.Name, Provider: p})
		slog.Debug("provider created", "kind", "tts", "name", entry.Name, "model", entry.Model)
	}
	return ps, nil
}

// optDuration reads a duration option given either as a Go duration string
// ("20s") or as a number of seconds.
func optDuration(opts map[string]any, key string) time.Duration {
	if secs, ok := config.OptFloat(opts, key); ok {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(config.OptString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
