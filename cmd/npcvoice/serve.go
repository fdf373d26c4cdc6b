package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/npcvoice/internal/app"
	"github.com/MrWong99/npcvoice/internal/config"
	"github.com/MrWong99/npcvoice/internal/observe"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Voice dialogue lines from the configured input until interrupted",
	Long: `Reads "NPC: text" lines (or JSON objects {"npc":..., "text":...}) from
dialogue.input, resolves a voice for every speaker and plays the synthesised
audio. The config file is watched (SIGHUP forces a re-read) and hot-reloadable
sections are applied without a restart.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.closer.Close()

	slog.Info("npcvoice starting",
		"version", version,
		"config", flagConfig,
		"listen_addr", env.cfg.Server.ListenAddr,
		"log_level", env.cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(cmd.Context(), observe.ProviderConfig{
		ServiceVersion: version,
		SampleRatio:    env.cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, err := buildProviders(env.cfg, newRegistry())
	if err != nil {
		return err
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cmd.ErrOrStderr(), env.cfg)

	application, err := app.New(ctx, env.cfg, providers, app.WithLevel(env.level))
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if _, statErr := os.Stat(flagConfig); statErr == nil {
		w, err := config.NewWatcher(flagConfig, application.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go w.Run(ctx)
			go reloadOnHangup(ctx, w)
		}
	}

	slog.Info("ready; press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

func printStartupSummary(w io.Writer, cfg *config.Config) {
	eff := cfg.WithDefaults()
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        npcvoice: startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "TTS", providerLabel(eff.Providers.TTS))
	printRow(w, "Fallbacks", fmt.Sprint(len(eff.Providers.TTSFallbacks)))
	printRow(w, "Storage", string(eff.Storage.Kind))
	output := eff.Playback.Device
	switch {
	case eff.Playback.Discord.Enabled():
		output = "discord:" + eff.Playback.Discord.ChannelID
	case eff.Playback.OutputDir != "":
		output = eff.Playback.OutputDir
	case output == "":
		output = "(default device)"
	}
	printRow(w, "Output", output)
	printRow(w, "Input", eff.Dialogue.Input)
	printRow(w, "NPCs", fmt.Sprint(len(eff.NPCs)))
	if eff.Server.HTTPEnabled() {
		printRow(w, "Listen addr", eff.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

func printRow(w io.Writer, key, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", key, value)
}

// reloadOnHangup forces a config reload on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := w.Reload(); err != nil {
				slog.Warn("config reload rejected; keeping previous config", "err", err)
			}
		}
	}
}
