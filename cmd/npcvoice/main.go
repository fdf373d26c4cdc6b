// Command npcvoice voices game NPC dialogue with text-to-speech, keeping each
// NPC on a consistent voice across sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/npcvoice/internal/app"
	"github.com/MrWong99/npcvoice/internal/config"
	"github.com/MrWong99/npcvoice/internal/observe"
)

// Set via -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

const defaultConfigPath = "npcvoice.yaml"

var (
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:           "npcvoice",
	Short:         "Voice NPC dialogue with consistent text-to-speech voices",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "npcvoice %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", defaultConfigPath, "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "npcvoice: %v\n", err)
		os.Exit(1)
	}
}

// runtimeEnv is what every command gets from [setup].
type runtimeEnv struct {
	cfg    *config.Config
	level  *slog.LevelVar
	closer io.Closer
}

// setup loads the config and installs the default logger. A missing config
// file is only an error when --config was given explicitly.
func setup(cmd *cobra.Command) (*runtimeEnv, error) {
	cfg, err := config.Load(flagConfig)
	switch {
	case errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config"):
		cfg = &config.Config{}
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", flagConfig)
	case err != nil:
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(flagLogLevel)
	}
	eff := cfg.WithDefaults()

	level := new(slog.LevelVar)
	level.Set(observe.ParseLevel(string(eff.Server.LogLevel)))
	logger, closer, err := observe.NewLogger(observe.LogConfig{
		Level:      level,
		Format:     string(eff.Server.LogFormat),
		File:       eff.Server.LogFile,
		MaxSizeMB:  eff.Server.LogMaxSizeMB,
		MaxBackups: eff.Server.LogMaxBackups,
		MaxAgeDays: eff.Server.LogMaxAgeDays,
	})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return &runtimeEnv{cfg: cfg, level: level, closer: closer}, nil
}

// withApp runs fn against a fully wired App and shuts it down afterwards,
// persisting whatever fn changed.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.closer.Close()

	providers, err := buildProviders(env.cfg, newRegistry())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := app.New(ctx, env.cfg, providers, app.WithLevel(env.level))
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	if err := a.Shutdown(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
