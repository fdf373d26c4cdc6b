// Package config provides the configuration schema, loader, and provider registry
// for the npcvoice service.
package config

import "time"

// LogLevel controls log verbosity for the npcvoice service.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the console log handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// StorageKind selects the backend holding the voice settings document.
type StorageKind string

const (
	// StorageFile keeps the settings as a JSON file on disk.
	StorageFile StorageKind = "file"

	// StoragePostgres keeps the settings in a PostgreSQL table.
	StoragePostgres StorageKind = "postgres"

	// StorageSQLite keeps the settings in an embedded SQLite database.
	StorageSQLite StorageKind = "sqlite"
)

// IsValid reports whether k is a recognised storage kind.
func (k StorageKind) IsValid() bool {
	switch k {
	case StorageFile, StoragePostgres, StorageSQLite:
		return true
	}
	return false
}

// Defaults applied by [Config.WithDefaults].
const (
	DefaultListenAddr      = ":8085"
	DefaultSettingsPath    = "npcvoice-settings.json"
	DefaultRefreshInterval = 30 * time.Minute
	DefaultGap             = 300 * time.Millisecond
	DefaultSampleRate      = 22050
	DefaultChannels        = 1
	DefaultDedupWindow     = 5 * time.Second
)

// Config is the root configuration structure for npcvoice.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Voices    VoicesConfig    `yaml:"voices"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Dialogue  DialogueConfig  `yaml:"dialogue"`
	NPCs      []NPCConfig     `yaml:"npcs"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics
	// (e.g., ":8085"). Set to "off" to disable the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Changes are applied without restart.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat is "text" (default) or "json".
	LogFormat LogFormat `yaml:"log_format"`

	// LogFile, when set, additionally writes logs to a rotated file.
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`

	// TraceSampleRatio is the fraction of traces sampled. Zero means all.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// HTTPEnabled reports whether the health and metrics server should run.
func (s ServerConfig) HTTPEnabled() bool {
	return s.ListenAddr != "off"
}

// ProvidersConfig selects the TTS backends. The primary is tried first; the
// fallbacks are tried in order when it fails or its circuit breaker is open.
type ProvidersConfig struct {
	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the configuration for a single TTS provider.
type ProviderEntry struct {
	// Name is the registered factory name (e.g., "elevenlabs", "openai", "coqui").
	Name string `yaml:"name"`

	// APIKey authenticates against cloud providers. Values of the form
	// "${ENV_VAR}" are expanded from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint. Required for coqui.
	BaseURL string `yaml:"base_url"`

	// Model selects a provider model (e.g., "eleven_flash_v2_5", "tts-1").
	Model string `yaml:"model"`

	// Options holds provider-specific settings such as "output_format",
	// "api_mode" or "language".
	Options map[string]any `yaml:"options"`
}

// StorageConfig selects where the voice settings document lives.
type StorageConfig struct {
	// Kind is "file" (default), "postgres" or "sqlite".
	Kind StorageKind `yaml:"kind"`

	// Path is the JSON file (file) or database file (sqlite).
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string (postgres).
	DSN string `yaml:"dsn"`

	// Profile names the settings row in database backends, so several
	// installations can share one database. Default: "default".
	Profile string `yaml:"profile"`
}

// VoicesConfig controls the voice catalogue.
type VoicesConfig struct {
	// RefreshInterval is the period between catalogue refreshes. Zero uses
	// [DefaultRefreshInterval]; a negative value disables periodic refresh.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// AutoTag fills tags, tone and accent of new voices from their names.
	AutoTag bool `yaml:"auto_tag"`
}

// PlaybackConfig configures the audio output.
type PlaybackConfig struct {
	// Device is a case-insensitive substring of the output device name.
	// Empty selects the system default device.
	Device string `yaml:"device"`

	// OutputDir, when set, writes every clip as a WAV file into this directory
	// instead of playing it on a device.
	OutputDir string `yaml:"output_dir"`

	// Gap is the pause between two consecutive clips.
	Gap time.Duration `yaml:"gap"`

	// InterruptPrevious cuts off the clip currently playing when a new line
	// arrives.
	InterruptPrevious bool `yaml:"interrupt_previous"`

	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// Discord, when configured, streams clips into a Discord voice channel
	// instead of a local device.
	Discord DiscordConfig `yaml:"discord"`
}

// DiscordConfig names the voice channel a bot joins to play clips.
type DiscordConfig struct {
	// Token is the bot token. Supports ${ENV} expansion.
	Token     string `yaml:"token"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether any Discord field is set.
func (d DiscordConfig) Enabled() bool {
	return d.Token != "" || d.GuildID != "" || d.ChannelID != ""
}

// DialogueConfig configures the dialogue line source.
type DialogueConfig struct {
	// Input is a file or named pipe to read lines from, or "-" for stdin.
	Input string `yaml:"input"`

	// DedupWindow suppresses repeats of the same line within the window.
	// Negative disables deduplication.
	DedupWindow time.Duration `yaml:"dedup_window"`
}

// NPCConfig pins the voice choice of one NPC from the config file. The
// entries are applied on top of the persisted voice settings at startup and
// on every reload.
type NPCConfig struct {
	// Name is the NPC's display name as it appears in dialogue lines.
	Name string `yaml:"name"`

	// Voice is an exact voice id override.
	Voice string `yaml:"voice"`

	// Bucket forces the NPC into a voice bucket.
	Bucket string `yaml:"bucket"`

	// RequiredTags narrows candidate voices to those carrying all tags.
	RequiredTags []string `yaml:"required_tags"`

	// PreferredTags further narrows to voices carrying any of these tags.
	PreferredTags []string `yaml:"preferred_tags"`

	Tone   string `yaml:"tone"`
	Accent string `yaml:"accent"`
}

// WithDefaults returns a copy of c with empty fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = LogFormatText
	}
	if c.Storage.Kind == "" {
		c.Storage.Kind = StorageFile
	}
	if c.Storage.Kind == StorageFile && c.Storage.Path == "" {
		c.Storage.Path = DefaultSettingsPath
	}
	if c.Storage.Profile == "" {
		c.Storage.Profile = "default"
	}
	if c.Voices.RefreshInterval == 0 {
		c.Voices.RefreshInterval = DefaultRefreshInterval
	}
	if c.Playback.Gap == 0 {
		c.Playback.Gap = DefaultGap
	}
	if c.Playback.SampleRate == 0 {
		c.Playback.SampleRate = DefaultSampleRate
	}
	if c.Playback.Channels == 0 {
		c.Playback.Channels = DefaultChannels
	}
	if c.Dialogue.Input == "" {
		c.Dialogue.Input = "-"
	}
	if c.Dialogue.DedupWindow == 0 {
		c.Dialogue.DedupWindow = DefaultDedupWindow
	}
	return c
}
