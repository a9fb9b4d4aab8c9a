// Package config loads, validates and watches the missiond configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 2

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the schema version, used for migrations.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Journal locates and replays the game journals.
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal" envPrefix:"JOURNAL_"`

	// Display selects the categories shown on the dashboard.
	Display DisplayConfig `toml:"display" json:"display" yaml:"display" envPrefix:"DISPLAY_"`

	// DebugMode logs at debug level and dumps typed stores before rollups.
	DebugMode bool `toml:"debug_mode" json:"debug_mode" yaml:"debug_mode" env:"DEBUG_MODE"`

	VersionCheck  VersionCheckConfig  `toml:"version_check" json:"version_check" yaml:"version_check" envPrefix:"VERSION_CHECK_"`
	Overlay       OverlayConfig       `toml:"overlay" json:"overlay" yaml:"overlay" envPrefix:"OVERLAY_"`
	Notifications NotificationsConfig `toml:"notifications" json:"notifications" yaml:"notifications" envPrefix:"NOTIFICATIONS_"`
	Storage       StorageConfig       `toml:"storage" json:"storage" yaml:"storage" envPrefix:"STORAGE_"`
	HTTP          HTTPConfig          `toml:"http" json:"http" yaml:"http" envPrefix:"HTTP_"`
	Logging       LoggingConfig       `toml:"logging" json:"logging" yaml:"logging" envPrefix:"LOG_"`
}

// JournalConfig holds journal discovery and replay settings.
type JournalConfig struct {
	// Dir is the game's journal directory.
	Dir string `toml:"dir" json:"dir" yaml:"dir" env:"DIR"`

	// ProcessWeeks is the history window replayed at startup.
	ProcessWeeks int `toml:"process_journal_weeks" json:"process_journal_weeks" yaml:"process_journal_weeks" env:"PROCESS_WEEKS"`

	// ValidateEvents checks consumed events against their JSON schemas.
	ValidateEvents bool `toml:"validate_events" json:"validate_events" yaml:"validate_events" env:"VALIDATE_EVENTS"`

	// RestoreActive seeds the active set from history until the game
	// reports its own mission list.
	RestoreActive bool `toml:"restore_active" json:"restore_active" yaml:"restore_active" env:"RESTORE_ACTIVE"`

	// PollIntervalMs is how often the live journal is re-read when no
	// file event arrives.
	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms" env:"POLL_INTERVAL_MS"`
}

// DisplayConfig holds per-category display toggles.
type DisplayConfig struct {
	Massacre bool `toml:"massacre" json:"massacre" yaml:"massacre" env:"MASSACRE"`
	Mining   bool `toml:"mining" json:"mining" yaml:"mining" env:"MINING"`
	Collect  bool `toml:"collect" json:"collect" yaml:"collect" env:"COLLECT"`
	Courier  bool `toml:"courier" json:"courier" yaml:"courier" env:"COURIER"`

	// RowTotal adds a totals row to each category.
	RowTotal bool `toml:"row_total" json:"row_total" yaml:"row_total" env:"ROW_TOTAL"`

	// RowStats adds expiry and reward-rate lines to each category.
	RowStats bool `toml:"row_stats" json:"row_stats" yaml:"row_stats" env:"ROW_STATS"`
}

// VersionCheckConfig holds the release check settings.
type VersionCheckConfig struct {
	Enabled     bool   `toml:"enabled" json:"enabled" yaml:"enabled" env:"ENABLED"`
	URL         string `toml:"url" json:"url" yaml:"url" env:"URL"`
	DownloadURL string `toml:"download_url" json:"download_url" yaml:"download_url" env:"DOWNLOAD_URL"`
	TimeoutSec  int    `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec" env:"TIMEOUT_SEC"`
}

// OverlayConfig holds the in-game overlay feed settings.
type OverlayConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled" env:"ENABLED"`

	// ListenAddr serves the overlay websocket when HTTP is disabled.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr" env:"LISTEN_ADDR"`

	// TTLSec is how long overlay lines stay on screen.
	TTLSec int `toml:"ttl_sec" json:"ttl_sec" yaml:"ttl_sec" env:"TTL_SEC"`
}

// NotificationsConfig holds desktop notification settings.
type NotificationsConfig struct {
	Enabled   bool `toml:"enabled" json:"enabled" yaml:"enabled" env:"ENABLED"`
	TimeoutMs int  `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms" env:"TIMEOUT_MS"`
}

// StorageConfig holds the mission archive settings.
type StorageConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled" env:"ENABLED"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path" env:"PATH"`

	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms" env:"BUSY_TIMEOUT_MS"`
}

// HTTPConfig holds the metrics, health and dashboard server settings.
type HTTPConfig struct {
	Enabled    bool   `toml:"enabled" json:"enabled" yaml:"enabled" env:"ENABLED"`
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr" env:"LISTEN_ADDR"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `toml:"level" json:"level" yaml:"level" env:"LEVEL"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format" env:"FORMAT"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output" env:"OUTPUT"`

	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path" env:"FILE"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress" env:"COMPRESS"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	dir := DataDir()
	return &Config{
		Version: Version,
		Journal: JournalConfig{
			Dir:            DefaultJournalDir(),
			ProcessWeeks:   4,
			ValidateEvents: true,
			RestoreActive:  true,
			PollIntervalMs: 1000,
		},
		Display: DisplayConfig{
			Massacre: true,
			Mining:   true,
			Collect:  true,
			Courier:  true,
			RowTotal: true,
			RowStats: true,
		},
		DebugMode: false,
		VersionCheck: VersionCheckConfig{
			Enabled:     true,
			URL:         DefaultVersionURL,
			DownloadURL: DefaultDownloadURL,
			TimeoutSec:  10,
		},
		Overlay: OverlayConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:8766",
			TTLSec:     5,
		},
		Notifications: NotificationsConfig{
			Enabled:   false,
			TimeoutMs: 8000,
		},
		Storage: StorageConfig{
			Enabled:       true,
			Path:          filepath.Join(dir, "missions.db"),
			BusyTimeoutMs: 5000,
		},
		HTTP: HTTPConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:8765",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(LogDir(), "missiond.log"),
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// Release feed defaults.
const (
	DefaultVersionURL  = "https://raw.githubusercontent.com/kaivalagi/EDMC-Missions/main/version"
	DefaultDownloadURL = "https://github.com/kaivalagi/EDMC-Missions/releases"
)

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads the configuration at path, falling back to defaults when the
// file does not exist. The format follows the file extension. Environment
// overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.Storage.Enabled {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// HistoryCutoff returns the start of the history window relative to now.
func (c *Config) HistoryCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -7*c.Journal.ProcessWeeks)
}

// PollInterval returns the live journal poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Journal.PollIntervalMs) * time.Millisecond
}

// OverlayTTL returns how long overlay lines are shown.
func (c *Config) OverlayTTL() time.Duration {
	return time.Duration(c.Overlay.TTLSec) * time.Second
}

// VersionCheckTimeout returns the release check timeout.
func (c *Config) VersionCheckTimeout() time.Duration {
	return time.Duration(c.VersionCheck.TimeoutSec) * time.Second
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	data, err := encodeToTOML(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

func decodeTOML(data []byte, cfg *Config) error {
	_, err := toml.Decode(string(data), cfg)
	return err
}
