package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// MigrationResult contains the result of a configuration migration.
type MigrationResult struct {
	FromVersion int      `json:"from_version"`
	ToVersion   int      `json:"to_version"`
	Backup      string   `json:"backup,omitempty"`
	Changes     []string `json:"changes,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// MigrateConfig upgrades cfg in place to the current version. When
// configPath names an existing file it is backed up first. A current
// configuration returns a nil result.
func MigrateConfig(cfg *Config, configPath string) (*MigrationResult, error) {
	if cfg.Version >= Version {
		return nil, nil
	}

	result := &MigrationResult{
		FromVersion: cfg.Version,
		ToVersion:   Version,
	}

	if configPath != "" {
		backup, err := backupConfig(configPath)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not create backup: %v", err))
		} else {
			result.Backup = backup
		}
	}

	for cfg.Version < Version {
		changes, warnings, err := applyMigration(cfg)
		if err != nil {
			return result, fmt.Errorf("migration from v%d to v%d failed: %w", cfg.Version, cfg.Version+1, err)
		}
		result.Changes = append(result.Changes, changes...)
		result.Warnings = append(result.Warnings, warnings...)
	}
	return result, nil
}

func applyMigration(cfg *Config) (changes []string, warnings []string, err error) {
	switch cfg.Version {
	case 0, 1:
		changes, warnings = migrateV1ToV2(cfg)
	default:
		return nil, nil, fmt.Errorf("unknown version %d", cfg.Version)
	}
	cfg.Version = 2
	return changes, warnings, nil
}

// migrateV1ToV2 fills the settings v2 introduced: event validation, the
// live poll interval, the mission archive and the HTTP server.
func migrateV1ToV2(cfg *Config) (changes []string, warnings []string) {
	def := DefaultConfig()

	if cfg.Journal.PollIntervalMs <= 0 {
		cfg.Journal.PollIntervalMs = def.Journal.PollIntervalMs
		changes = append(changes, "set default journal.poll_interval_ms")
	}
	if !cfg.Journal.ValidateEvents {
		cfg.Journal.ValidateEvents = true
		changes = append(changes, "enabled journal.validate_events")
	}
	if cfg.Storage.Path == "" {
		cfg.Storage = def.Storage
		changes = append(changes, "set default storage section")
	}
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP = def.HTTP
		changes = append(changes, "set default http section")
	}
	if cfg.Journal.ProcessWeeks > 52 {
		cfg.Journal.ProcessWeeks = 52
		warnings = append(warnings, "journal.process_journal_weeks clamped to 52")
	}
	return changes, warnings
}

func backupConfig(configPath string) (string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}

	backupPath := configPath + ".backup-" + time.Now().Format("20060102-150405")
	if err := os.WriteFile(backupPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return backupPath, nil
}

// legacyKeys are the flat settings written by the desktop plugin.
var legacyKeys = []string{
	"display_missions_massacre",
	"display_missions_mining",
	"display_missions_collect",
	"display_missions_courier",
	"display_row_total",
	"display_row_stats",
	"version_check_enabled",
	"debug_mode_enabled",
	"overlay_enabled",
	"overlay_ttl",
	"process_journal_weeks",
}

// IsLegacyConfig reports whether data holds the flat desktop plugin settings.
func IsLegacyConfig(data map[string]any) bool {
	for _, k := range legacyKeys {
		if _, ok := data[k]; ok {
			return true
		}
	}
	return false
}

// MigrateLegacyConfig converts the flat desktop plugin settings to a
// current configuration. The plugin stored booleans as 0/1 or as strings,
// so both are accepted. Unknown keys are ignored.
func MigrateLegacyConfig(data map[string]any) (*Config, error) {
	cfg := DefaultConfig()

	bools := map[string]*bool{
		"display_missions_massacre": &cfg.Display.Massacre,
		"display_missions_mining":   &cfg.Display.Mining,
		"display_missions_collect":  &cfg.Display.Collect,
		"display_missions_courier":  &cfg.Display.Courier,
		"display_row_total":         &cfg.Display.RowTotal,
		"display_row_stats":         &cfg.Display.RowStats,
		"version_check_enabled":     &cfg.VersionCheck.Enabled,
		"debug_mode_enabled":        &cfg.DebugMode,
		"overlay_enabled":           &cfg.Overlay.Enabled,
	}
	for key, dst := range bools {
		v, ok := data[key]
		if !ok {
			continue
		}
		b, err := legacyBool(v)
		if err != nil {
			return nil, fmt.Errorf("legacy %s: %w", key, err)
		}
		*dst = b
	}

	ints := map[string]*int{
		"overlay_ttl":           &cfg.Overlay.TTLSec,
		"process_journal_weeks": &cfg.Journal.ProcessWeeks,
	}
	for key, dst := range ints {
		v, ok := data[key]
		if !ok {
			continue
		}
		n, err := legacyInt(v)
		if err != nil {
			return nil, fmt.Errorf("legacy %s: %w", key, err)
		}
		*dst = n
	}

	if dir, ok := data["journal_dir"].(string); ok && dir != "" {
		cfg.Journal.Dir = dir
	}
	return cfg, nil
}

func legacyBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case float64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case string:
		if t == "" {
			return false, nil
		}
		return strconv.ParseBool(t)
	}
	return false, fmt.Errorf("unsupported value %v", v)
}

func legacyInt(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case int:
		return t, nil
	case string:
		return strconv.Atoi(t)
	}
	return 0, fmt.Errorf("unsupported value %v", v)
}

// SaveConfig writes cfg to path in the format named by its extension,
// TOML by default.
func SaveConfig(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = encodeToYAML(cfg)
	default:
		data, err = encodeToTOML(cfg)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func encodeToTOML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# missiond configuration\n# Version %d\n\n", cfg.Version)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeToYAML(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// GetMigrationHistory returns the migrations recorded in the data directory.
func GetMigrationHistory() ([]MigrationResult, error) {
	data, err := os.ReadFile(migrationHistoryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read migration history: %w", err)
	}

	var history []MigrationResult
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse migration history: %w", err)
	}
	return history, nil
}

// SaveMigrationHistory appends result to the migration history.
func SaveMigrationHistory(result *MigrationResult) error {
	history, err := GetMigrationHistory()
	if err != nil {
		history = nil
	}
	history = append(history, *result)

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode migration history: %w", err)
	}
	path := migrationHistoryPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write migration history: %w", err)
	}
	return nil
}

func migrationHistoryPath() string {
	return filepath.Join(DataDir(), "migration_history.json")
}
