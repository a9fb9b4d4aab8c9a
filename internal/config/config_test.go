package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Version != Version {
		t.Errorf("expected version %d, got %d", Version, cfg.Version)
	}
	if cfg.Journal.ProcessWeeks != 4 {
		t.Errorf("expected 4 weeks, got %d", cfg.Journal.ProcessWeeks)
	}
	if !cfg.Display.Massacre || !cfg.Display.Mining || !cfg.Display.Collect || !cfg.Display.Courier {
		t.Error("every category should be displayed by default")
	}
	if cfg.DebugMode {
		t.Error("debug mode should be off by default")
	}
	if !cfg.VersionCheck.Enabled {
		t.Error("version check should be on by default")
	}
	if cfg.Overlay.Enabled {
		t.Error("overlay should be off by default")
	}
	if !strings.HasSuffix(cfg.Storage.Path, "missions.db") {
		t.Errorf("unexpected storage path %s", cfg.Storage.Path)
	}
	if !strings.Contains(cfg.Journal.Dir, "Elite Dangerous") {
		t.Errorf("unexpected journal dir %s", cfg.Journal.Dir)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestDataDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MISSIOND_DATA_DIR", dir)
	if got := DataDir(); got != dir {
		t.Errorf("expected %s, got %s", dir, got)
	}
	if got := DefaultConfig().Storage.Path; got != filepath.Join(dir, "missions.db") {
		t.Errorf("storage path should follow the data dir, got %s", got)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
	if !strings.Contains(path, appName) {
		t.Errorf("config path should contain %s: %s", appName, path)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Journal.ProcessWeeks != 4 {
		t.Errorf("expected defaults, got weeks=%d", cfg.Journal.ProcessWeeks)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
version = 2
debug_mode = true

[journal]
dir = "/games/journals"
process_journal_weeks = 2

[display]
massacre = true
mining = false

[overlay]
enabled = true
ttl_sec = 12
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.DebugMode {
		t.Error("debug_mode not read")
	}
	if cfg.Journal.Dir != "/games/journals" {
		t.Errorf("unexpected dir %s", cfg.Journal.Dir)
	}
	if cfg.Journal.ProcessWeeks != 2 {
		t.Errorf("expected 2 weeks, got %d", cfg.Journal.ProcessWeeks)
	}
	if cfg.Display.Mining {
		t.Error("mining should be off")
	}
	if !cfg.Display.Courier {
		t.Error("unset keys should keep their defaults")
	}
	if cfg.OverlayTTL() != 12*time.Second {
		t.Errorf("unexpected ttl %v", cfg.OverlayTTL())
	}
}

func TestLoadJSONAndYAML(t *testing.T) {
	jsonPath := writeFile(t, "config.json", `{"journal": {"process_journal_weeks": 6}}`)
	yamlPath := writeFile(t, "config.yaml", "journal:\n  process_journal_weeks: 7\n")

	cfg, err := Load(jsonPath)
	if err != nil {
		t.Fatalf("Load JSON failed: %v", err)
	}
	if cfg.Journal.ProcessWeeks != 6 {
		t.Errorf("expected 6 weeks, got %d", cfg.Journal.ProcessWeeks)
	}

	cfg, err = Load(yamlPath)
	if err != nil {
		t.Fatalf("Load YAML failed: %v", err)
	}
	if cfg.Journal.ProcessWeeks != 7 {
		t.Errorf("expected 7 weeks, got %d", cfg.Journal.ProcessWeeks)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := writeFile(t, "config.toml", "[journal\nbroken")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MISSIOND_JOURNAL_PROCESS_WEEKS", "9")
	t.Setenv("MISSIOND_DEBUG_MODE", "true")
	t.Setenv("MISSIOND_DISPLAY_COURIER", "false")
	t.Setenv("MISSIOND_STORAGE_PATH", "/tmp/archive.db")
	t.Setenv("MISSIOND_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Journal.ProcessWeeks != 9 {
		t.Errorf("expected 9 weeks, got %d", cfg.Journal.ProcessWeeks)
	}
	if !cfg.DebugMode {
		t.Error("debug mode not overridden")
	}
	if cfg.Display.Courier {
		t.Error("courier display not overridden")
	}
	if cfg.Storage.Path != "/tmp/archive.db" {
		t.Errorf("unexpected storage path %s", cfg.Storage.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("unexpected level %s", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"weeks too low", func(c *Config) { c.Journal.ProcessWeeks = 0 }, "journal.process_journal_weeks"},
		{"weeks too high", func(c *Config) { c.Journal.ProcessWeeks = 53 }, "journal.process_journal_weeks"},
		{"poll interval", func(c *Config) { c.Journal.PollIntervalMs = 10 }, "journal.poll_interval_ms"},
		{"version url", func(c *Config) { c.VersionCheck.URL = "ftp://nope" }, "version_check.url"},
		{"overlay ttl", func(c *Config) { c.Overlay.Enabled = true; c.Overlay.TTLSec = 0 }, "overlay.ttl_sec"},
		{"storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"http addr", func(c *Config) { c.HTTP.ListenAddr = "nowhere" }, "http.listen_addr"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log output", func(c *Config) { c.Logging.Output = "syslog" }, "logging.output"},
		{"version", func(c *Config) { c.Version = 99 }, "version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
			found := false
			for _, e := range verrs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected an error for %s, got %v", tt.field, verrs)
			}
		})
	}
}

func TestValidateDisabledSectionsSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Enabled = false
	cfg.Storage.Path = ""
	cfg.VersionCheck.Enabled = false
	cfg.VersionCheck.URL = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled sections should not be validated: %v", err)
	}
}

func TestMissingJournalDirIsWarning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Journal.Dir = filepath.Join(t.TempDir(), "absent")
	if err := cfg.Validate(); err != nil {
		t.Errorf("missing journal dir should not fail validation: %v", err)
	}
	warnings := Check(cfg).Warnings()
	if len(warnings) != 1 || warnings[0].Field != "journal.dir" {
		t.Errorf("expected one journal.dir warning, got %v", warnings)
	}
}

func TestLoaderRejectsInvalid(t *testing.T) {
	path := writeFile(t, "config.toml", "[journal]\nprocess_journal_weeks = 0\n")
	_, err := NewLoader(path).Load()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoaderMigratesV1(t *testing.T) {
	t.Setenv("MISSIOND_DATA_DIR", t.TempDir())
	path := writeFile(t, "config.toml", "version = 1\n\n[journal]\nvalidate_events = false\n")

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Version != Version {
		t.Errorf("expected version %d, got %d", Version, cfg.Version)
	}
	if !cfg.Journal.ValidateEvents {
		t.Error("migration should enable event validation")
	}

	backups, _ := filepath.Glob(path + ".backup-*")
	if len(backups) != 1 {
		t.Errorf("expected one backup, got %v", backups)
	}
	history, err := GetMigrationHistory()
	if err != nil || len(history) != 1 || history[0].FromVersion != 1 {
		t.Errorf("unexpected migration history %v (%v)", history, err)
	}
}

func TestMigrateConfigCurrentIsNoop(t *testing.T) {
	result, err := MigrateConfig(DefaultConfig(), "")
	if err != nil || result != nil {
		t.Errorf("expected no migration, got %v, %v", result, err)
	}
}

func TestMigrateLegacyConfig(t *testing.T) {
	var data map[string]any
	raw := `{
		"display_missions_massacre": 1,
		"display_missions_mining": 0,
		"display_missions_collect": "1",
		"display_missions_courier": false,
		"display_row_total": 0,
		"debug_mode_enabled": 1,
		"overlay_enabled": true,
		"overlay_ttl": "15",
		"process_journal_weeks": 3
	}`
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		t.Fatal(err)
	}
	if !IsLegacyConfig(data) {
		t.Fatal("expected legacy detection")
	}

	cfg, err := MigrateLegacyConfig(data)
	if err != nil {
		t.Fatalf("MigrateLegacyConfig failed: %v", err)
	}
	if !cfg.Display.Massacre || cfg.Display.Mining || !cfg.Display.Collect || cfg.Display.Courier {
		t.Errorf("unexpected display toggles %+v", cfg.Display)
	}
	if cfg.Display.RowTotal || !cfg.Display.RowStats {
		t.Errorf("unexpected row toggles %+v", cfg.Display)
	}
	if !cfg.DebugMode || !cfg.Overlay.Enabled {
		t.Error("debug and overlay should be enabled")
	}
	if cfg.Overlay.TTLSec != 15 || cfg.Journal.ProcessWeeks != 3 {
		t.Errorf("unexpected ints ttl=%d weeks=%d", cfg.Overlay.TTLSec, cfg.Journal.ProcessWeeks)
	}
}

func TestMigrateLegacyConfigBadValue(t *testing.T) {
	_, err := MigrateLegacyConfig(map[string]any{"overlay_ttl": []any{1}})
	if err == nil {
		t.Error("expected error for unsupported value")
	}
}

func TestLoadLegacyJSON(t *testing.T) {
	path := writeFile(t, "settings.json", `{"process_journal_weeks": 5, "display_missions_mining": 0}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Journal.ProcessWeeks != 5 || cfg.Display.Mining {
		t.Errorf("legacy settings not applied: %+v", cfg.Journal)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	for _, ext := range SupportedConfigFormats() {
		t.Run(ext, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Journal.ProcessWeeks = 11
			cfg.Display.Collect = false

			path := filepath.Join(t.TempDir(), "nested", "config."+ext)
			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if got.Journal.ProcessWeeks != 11 || got.Display.Collect {
				t.Errorf("round trip lost values: %+v", got.Journal)
			}
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	_, created, err := LoadOrCreate(path)
	if err != nil || !created {
		t.Fatalf("expected creation, got created=%v err=%v", created, err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	_, created, err = LoadOrCreate(path)
	if err != nil || created {
		t.Errorf("expected load, got created=%v err=%v", created, err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.Path = filepath.Join(dir, "a", "b", "missions.db")
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = filepath.Join(dir, "logs", "missiond.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, d := range []string{filepath.Join(dir, "a", "b"), filepath.Join(dir, "logs")} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", d)
		}
	}
}

func TestHistoryCutoff(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Date(2024, 3, 29, 0, 0, 0, 0, time.UTC)
	if got := cfg.HistoryCutoff(now); !got.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected cutoff %v", got)
	}
}

func TestLoaderWatchReloads(t *testing.T) {
	path := writeFile(t, "config.toml", "debug_mode = false\n")
	l := NewLoader(path)
	if _, err := l.Load(); err != nil {
		t.Fatal(err)
	}
	if err := l.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer l.Close()

	changed := make(chan *Config, 1)
	l.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	if err := os.WriteFile(path, []byte("debug_mode = true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changed:
		if !c.DebugMode {
			t.Error("reloaded config should enable debug mode")
		}
		if !l.Config().DebugMode {
			t.Error("loader should hold the reloaded config")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload not observed")
	}
}
