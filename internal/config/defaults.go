package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "missiond"

// DataDir returns the platform data directory. MISSIOND_DATA_DIR overrides it.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/missiond/
//   - Linux:   $XDG_DATA_HOME/missiond/ or ~/.local/share/missiond/
//   - Windows: %APPDATA%\missiond\
func DataDir() string {
	if dir := os.Getenv("MISSIOND_DATA_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", appName)
	case "windows":
		return filepath.Join(appData(), appName)
	default:
		return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	}
}

// ConfigDir returns the platform configuration directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", appName)
	case "windows":
		return filepath.Join(appData(), appName)
	default:
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
}

// LogDir returns the platform log directory.
func LogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Logs", appName)
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appName, "logs")
		}
		return filepath.Join(homeDir(), "AppData", "Local", appName, "logs")
	default:
		return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
	}
}

// DefaultJournalDir returns where the game writes its journals.
//
// Platform paths:
//   - Windows: %USERPROFILE%\Saved Games\Frontier Developments\Elite Dangerous
//   - Linux:   the Proton prefix of the Steam install
//   - macOS:   ~/Library/Application Support/Frontier Developments/Elite Dangerous
func DefaultJournalDir() string {
	home := homeDir()
	switch runtime.GOOS {
	case "windows":
		if profile := os.Getenv("USERPROFILE"); profile != "" {
			home = profile
		}
		return filepath.Join(home, "Saved Games", "Frontier Developments", "Elite Dangerous")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Frontier Developments", "Elite Dangerous")
	default:
		return filepath.Join(home, ".local", "share", "Steam", "steamapps", "compatdata", "359320",
			"pfx", "drive_c", "users", "steamuser", "Saved Games", "Frontier Developments", "Elite Dangerous")
	}
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}

func appData() string {
	if dir := os.Getenv("APPDATA"); dir != "" {
		return dir
	}
	return filepath.Join(homeDir(), "AppData", "Roaming")
}

func xdgDir(env, fallback string) string {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appName)
	}
	return filepath.Join(homeDir(), fallback, appName)
}

// SupportedConfigFormats returns the accepted config file extensions.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile looks for config.<ext> in the working directory, then the
// config directory. It returns "" when none exists.
func FindConfigFile() string {
	for _, dir := range []string{".", ConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
