package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"missiond/internal/logging"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError is one problem with a configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsWarning reports whether the problem can be tolerated at startup.
func (e *ValidationError) IsWarning() bool {
	// The journal directory may appear once the game is first run.
	return e.Field == "journal.dir"
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for i := range e {
		msgs = append(msgs, e[i].Error())
	}
	return strings.Join(msgs, "; ")
}

// Warnings returns the warning-level entries.
func (e ValidationErrors) Warnings() ValidationErrors {
	var out ValidationErrors
	for i := range e {
		if e[i].IsWarning() {
			out = append(out, e[i])
		}
	}
	return out
}

// Errors returns the error-level entries.
func (e ValidationErrors) Errors() ValidationErrors {
	var out ValidationErrors
	for i := range e {
		if !e[i].IsWarning() {
			out = append(out, e[i])
		}
	}
	return out
}

// HasErrors reports whether any entry is an error.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// ValidateConfig returns a ValidationErrors holding every error-level
// problem, or nil. Warnings are available from Check.
func ValidateConfig(c *Config) error {
	if errs := Check(c).Errors(); len(errs) > 0 {
		return errs
	}
	return nil
}

// Check returns every problem with c, warnings included.
func Check(c *Config) ValidationErrors {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}
	errs = append(errs, validateJournal(&c.Journal)...)
	errs = append(errs, validateVersionCheck(&c.VersionCheck)...)
	errs = append(errs, validateOverlay(&c.Overlay)...)
	errs = append(errs, validateNotifications(&c.Notifications)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateHTTP(&c.HTTP)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	return errs
}

func validateJournal(j *JournalConfig) ValidationErrors {
	var errs ValidationErrors
	if j.Dir == "" {
		errs = append(errs, *RequiredFieldError("journal.dir"))
	} else if info, err := os.Stat(expandPath(j.Dir)); err != nil || !info.IsDir() {
		errs = append(errs, ValidationError{Field: "journal.dir", Message: "directory does not exist: " + j.Dir})
	}
	if j.ProcessWeeks < 1 || j.ProcessWeeks > 52 {
		errs = append(errs, *RangeError("journal.process_journal_weeks", 1, 52))
	}
	if j.PollIntervalMs < 100 || j.PollIntervalMs > 60000 {
		errs = append(errs, *RangeError("journal.poll_interval_ms", 100, 60000))
	}
	return errs
}

func validateVersionCheck(v *VersionCheckConfig) ValidationErrors {
	if !v.Enabled {
		return nil
	}
	var errs ValidationErrors
	if !isValidURL(v.URL) {
		errs = append(errs, ValidationError{Field: "version_check.url", Message: "must be an http(s) URL"})
	}
	if !isValidURL(v.DownloadURL) {
		errs = append(errs, ValidationError{Field: "version_check.download_url", Message: "must be an http(s) URL"})
	}
	if v.TimeoutSec < 1 || v.TimeoutSec > 120 {
		errs = append(errs, *RangeError("version_check.timeout_sec", 1, 120))
	}
	return errs
}

func validateOverlay(o *OverlayConfig) ValidationErrors {
	if !o.Enabled {
		return nil
	}
	var errs ValidationErrors
	if o.TTLSec < 1 || o.TTLSec > 3600 {
		errs = append(errs, *RangeError("overlay.ttl_sec", 1, 3600))
	}
	if o.ListenAddr != "" && !isValidAddr(o.ListenAddr) {
		errs = append(errs, ValidationError{Field: "overlay.listen_addr", Message: "must be host:port"})
	}
	return errs
}

func validateNotifications(n *NotificationsConfig) ValidationErrors {
	if n.Enabled && n.TimeoutMs < 0 {
		return ValidationErrors{*RangeError("notifications.timeout_ms", 0, "unbounded")}
	}
	return nil
}

func validateStorage(s *StorageConfig) ValidationErrors {
	if !s.Enabled {
		return nil
	}
	var errs ValidationErrors
	if s.Path == "" {
		errs = append(errs, *RequiredFieldError("storage.path"))
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, *RangeError("storage.busy_timeout_ms", 0, "unbounded"))
	}
	return errs
}

func validateHTTP(h *HTTPConfig) ValidationErrors {
	if h.Enabled && !isValidAddr(h.ListenAddr) {
		return ValidationErrors{{Field: "http.listen_addr", Message: "must be host:port"}}
	}
	return nil
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors
	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, ValidationError{Field: "logging.level", Message: err.Error()})
	}
	if _, err := logging.ParseFormat(l.Format); err != nil {
		errs = append(errs, ValidationError{Field: "logging.format", Message: err.Error()})
	}
	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, *RequiredFieldError("logging.file_path"))
		}
	default:
		errs = append(errs, ValidationError{Field: "logging.output", Message: "must be stdout, stderr, file or both"})
	}
	if l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{Field: "logging", Message: "rotation limits must not be negative"})
	}
	return errs
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func isValidURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isValidAddr(addr string) bool {
	_, port, err := net.SplitHostPort(addr)
	return err == nil && port != ""
}

// RequiredFieldError reports a missing field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "required field is missing"}
}

// RangeError reports a value outside [min, max].
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf("value must be between %v and %v", min, max)}
}
