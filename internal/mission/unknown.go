package mission

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"missiond/internal/journal"
)

// UnknownRecorder receives missions that fit no tracked category.
type UnknownRecorder interface {
	Record(m *Mission)
}

// FileRecorder appends each unknown mission's raw record as one line to
// the unknown missions file in the journal directory. Write failures are
// logged and dropped.
type FileRecorder struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewFileRecorder returns a recorder writing into dir.
func NewFileRecorder(dir string, logger *slog.Logger) *FileRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileRecorder{
		path:   filepath.Join(dir, journal.UnknownMissionsFile),
		logger: logger.With("component", "unknown-missions"),
	}
}

// Path returns the side file location.
func (r *FileRecorder) Path() string {
	return r.path
}

// Record appends the raw accept record of m to the side file. Write
// failures are logged, never returned.
func (r *FileRecorder) Record(m *Mission) {
	line := bytes.TrimSpace(m.Raw)
	if len(line) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		r.logger.Warn("open unknown missions file", "path", r.path, "error", err)
		return
	}
	defer f.Close()

	buf := make([]byte, 0, len(line)+1)
	buf = append(append(buf, line...), '\n')
	if _, err := f.Write(buf); err != nil {
		r.logger.Warn("write unknown mission", "path", r.path, "mission_id", m.ID, "error", err)
	}
}

// Discard drops unknown missions.
type Discard struct{}

func (Discard) Record(*Mission) {}
