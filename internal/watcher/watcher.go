// Package watcher tails the game's live journal. It follows the newest
// journal file in a directory, switching when the game starts a new one,
// and emits each complete line once.
package watcher

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"missiond/internal/journal"
)

// Line is one complete journal line.
type Line struct {
	Path   string
	Number int
	Text   []byte
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval sets how often the current file is re-read without a
// file event. Some filesystems, Proton prefixes among them, drop events.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// FromStart reads the file current at Start from its beginning instead of
// its end.
func FromStart() Option {
	return func(w *Watcher) { w.fromStart = true }
}

// Watcher tails the newest journal in a directory.
type Watcher struct {
	dir       string
	interval  time.Duration
	fromStart bool
	logger    *slog.Logger
	fsWatcher *fsnotify.Watcher

	mu      sync.Mutex
	current string
	offset  int64
	lineNo  int
	partial []byte
	last    time.Time

	lines  chan Line
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup
}

// New returns a Watcher for dir. Nothing is read until Start.
func New(dir string, opts ...Option) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		dir:       dir,
		interval:  time.Second,
		logger:    slog.Default(),
		fsWatcher: fsWatcher,
		lines:     make(chan Line, 256),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "watcher")
	return w, nil
}

// Lines delivers journal lines in file order.
func (w *Watcher) Lines() <-chan Line {
	return w.lines
}

// Errors delivers read and watch errors. Errors are dropped when nobody
// is reading.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start picks the newest journal and begins tailing it.
func (w *Watcher) Start() error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("journal directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("journal directory: %s is not a directory", w.dir)
	}
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	latest, err := journal.Latest(w.dir)
	if err != nil {
		return err
	}
	if latest != "" {
		w.mu.Lock()
		w.follow(latest)
		if !w.fromStart {
			if fi, err := os.Stat(latest); err == nil {
				w.offset = fi.Size()
			}
		}
		w.mu.Unlock()
		w.logger.Info("tailing journal", "path", latest)
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop ends tailing and closes the channels.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.lines)
	close(w.errors)
	return w.fsWatcher.Close()
}

// Current returns the file being tailed.
func (w *Watcher) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// LastRead returns when a line was last emitted.
func (w *Watcher) LastRead() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// follow switches to path, reading it from the start. Callers hold mu.
func (w *Watcher) follow(path string) {
	w.current = path
	w.offset = 0
	w.lineNo = 0
	w.partial = nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !journal.IsJournalFile(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				w.rotate(ev.Name)
				continue
			}
			if ev.Has(fsnotify.Write) && ev.Name == w.Current() {
				w.poll()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.report(err)

		case <-ticker.C:
			w.checkLatest()
			w.poll()
		}
	}
}

// rotate drains the current file and moves on to path when it is newer.
func (w *Watcher) rotate(path string) {
	cur := w.Current()
	if path == cur {
		w.poll()
		return
	}
	if cur != "" && filepath.Base(path) < filepath.Base(cur) {
		return
	}
	w.poll()

	w.mu.Lock()
	w.follow(path)
	w.mu.Unlock()
	w.logger.Info("tailing journal", "path", path)
	w.poll()
}

// checkLatest catches new files whose create event was missed.
func (w *Watcher) checkLatest() {
	latest, err := journal.Latest(w.dir)
	if err != nil {
		w.report(err)
		return
	}
	if latest != "" && latest != w.Current() {
		w.rotate(latest)
	}
}

// poll reads everything appended since the last read and emits the
// complete lines. A trailing partial line is held until its newline
// arrives. A file that shrank is read again from the start.
func (w *Watcher) poll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == "" {
		return
	}

	f, err := os.Open(w.current)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.report(err)
		}
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		w.report(err)
		return
	}
	if fi.Size() < w.offset {
		w.logger.Warn("journal truncated, rereading", "path", w.current)
		w.follow(w.current)
	}
	if fi.Size() == w.offset {
		return
	}

	if _, err := f.Seek(w.offset, io.SeekStart); err != nil {
		w.report(err)
		return
	}
	data, err := io.ReadAll(f)
	if err != nil {
		w.report(err)
		return
	}
	w.offset += int64(len(data))

	buf := append(w.partial, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		text := bytes.TrimRight(buf[:i], "\r")
		buf = buf[i+1:]
		w.lineNo++
		if len(bytes.TrimSpace(text)) == 0 {
			continue
		}
		line := Line{Path: w.current, Number: w.lineNo, Text: append([]byte(nil), text...)}
		select {
		case w.lines <- line:
			w.last = time.Now()
		case <-w.done:
			return
		}
	}
	w.partial = append([]byte(nil), buf...)
}

func (w *Watcher) report(err error) {
	select {
	case w.errors <- err:
	default:
		w.logger.Warn("watcher error dropped", "error", err)
	}
}
