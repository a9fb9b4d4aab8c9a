// Package host delivers live journal lines to the mission core. It plays
// the part of the game companion: it knows the current commander and calls
// the core once per event, always from one goroutine.
package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"missiond/internal/config"
	"missiond/internal/journal"
	"missiond/internal/metrics"
	"missiond/internal/watcher"
)

// Handler receives dispatched events. Every call comes from the goroutine
// running Dispatcher.Run.
type Handler interface {
	JournalEntry(player string, e *journal.Event) error
	Reconfigure(cfg *config.Config)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithValidator checks every event against its schema before dispatch.
func WithValidator(v *journal.Validator) Option {
	return func(d *Dispatcher) { d.validator = v }
}

// WithMetrics records event counts and durations.
func WithMetrics(m *metrics.Missions) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithPlayer sets the commander assumed until a Commander event arrives.
func WithPlayer(name string) Option {
	return func(d *Dispatcher) { d.player = name }
}

// Dispatcher parses journal lines and routes them to a Handler.
type Dispatcher struct {
	handler   Handler
	validator *journal.Validator
	metrics   *metrics.Missions
	logger    *slog.Logger
	configs   chan *config.Config

	mu        sync.RWMutex
	player    string
	lastEvent time.Time
}

// New returns a dispatcher for h.
func New(h Handler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handler: h,
		logger:  slog.Default(),
		configs: make(chan *config.Config, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.NewMissions(nil)
	}
	d.logger = d.logger.With("component", "host")
	return d
}

// Player returns the current commander.
func (d *Dispatcher) Player() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.player
}

// LastEvent returns when the last event was dispatched.
func (d *Dispatcher) LastEvent() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastEvent
}

// Reconfigure queues cfg for delivery on the dispatch goroutine. A queued
// configuration not yet delivered is replaced.
func (d *Dispatcher) Reconfigure(cfg *config.Config) {
	for {
		select {
		case d.configs <- cfg:
			return
		default:
		}
		select {
		case <-d.configs:
		default:
		}
	}
}

// Handle parses one line and dispatches it. Blank lines are ignored.
func (d *Dispatcher) Handle(line []byte) error {
	e, err := journal.Parse(line)
	if errors.Is(err, journal.ErrEmptyLine) {
		return nil
	}
	if err != nil {
		d.metrics.EventsSkipped.Inc()
		return err
	}
	if d.validator != nil {
		if err := d.validator.Validate(e); err != nil {
			d.metrics.EventsSkipped.Inc()
			return err
		}
	}
	return d.Dispatch(e)
}

// Dispatch routes a parsed event for the current commander. Events before
// the first commander is known are dropped.
func (d *Dispatcher) Dispatch(e *journal.Event) error {
	begin := time.Now()
	defer d.metrics.EventDuration.Since(begin)

	if e.Name == journal.EventCommander {
		var c journal.Commander
		if err := e.Decode(&c); err != nil {
			d.metrics.EventsSkipped.Inc()
			return err
		}
		d.mu.Lock()
		if c.Name != d.player {
			d.logger.Info("commander changed", "from", d.player, "to", c.Name)
		}
		d.player = c.Name
		d.mu.Unlock()
	}

	player := d.Player()
	if player == "" {
		d.logger.Debug("event before commander dropped", "event", e.Name)
		d.metrics.EventsSkipped.Inc()
		return nil
	}

	d.mu.Lock()
	d.lastEvent = time.Now()
	d.mu.Unlock()
	d.metrics.EventsTotal.Inc()

	if err := d.handler.JournalEntry(player, e); err != nil {
		d.metrics.Errors.Inc()
		return err
	}
	return nil
}

// Run dispatches lines and queued configurations until ctx is done or
// lines is closed. Per-line errors are logged and skipped.
func (d *Dispatcher) Run(ctx context.Context, lines <-chan watcher.Line) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cfg := <-d.configs:
			d.handler.Reconfigure(cfg)
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			if err := d.Handle(l.Text); err != nil {
				d.logger.Warn("journal line skipped", "path", l.Path, "line", l.Number, "error", err)
			}
		}
	}
}
