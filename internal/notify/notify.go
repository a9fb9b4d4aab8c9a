// Package notify sends desktop notifications for version and rollup alerts.
package notify

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"missiond/internal/eventbus"
	"missiond/internal/rollup"
	"missiond/internal/versioncheck"
)

const (
	notificationsName  = "org.freedesktop.Notifications"
	notificationsPath  = "/org/freedesktop/Notifications"
	notificationsNotif = notificationsName + ".Notify"

	appName = "missiond"
)

// Notifier delivers one notification.
type Notifier interface {
	Notify(summary, body string) error
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(string, string) error { return nil }

// DBus sends notifications through the freedesktop notification service on
// the session bus.
type DBus struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	timeout time.Duration

	mu     sync.Mutex
	lastID uint32
}

// NewDBus connects to the session bus.
func NewDBus(timeout time.Duration) (*DBus, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &DBus{
		conn:    conn,
		obj:     conn.Object(notificationsName, dbus.ObjectPath(notificationsPath)),
		timeout: timeout,
	}, nil
}

// Notify shows a notification. Each call replaces the previous one so alerts
// do not pile up.
func (d *DBus) Notify(summary, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	call := d.obj.Call(notificationsNotif, 0,
		appName,
		d.lastID,
		"",
		summary,
		body,
		[]string{},
		map[string]dbus.Variant{},
		int32(d.timeout/time.Millisecond),
	)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	var id uint32
	if err := call.Store(&id); err == nil {
		d.lastID = id
	}
	return nil
}

// Close releases the bus connection.
func (d *DBus) Close() error {
	return d.conn.Close()
}

// Option configures Alerts.
type Option func(*Alerts)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Alerts) { a.logger = l }
}

// Alerts turns bus events into notifications: an outdated release, and
// rollup warnings that were not present in the previous dashboard.
type Alerts struct {
	n      Notifier
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
	sent int

	unsubs []func()
}

// NewAlerts subscribes to the version and dashboard topics of bus.
func NewAlerts(bus *eventbus.Bus, n Notifier, opts ...Option) *Alerts {
	a := &Alerts{
		n:      n,
		logger: slog.Default(),
		seen:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "notify")
	a.unsubs = append(a.unsubs,
		bus.VersionInfo.Subscribe(a.onVersion),
		bus.Dashboard.Subscribe(a.onDashboard),
	)
	return a
}

// Sent returns how many notifications were delivered.
func (a *Alerts) Sent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent
}

// Close unsubscribes from the bus.
func (a *Alerts) Close() {
	for _, fn := range a.unsubs {
		fn()
	}
	a.unsubs = nil
}

func (a *Alerts) onVersion(info versioncheck.Info) {
	if info.Status != versioncheck.StatusOutdated {
		return
	}
	a.send("New version available",
		fmt.Sprintf("Version %s is available (running %s).\n%s", info.Latest, info.Current, info.LatestURL))
}

func (a *Alerts) onDashboard(d rollup.Dashboard) {
	current := make(map[string]struct{})
	var fresh []string

	a.mu.Lock()
	for _, s := range d.Summaries() {
		for _, w := range s.Warnings {
			key := s.Kind + ": " + w
			current[key] = struct{}{}
			if _, ok := a.seen[key]; !ok {
				fresh = append(fresh, key)
			}
		}
	}
	a.seen = current
	a.mu.Unlock()

	if len(fresh) == 0 {
		return
	}
	sort.Strings(fresh)
	for _, w := range fresh {
		a.send("Mission warning", w)
	}
}

func (a *Alerts) send(summary, body string) {
	if err := a.n.Notify(summary, body); err != nil {
		a.logger.Warn("notification failed", "summary", summary, "error", err)
		return
	}
	a.mu.Lock()
	a.sent++
	a.mu.Unlock()
	a.logger.Debug("notification sent", "summary", summary)
}
