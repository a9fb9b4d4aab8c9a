package metrics

import (
	"time"

	"missiond/internal/mission"
)

// Missions holds the daemon's mission tracking series.
type Missions struct {
	registry *Registry
	started  time.Time

	EventsTotal      *Counter
	EventsSkipped    *Counter
	Accepted         *Counter
	Finished         *Counter
	Bounties         *Counter
	BountiesCredited *Counter
	Deliveries       *Counter
	Unknown          *Counter
	Notifications    *Counter
	Errors           *Counter

	Active       *Gauge
	Initialized  *Gauge
	Uptime       *Gauge
	OverlayPeers *Gauge
	HistoryFiles *Gauge
	byKind       map[mission.Kind]*Gauge

	EventDuration   *Histogram
	HistoryDuration *Histogram
	RollupDuration  *Histogram
}

// NewMissions registers the mission series on registry.
func NewMissions(registry *Registry) *Missions {
	if registry == nil {
		registry = NewRegistry("missiond")
	}
	m := &Missions{
		registry: registry,
		started:  time.Now(),

		EventsTotal:      registry.Counter("journal_events_total", "Journal events consumed", nil),
		EventsSkipped:    registry.Counter("journal_events_skipped_total", "Journal lines skipped as malformed", nil),
		Accepted:         registry.Counter("missions_accepted_total", "Missions accepted", nil),
		Finished:         registry.Counter("missions_finished_total", "Missions abandoned, completed or redirected", nil),
		Bounties:         registry.Counter("bounties_total", "Bounty events seen", nil),
		BountiesCredited: registry.Counter("bounties_credited_total", "Bounties that advanced a massacre mission", nil),
		Deliveries:       registry.Counter("cargo_deliveries_total", "Cargo depot deliveries applied", nil),
		Unknown:          registry.Counter("missions_unknown_total", "Active missions matching no category", nil),
		Notifications:    registry.Counter("notifications_total", "Desktop notifications sent", nil),
		Errors:           registry.Counter("errors_total", "Errors while handling events", nil),

		Active:       registry.Gauge("missions_active", "Active missions for the current commander", nil),
		Initialized:  registry.Gauge("repository_initialized", "1 once the mission repository is initialized", nil),
		Uptime:       registry.Gauge("uptime_seconds", "Seconds since the daemon started", nil),
		OverlayPeers: registry.Gauge("overlay_clients", "Connected overlay clients", nil),
		HistoryFiles: registry.Gauge("history_files", "Journal files replayed at startup", nil),
		byKind:       make(map[mission.Kind]*Gauge),

		EventDuration:   registry.Histogram("event_duration_seconds", "Time spent handling one journal event", nil, nil),
		HistoryDuration: registry.Histogram("history_scan_seconds", "Time spent replaying journal history", nil, []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}),
		RollupDuration:  registry.Histogram("rollup_duration_seconds", "Time spent building a dashboard", nil, nil),
	}
	for _, k := range []mission.Kind{mission.KindMassacre, mission.KindMining, mission.KindCollect, mission.KindCourier, mission.KindUnknown} {
		m.byKind[k] = registry.Gauge("missions_by_kind", "Active missions per category", Labels{"kind": k.String()})
	}
	return m
}

// Registry returns the backing registry.
func (m *Missions) Registry() *Registry {
	return m.registry
}

// SetKind sets the active count for one category.
func (m *Missions) SetKind(k mission.Kind, n int) {
	if g, ok := m.byKind[k]; ok {
		g.Set(int64(n))
	}
}

// Kind returns the gauge for one category.
func (m *Missions) Kind(k mission.Kind) *Gauge {
	return m.byKind[k]
}

// Bounty records a bounty and whether it credited a mission.
func (m *Missions) Bounty(credited bool) {
	m.Bounties.Inc()
	if credited {
		m.BountiesCredited.Inc()
	}
}

// SetInitialized records the repository state.
func (m *Missions) SetInitialized(ok bool) {
	if ok {
		m.Initialized.Set(1)
		return
	}
	m.Initialized.Set(0)
}

// UpdateUptime refreshes the uptime gauge.
func (m *Missions) UpdateUptime() {
	m.Uptime.Set(int64(time.Since(m.started).Seconds()))
}
