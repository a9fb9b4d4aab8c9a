// Package plugin is the composition root of the mission core. It seeds the
// repository from journal history, receives host callbacks, and turns every
// change of the active set into a dashboard.
package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"missiond/internal/config"
	"missiond/internal/eventbus"
	"missiond/internal/history"
	"missiond/internal/journal"
	"missiond/internal/metrics"
	"missiond/internal/mission"
	"missiond/internal/overlay"
	"missiond/internal/projection"
	"missiond/internal/repository"
	"missiond/internal/rollup"
	"missiond/internal/store"
	"missiond/internal/versioncheck"
)

// ErrNotStarted is returned by operations that need a seeded repository.
var ErrNotStarted = errors.New("plugin: not started")

// Option configures a Plugin.
type Option func(*Plugin)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Plugin) { p.logger = l }
}

// WithBus sets the event bus. A new one is created otherwise.
func WithBus(b *eventbus.Bus) Option {
	return func(p *Plugin) { p.bus = b }
}

// WithMetrics records mission series on m.
func WithMetrics(m *metrics.Missions) Option {
	return func(p *Plugin) { p.metrics = m }
}

// WithOverlay sends dashboard lines to hub.
func WithOverlay(hub *overlay.Hub) Option {
	return func(p *Plugin) { p.overlay = hub }
}

// WithArchive mirrors mission state into a.
func WithArchive(a *Archive) Option {
	return func(p *Plugin) { p.archive = a }
}

// WithUnknownRecorder overrides where unclassified missions are recorded.
// By default they go to the side file in the journal directory.
func WithUnknownRecorder(r mission.UnknownRecorder) Option {
	return func(p *Plugin) { p.unknown = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) { p.now = now }
}

// Plugin wires the repository, the projection and the rollups together.
// Host callbacks must come from a single goroutine; Dashboard and Version
// may be called from any goroutine.
type Plugin struct {
	cfg     *config.Config
	bus     *eventbus.Bus
	base    *slog.Logger
	logger  *slog.Logger
	metrics *metrics.Missions
	overlay *overlay.Hub
	archive *Archive
	unknown mission.UnknownRecorder
	now     func() time.Time

	ctx    context.Context
	last   repository.LastKnownSnapshot
	repo   *repository.Repository
	proj   *projection.Projector
	cause  store.ActivityType
	unsubs []func()

	mu        sync.RWMutex
	dashboard rollup.Dashboard
	version   versioncheck.Info
	history   *history.Result
}

// New returns an unstarted plugin.
func New(cfg *config.Config, opts ...Option) *Plugin {
	p := &Plugin{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bus == nil {
		p.bus = eventbus.New()
	}
	if p.metrics == nil {
		p.metrics = metrics.NewMissions(nil)
	}
	p.base = p.logger
	p.logger = p.base.With("component", "plugin")
	if p.unknown == nil {
		p.unknown = mission.NewFileRecorder(cfg.Journal.Dir, p.base)
	}
	p.unknown = countingRecorder{p.unknown, p.metrics}

	p.unsubs = append(p.unsubs, p.bus.VersionInfo.Subscribe(func(i versioncheck.Info) {
		p.mu.Lock()
		p.version = i
		p.mu.Unlock()
	}))
	return p
}

type countingRecorder struct {
	mission.UnknownRecorder
	m *metrics.Missions
}

func (r countingRecorder) Record(m *mission.Mission) {
	r.m.Unknown.Inc()
	r.UnknownRecorder.Record(m)
}

// Bus returns the event bus.
func (p *Plugin) Bus() *eventbus.Bus {
	return p.bus
}

// Started reports whether the repository has been seeded.
func (p *Plugin) Started() bool {
	return p.repo != nil
}

// Repository returns the seeded repository, or nil before Start.
func (p *Plugin) Repository() *repository.Repository {
	return p.repo
}

// Start replays the configured history window, seeds the repository and
// starts projecting. A cached snapshot, from the live journal or estimated
// from history, is replayed before Start returns.
func (p *Plugin) Start(ctx context.Context) error {
	if p.repo != nil {
		return nil
	}
	p.ctx = ctx
	cfg := p.cfg

	opts := []history.Option{
		history.WithLogger(p.base),
		history.WithProgress(func(path string, lines int) {
			p.logger.Debug("journal replayed", "path", path, "lines", lines)
		}),
	}
	if cfg.Journal.ValidateEvents {
		v, err := journal.NewValidator()
		if err != nil {
			return fmt.Errorf("load schemas: %w", err)
		}
		opts = append(opts, history.WithValidator(v))
	}

	begin := time.Now()
	res, err := history.NewScanner(cfg.Journal.Dir, opts...).Scan(cfg.HistoryCutoff(p.now()))
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	p.metrics.HistoryDuration.Since(begin)
	p.metrics.HistoryFiles.Set(int64(res.Files))
	p.logger.Info("history replayed",
		"files", res.Files, "lines", res.Lines, "skipped", res.Skipped, "commanders", len(res.Store))

	p.mu.Lock()
	p.history = res
	p.mu.Unlock()

	if _, ok := p.last.Get(); !ok && cfg.Journal.RestoreActive && res.LastPlayer != "" {
		ids := res.Active[res.LastPlayer]
		p.last.Set(ids, res.LastPlayer)
		p.logger.Info("restored active missions from history", "player", res.LastPlayer, "missions", len(ids))
	}

	if p.archive != nil {
		if err := p.archive.Import(ctx, res.Store); err != nil {
			p.archiveFailed(err)
		}
	}

	p.proj = projection.New(p.bus, p.unknown, projection.WithLogger(p.base))
	p.unsubs = append(p.unsubs, p.bus.ActiveMissions.Subscribe(p.onActive))

	repo, err := repository.New(res.Store, &p.last, p.bus, repository.WithLogger(p.base))
	if err != nil {
		p.proj.Close()
		p.proj = nil
		return fmt.Errorf("start: %w", err)
	}
	p.repo = repo
	p.metrics.SetInitialized(true)
	p.logger.Info("mission repository ready", "state", repo.State().String())
	return nil
}

// JournalEntry dispatches one live journal event for player.
func (p *Plugin) JournalEntry(player string, e *journal.Event) error {
	switch {
	case e.Name == journal.EventCommander:
		var c journal.Commander
		if err := e.Decode(&c); err != nil {
			return err
		}
		p.OnCommander(c.Name, e.Timestamp)
		return nil

	case e.Name == journal.EventMissions:
		var m journal.Missions
		if err := e.Decode(&m); err != nil {
			return err
		}
		raw := m.ActiveIDs()
		ids := make([]mission.ID, len(raw))
		for i, id := range raw {
			ids[i] = mission.ID(id)
		}
		return p.OnActiveMissionSnapshot(ids, player)

	case e.Name == journal.EventMissionAbandoned,
		e.Name == journal.EventMissionCompleted,
		e.Name == journal.EventMissionRedirected:
		var f journal.MissionFinished
		if err := e.Decode(&f); err != nil {
			return err
		}
		p.OnMissionFinished(mission.ID(f.MissionID), e.Name)
		return nil

	case e.Name == journal.EventMissionAccepted:
		m, err := mission.FromAccepted(e)
		if err != nil {
			return err
		}
		return p.OnMissionAccepted(m, player)

	case e.Name == journal.EventCargoDepot:
		var d journal.CargoDepot
		if err := e.Decode(&d); err != nil {
			return err
		}
		if !d.IsDelivery() {
			return nil
		}
		return p.OnCargoDelivered(d, player)

	case e.Name == journal.EventBounty:
		var b journal.Bounty
		if err := e.Decode(&b); err != nil {
			return err
		}
		return p.OnBountyAwarded(b, player)
	}
	return nil
}

// OnCommander switches to player. A player the history scan never saw gets
// no mission bucket; its events fail with repository.ErrUnknownPlayer.
func (p *Plugin) OnCommander(player string, at time.Time) {
	if player == "" {
		return
	}
	if p.repo != nil {
		if _, ok := p.repo.Store()[player]; !ok {
			p.logger.Warn("commander not covered by history scan", "player", player)
		}
	}
	if p.archive != nil {
		if at.IsZero() {
			at = p.now()
		}
		if err := p.archive.Commander(p.ctx, player, at); err != nil {
			p.archiveFailed(err)
		}
	}
}

// OnActiveMissionSnapshot replaces the active set. Before Start it only
// updates the cached snapshot.
func (p *Plugin) OnActiveMissionSnapshot(ids []mission.ID, player string) error {
	if p.repo == nil {
		p.last.Set(ids, player)
		p.logger.Debug("cached active missions until start", "player", player, "missions", len(ids))
		return nil
	}
	p.cause = ""
	return p.repo.ApplySnapshot(ids, player)
}

// OnMissionAccepted tracks a new mission.
func (p *Plugin) OnMissionAccepted(m *mission.Mission, player string) error {
	if p.repo == nil {
		p.logger.Debug("mission accepted before start", "mission_id", m.ID)
		return nil
	}
	p.cause = store.ActivityAccepted
	if err := p.repo.MissionAccepted(m, player); err != nil {
		return err
	}
	p.metrics.Accepted.Inc()
	if p.archive != nil {
		if err := p.archive.Accepted(p.ctx, player, m); err != nil {
			p.archiveFailed(err)
		}
	}
	return nil
}

// OnMissionFinished drops a mission from the active set.
func (p *Plugin) OnMissionFinished(id mission.ID, reason string) {
	if p.repo == nil {
		p.logger.Debug("mission finished before start", "mission_id", id)
		return
	}
	_, active := p.repo.Active()[id]
	player := p.repo.Player()
	p.cause = ""
	p.repo.MissionFinished(id, reason)
	if !active {
		return
	}
	p.metrics.Finished.Inc()
	if p.archive != nil {
		if err := p.archive.Finished(p.ctx, player, id, reason, p.now()); err != nil && !errors.Is(err, store.ErrNotFound) {
			p.archiveFailed(err)
		}
	}
}

// OnCargoDelivered applies a cargo delivery.
func (p *Plugin) OnCargoDelivered(d journal.CargoDepot, player string) error {
	if p.repo == nil {
		p.logger.Debug("cargo delivered before start", "mission_id", d.MissionID)
		return nil
	}
	p.cause = store.ActivityDelivery
	if err := p.repo.CargoDelivered(d, player); err != nil {
		return err
	}
	p.metrics.Deliveries.Inc()
	return nil
}

// OnBountyAwarded applies a bounty.
func (p *Plugin) OnBountyAwarded(b journal.Bounty, player string) error {
	if p.repo == nil {
		p.logger.Debug("bounty before start", "victim_faction", b.VictimFaction)
		return nil
	}
	before := p.progressTotal()
	p.cause = store.ActivityBounty
	if err := p.repo.BountyAwarded(b, player); err != nil {
		return err
	}
	p.metrics.Bounty(p.progressTotal() != before)
	return nil
}

func (p *Plugin) progressTotal() int {
	n := 0
	for _, m := range p.repo.Active() {
		n += m.VictimCount.Get()
	}
	return n
}

// Reconfigure applies a new configuration and rebuilds the dashboard.
// It must be called from the goroutine that delivers host callbacks.
func (p *Plugin) Reconfigure(cfg *config.Config) {
	p.cfg = cfg
	if p.overlay != nil {
		p.overlay.Configure(cfg.Overlay.Enabled, cfg.OverlayTTL())
	}
	p.bus.Config.Publish(cfg)
	if p.proj != nil && p.repo != nil {
		p.refresh(p.repo.Player(), p.proj.Last())
	}
}

func (p *Plugin) enabled() rollup.Enabled {
	d := p.cfg.Display
	return rollup.Enabled{Massacre: d.Massacre, Mining: d.Mining, Collect: d.Collect, Courier: d.Courier}
}

func (p *Plugin) onActive(a eventbus.ActiveMissions) {
	p.metrics.Active.Set(int64(len(a.Missions)))
	if p.archive != nil {
		if err := p.archive.Sync(p.ctx, a.Player, a.Missions, p.cause, p.now()); err != nil {
			p.archiveFailed(err)
		}
	}
	p.refresh(a.Player, p.proj.Last())
}

func (p *Plugin) refresh(player string, s projection.Stores) {
	p.metrics.SetKind(mission.KindMassacre, len(s.Massacre))
	p.metrics.SetKind(mission.KindMining, len(s.Mining))
	p.metrics.SetKind(mission.KindCollect, len(s.Collect))
	p.metrics.SetKind(mission.KindCourier, len(s.Courier))
	p.metrics.SetKind(mission.KindUnknown, s.Unknown)

	if p.cfg.DebugMode {
		p.dump(s)
	}

	begin := time.Now()
	d := rollup.Build(player, p.now(), p.enabled(), s.Massacre, s.Mining, s.Collect, s.Courier)
	p.metrics.RollupDuration.Since(begin)

	p.mu.Lock()
	p.dashboard = d
	p.mu.Unlock()

	p.bus.Dashboard.Publish(d)
	p.sendOverlay(d)
}

func (p *Plugin) dump(s projection.Stores) {
	for kind, v := range map[string]any{
		"massacre": s.Massacre,
		"mining":   s.Mining,
		"collect":  s.Collect,
		"courier":  s.Courier,
	} {
		data, err := json.Marshal(v)
		if err != nil {
			p.logger.Error("dump typed store failed", "kind", kind, "error", err)
			continue
		}
		p.logger.Debug("typed store before rollup", "kind", kind, "missions", string(data))
	}
}

func (p *Plugin) sendOverlay(d rollup.Dashboard) {
	if p.overlay == nil || !p.overlay.Enabled() {
		return
	}
	opts := rollup.TextOptions{Total: p.cfg.Display.RowTotal, Stats: p.cfg.Display.RowStats}
	for _, s := range d.Summaries() {
		color := overlay.DefaultColor
		if len(s.Warnings) > 0 {
			color = "red"
		}
		p.overlay.SendLines(s.Kind, s.Lines(d.GeneratedAt, opts), color)
	}
	p.metrics.OverlayPeers.Set(int64(p.overlay.Clients()))
}

func (p *Plugin) archiveFailed(err error) {
	p.metrics.Errors.Inc()
	p.logger.Warn("archive update failed", "error", err)
}

// Dashboard returns the most recent dashboard.
func (p *Plugin) Dashboard() rollup.Dashboard {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dashboard
}

// Version returns the last version check result.
func (p *Plugin) Version() versioncheck.Info {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

// History returns the result of the startup scan, or nil before Start.
func (p *Plugin) History() *history.Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.history
}

// Close detaches the plugin from the bus.
func (p *Plugin) Close() {
	for _, fn := range p.unsubs {
		fn()
	}
	p.unsubs = nil
	if p.proj != nil {
		p.proj.Close()
	}
}
