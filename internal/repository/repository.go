// Package repository owns the active mission set of the current player and
// keeps it in step with live journal events.
//
// The repository is seeded with the per-player store from the history scan.
// Live snapshots of active mission IDs rebuild the active set from that
// store; accepts, deliveries, bounties and finishes patch it in place. Every
// change is published on the event bus, synchronously.
//
// Missions in the active set are the same values held in the store, so
// progress applied through the active set also updates the store.
package repository

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"missiond/internal/eventbus"
	"missiond/internal/journal"
	"missiond/internal/mission"
)

// ErrUnknownPlayer is returned for events about a player the history scan
// did not see. It usually means the scan window is too short.
var ErrUnknownPlayer = errors.New("repository: unknown player")

// State records which inputs the repository has received.
type State uint8

const (
	AwaitingInit     State = 0
	HasMissionsEvent State = 1 << 0
	HasMissionData   State = 1 << 1
	Initialized            = HasMissionsEvent | HasMissionData
)

// Has reports whether every bit of flag is set.
func (s State) Has(flag State) bool {
	return s&flag == flag
}

func (s State) String() string {
	switch s {
	case AwaitingInit:
		return "awaiting-init"
	case Initialized:
		return "initialized"
	}
	var parts []string
	if s.Has(HasMissionsEvent) {
		parts = append(parts, "has-missions-event")
	}
	if s.Has(HasMissionData) {
		parts = append(parts, "has-mission-data")
	}
	return strings.Join(parts, "|")
}

// Snapshot is a list of active mission IDs reported for a player.
type Snapshot struct {
	IDs    []mission.ID
	Player string
}

// LastKnownSnapshot caches the most recent active-ID snapshot so a
// repository built after it arrived can replay it. It is safe for
// concurrent use.
type LastKnownSnapshot struct {
	mu   sync.Mutex
	snap *Snapshot
}

// Set records a snapshot, replacing any earlier one.
func (l *LastKnownSnapshot) Set(ids []mission.ID, player string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap = &Snapshot{IDs: append([]mission.ID(nil), ids...), Player: player}
}

// Get returns the cached snapshot.
func (l *LastKnownSnapshot) Get() (Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.snap == nil {
		return Snapshot{}, false
	}
	return Snapshot{IDs: append([]mission.ID(nil), l.snap.IDs...), Player: l.snap.Player}, true
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// Repository is the mission state aggregate. It is not safe for concurrent
// use; all calls come from the event dispatch goroutine.
type Repository struct {
	store  mission.Store
	active mission.Set
	player string
	state  State
	bus    *eventbus.Bus
	last   *LastKnownSnapshot
	logger *slog.Logger
}

// New builds a repository over store. When last holds a snapshot it is
// replayed before New returns; a failed replay fails construction.
func New(store mission.Store, last *LastKnownSnapshot, bus *eventbus.Bus, opts ...Option) (*Repository, error) {
	if store == nil {
		store = make(mission.Store)
	}
	if bus == nil {
		bus = eventbus.New()
	}
	r := &Repository{
		store:  store,
		active: make(mission.Set),
		state:  HasMissionData,
		bus:    bus,
		last:   last,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "repository")

	if last != nil {
		if snap, ok := last.Get(); ok {
			if err := r.ApplySnapshot(snap.IDs, snap.Player); err != nil {
				return nil, fmt.Errorf("replay last snapshot: %w", err)
			}
		}
	}
	return r, nil
}

// State returns the current state flags.
func (r *Repository) State() State {
	return r.state
}

// Player returns the player of the active set.
func (r *Repository) Player() string {
	return r.player
}

// Active returns the live active set. Callers must not modify it.
func (r *Repository) Active() mission.Set {
	return r.active
}

// Store returns the per-player store.
func (r *Repository) Store() mission.Store {
	return r.store
}

func (r *Repository) playerSet(player string) (mission.Set, error) {
	set, ok := r.store[player]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlayer, player)
	}
	return set, nil
}

// ApplySnapshot replaces the active set with the player's missions named by
// ids. IDs missing from the store are dropped. Listeners are notified even
// when nothing changed.
func (r *Repository) ApplySnapshot(ids []mission.ID, player string) error {
	set, err := r.playerSet(player)
	if err != nil {
		return err
	}

	if r.state.Has(HasMissionsEvent) {
		r.logger.Warn("active missions snapshot received again", "player", player)
	}
	r.state |= HasMissionsEvent
	if r.last != nil {
		r.last.Set(ids, player)
	}

	active := make(mission.Set, len(ids))
	for _, id := range ids {
		m, ok := set[id]
		if !ok {
			r.logger.Warn("active mission not in history", "player", player, "mission_id", id)
			continue
		}
		active[id] = m
	}
	r.active = active
	r.player = player

	r.logger.Debug("active missions rebuilt", "player", player, "reported", len(ids), "active", len(active))
	r.publishActive()
	return nil
}

// MissionAccepted adds m to the player's store and to the active set.
func (r *Repository) MissionAccepted(m *mission.Mission, player string) error {
	set, err := r.playerSet(player)
	if err != nil {
		return err
	}

	set[m.ID] = m
	r.active[m.ID] = m
	r.player = player

	r.publishActive()
	r.bus.PlayerMissions.Publish(eventbus.PlayerMissions{Player: player, Missions: set})
	return nil
}

// CargoDelivered applies a delivery to the active set.
func (r *Repository) CargoDelivered(d journal.CargoDepot, player string) error {
	if _, err := r.playerSet(player); err != nil {
		return err
	}
	if mission.ApplyCargoDelivery(d, r.active) {
		r.publishActive()
	}
	return nil
}

// BountyAwarded applies a bounty to the active set.
func (r *Repository) BountyAwarded(b journal.Bounty, player string) error {
	if _, err := r.playerSet(player); err != nil {
		return err
	}
	if mission.ApplyBounty(b, r.active) {
		r.publishActive()
	}
	return nil
}

// MissionFinished removes id from the active set. Unknown IDs are ignored:
// finish events can arrive for missions accepted outside the scan window.
func (r *Repository) MissionFinished(id mission.ID, reason string) {
	if _, ok := r.active[id]; !ok {
		r.logger.Warn("finished mission not active", "mission_id", id, "reason", reason)
		return
	}
	delete(r.active, id)

	r.publishActive()
	r.bus.MissionFinished.Publish(eventbus.MissionFinished{ID: id, Reason: reason})
}

func (r *Repository) publishActive() {
	r.bus.ActiveMissions.Publish(eventbus.ActiveMissions{Player: r.player, Missions: r.active})
}
