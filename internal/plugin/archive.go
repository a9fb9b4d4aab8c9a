package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"missiond/internal/mission"
	"missiond/internal/store"
)

type archiveKey struct {
	player string
	id     mission.ID
}

// Archive mirrors mission state into the SQLite store. It remembers the
// last archived progress of every mission so only changes are written.
type Archive struct {
	store    *store.Store
	logger   *slog.Logger
	progress map[archiveKey]int
}

// NewArchive wraps s.
func NewArchive(s *store.Store, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{
		store:    s,
		logger:   logger.With("component", "archive"),
		progress: make(map[archiveKey]int),
	}
}

// Store returns the backing store.
func (a *Archive) Store() *store.Store {
	return a.store
}

// Import archives every mission of a history scan.
func (a *Archive) Import(ctx context.Context, s mission.Store) error {
	var records []*store.Record
	for player, set := range s {
		for _, id := range set.IDs() {
			r := store.RecordFrom(player, set[id])
			records = append(records, r)
			a.progress[archiveKey{player, id}] = r.Progress
		}
	}
	if err := a.store.UpsertAll(ctx, records); err != nil {
		return fmt.Errorf("import history: %w", err)
	}
	a.logger.Debug("history archived", "missions", len(records))
	return nil
}

// Accepted archives a newly accepted mission.
func (a *Archive) Accepted(ctx context.Context, player string, m *mission.Mission) error {
	r := store.RecordFrom(player, m)
	if err := a.store.Upsert(ctx, r); err != nil {
		return err
	}
	a.progress[archiveKey{player, m.ID}] = r.Progress
	return a.store.AddActivity(ctx, &store.Activity{
		Player:    player,
		MissionID: int64(m.ID),
		Type:      store.ActivityAccepted,
		Detail:    m.Name,
		At:        m.AcceptedAt,
	})
}

// Sync writes the progress of every mission in set that changed since the
// last call, logging an activity of type cause for each.
func (a *Archive) Sync(ctx context.Context, player string, set mission.Set, cause store.ActivityType, at time.Time) error {
	var errs []error
	for _, id := range set.IDs() {
		key := archiveKey{player, id}
		r := store.RecordFrom(player, set[id])
		prev, seen := a.progress[key]
		if seen && prev == r.Progress {
			continue
		}
		a.progress[key] = r.Progress
		if err := a.store.SetProgress(ctx, player, int64(id), r.Progress); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				errs = append(errs, err)
				continue
			}
			if err := a.store.Upsert(ctx, r); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if !seen || cause == "" {
			continue
		}
		if err := a.store.AddActivity(ctx, &store.Activity{
			Player:    player,
			MissionID: int64(id),
			Type:      cause,
			Detail:    fmt.Sprintf("%d -> %d", prev, r.Progress),
			At:        at,
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Finished records the end of a mission.
func (a *Archive) Finished(ctx context.Context, player string, id mission.ID, reason string, at time.Time) error {
	delete(a.progress, archiveKey{player, id})
	if err := a.store.MarkFinished(ctx, player, int64(id), reason, at); err != nil {
		return err
	}
	return a.store.AddActivity(ctx, &store.Activity{
		Player:    player,
		MissionID: int64(id),
		Type:      store.ActivityFinished,
		Detail:    reason,
		At:        at,
	})
}

// Commander records that a player logged in.
func (a *Archive) Commander(ctx context.Context, name string, at time.Time) error {
	return a.store.TouchCommander(ctx, name, at)
}
