package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"missiond/internal/mission"
)

// ErrNotFound is returned when a mission is not archived.
var ErrNotFound = errors.New("store: mission not found")

// Store is the SQLite mission archive.
type Store struct {
	db *sql.DB
}

// Open opens or creates the archive at path and applies pending
// migrations. busyTimeout bounds how long a write waits on a lock.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the handle for migration tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordFrom converts a tracked mission into an archive record. Target and
// progress follow the mission's category.
func RecordFrom(player string, m *mission.Mission) *Record {
	r := &Record{
		Player:     player,
		MissionID:  int64(m.ID),
		Name:       m.Name,
		Kind:       mission.Classify(m).String(),
		Faction:    m.Faction,
		Reward:     m.Reward,
		Wing:       m.Wing,
		AcceptedAt: m.AcceptedAt,
		Expiry:     m.Expiry,
		Raw:        m.Raw,
	}
	if m.DestinationSystem != "" || m.DestinationStation != "" {
		r.Destination = m.DestinationSystem + `\` + m.DestinationStation
	}
	switch mission.Classify(m) {
	case mission.KindMassacre:
		r.Target, r.Progress = m.KillCount, m.VictimCount.Get()
	case mission.KindMining, mission.KindCollect:
		r.Target, r.Progress = m.Count, m.DeliveredCount.Get()
	case mission.KindCourier:
		r.Target = 1
	}
	return r
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Upsert archives r. An existing row keeps its finish state and has its
// details and progress replaced.
func (s *Store) Upsert(ctx context.Context, r *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO missions (player, mission_id, name, kind, faction, destination, reward, target, progress, wing, accepted_at, expiry, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (player, mission_id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			faction = excluded.faction,
			destination = excluded.destination,
			reward = excluded.reward,
			target = excluded.target,
			progress = excluded.progress,
			wing = excluded.wing,
			expiry = excluded.expiry,
			raw = excluded.raw`,
		r.Player, r.MissionID, r.Name, r.Kind, r.Faction, r.Destination, r.Reward, r.Target, r.Progress,
		r.Wing, unix(r.AcceptedAt), unix(r.Expiry), r.Raw,
	)
	if err != nil {
		return fmt.Errorf("upsert mission %d: %w", r.MissionID, err)
	}
	return nil
}

// UpsertAll archives records in one transaction.
func (s *Store) UpsertAll(ctx context.Context, records []*Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO missions (player, mission_id, name, kind, faction, destination, reward, target, progress, wing, accepted_at, expiry, raw)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (player, mission_id) DO UPDATE SET
				progress = excluded.progress`,
			r.Player, r.MissionID, r.Name, r.Kind, r.Faction, r.Destination, r.Reward, r.Target, r.Progress,
			r.Wing, unix(r.AcceptedAt), unix(r.Expiry), r.Raw,
		); err != nil {
			return fmt.Errorf("upsert mission %d: %w", r.MissionID, err)
		}
	}
	return tx.Commit()
}

// SetProgress updates a mission's progress count.
func (s *Store) SetProgress(ctx context.Context, player string, id int64, progress int) error {
	return s.updateOne(ctx, "UPDATE missions SET progress = ? WHERE player = ? AND mission_id = ?", progress, player, id)
}

// MarkFinished records when and why a mission ended.
func (s *Store) MarkFinished(ctx context.Context, player string, id int64, reason string, at time.Time) error {
	return s.updateOne(ctx,
		"UPDATE missions SET finished_at = ?, finish_reason = ? WHERE player = ? AND mission_id = ?",
		unix(at), reason, player, id)
}

func (s *Store) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update mission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update mission: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const recordColumns = `player, mission_id, name, kind, faction, destination, reward, target, progress, wing,
	accepted_at, expiry, finished_at, finish_reason, raw`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r                          Record
		accepted, expiry, finished int64
	)
	if err := row.Scan(&r.Player, &r.MissionID, &r.Name, &r.Kind, &r.Faction, &r.Destination,
		&r.Reward, &r.Target, &r.Progress, &r.Wing, &accepted, &expiry, &finished, &r.FinishReason, &r.Raw,
	); err != nil {
		return nil, err
	}
	r.AcceptedAt = fromUnix(accepted)
	r.Expiry = fromUnix(expiry)
	r.FinishedAt = fromUnix(finished)
	return &r, nil
}

// Get returns one archived mission.
func (s *Store) Get(ctx context.Context, player string, id int64) (*Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM missions WHERE player = ? AND mission_id = ?", player, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mission %d: %w", id, err)
	}
	return r, nil
}

// List returns the missions matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]*Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Player != "" {
		where = append(where, "player = ?")
		args = append(args, f.Player)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.ActiveOnly {
		where = append(where, "finished_at = 0")
	}
	if !f.Since.IsZero() {
		where = append(where, "accepted_at >= ?")
		args = append(args, unix(f.Since))
	}

	query := "SELECT " + recordColumns + " FROM missions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY accepted_at DESC, mission_id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddActivity appends an entry to a mission's log.
func (s *Store) AddActivity(ctx context.Context, a *Activity) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO activity (player, mission_id, type, detail, at) VALUES (?, ?, ?, ?, ?)",
		a.Player, a.MissionID, string(a.Type), a.Detail, unix(a.At))
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

// Activities returns a mission's log in order.
func (s *Store) Activities(ctx context.Context, player string, id int64) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, player, mission_id, type, detail, at FROM activity WHERE player = ? AND mission_id = ? ORDER BY at, id",
		player, id)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var (
			a  Activity
			at int64
		)
		if err := rows.Scan(&a.ID, &a.Player, &a.MissionID, &a.Type, &a.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.At = fromUnix(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// TouchCommander records that name was seen at t.
func (s *Store) TouchCommander(ctx context.Context, name string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commanders (name, first_seen, last_seen) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			first_seen = MIN(first_seen, excluded.first_seen),
			last_seen = MAX(last_seen, excluded.last_seen)`,
		name, unix(t), unix(t))
	if err != nil {
		return fmt.Errorf("touch commander: %w", err)
	}
	return nil
}

// Commanders returns every commander seen, most recent first.
func (s *Store) Commanders(ctx context.Context) ([]Commander, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, first_seen, last_seen FROM commanders ORDER BY last_seen DESC, name")
	if err != nil {
		return nil, fmt.Errorf("list commanders: %w", err)
	}
	defer rows.Close()

	var out []Commander
	for rows.Next() {
		var (
			c           Commander
			first, last int64
		)
		if err := rows.Scan(&c.Name, &first, &last); err != nil {
			return nil, fmt.Errorf("scan commander: %w", err)
		}
		c.FirstSeen, c.LastSeen = fromUnix(first), fromUnix(last)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReasonCompleted is the finish reason whose rewards count as earned.
const ReasonCompleted = "MissionCompleted"

// Stats summarizes a player's archive, or every player's when player is
// empty.
func (s *Store) Stats(ctx context.Context, player string) (*Stats, error) {
	st := &Stats{Finished: map[string]int{}, ByKind: map[string]int{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, finish_reason, finished_at = 0, COUNT(*), SUM(CASE WHEN finish_reason = ? THEN reward ELSE 0 END)
		FROM missions WHERE (? = '' OR player = ?) GROUP BY kind, finish_reason, finished_at = 0`,
		ReasonCompleted, player, player)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind, reason string
			active       bool
			n            int
			rewards      int64
		)
		if err := rows.Scan(&kind, &reason, &active, &n, &rewards); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.Total += n
		st.ByKind[kind] += n
		st.Rewards += rewards
		if active {
			st.Active += n
		} else {
			st.Finished[reason] += n
		}
	}
	return st, rows.Err()
}

// Prune deletes finished missions, and their activity, that ended before
// cutoff. It returns the number of missions removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM activity WHERE (player, mission_id) IN (
			SELECT player, mission_id FROM missions WHERE finished_at != 0 AND finished_at < ?)`,
		unix(cutoff)); err != nil {
		return 0, fmt.Errorf("prune activity: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM missions WHERE finished_at != 0 AND finished_at < ?", unix(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune missions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}
