// Package history rebuilds per-player mission state by replaying the journal
// files written inside a trailing window.
package history

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"missiond/internal/journal"
	"missiond/internal/mission"
)

// Result is the outcome of a scan.
type Result struct {
	// Store holds every mission accepted per player, with fulfillment
	// progress applied.
	Store mission.Store

	// Active estimates each player's active mission IDs: the last Missions
	// snapshot seen, plus later accepts, minus later finishes.
	Active map[string][]mission.ID

	// LastPlayer is the player of the most recent Commander event.
	LastPlayer string

	Files   int
	Lines   int
	Skipped int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithValidator validates every consumed event against its schema.
func WithValidator(v *journal.Validator) Option {
	return func(s *Scanner) { s.validator = v }
}

// WithProgress sets a callback invoked after each file.
func WithProgress(fn func(path string, lines int)) Option {
	return func(s *Scanner) { s.progress = fn }
}

// Scanner replays journal files.
type Scanner struct {
	dir       string
	logger    *slog.Logger
	validator *journal.Validator
	progress  func(path string, lines int)
}

// NewScanner returns a scanner over the journal directory dir.
func NewScanner(dir string, opts ...Option) *Scanner {
	s := &Scanner{dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "history")
	return s
}

// Scan replays every journal file modified after the cutoff date, one file
// at a time in name order. Bad lines and unreadable files are skipped; only
// a missing journal directory fails the scan.
func (s *Scanner) Scan(cutoff time.Time) (*Result, error) {
	files, err := journal.FilesModifiedAfter(s.dir, cutoff)
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}

	st := &scanState{
		res: &Result{
			Store:  make(mission.Store),
			Active: make(map[string][]mission.ID),
		},
		active: make(map[string]map[mission.ID]struct{}),
		logger: s.logger,
	}

	s.logger.Debug("scanning journals", "dir", s.dir, "files", len(files), "cutoff", cutoff.Format(time.DateOnly))
	for _, path := range files {
		lines, err := s.scanFile(path, st)
		if err != nil {
			s.logger.Debug("skipping unreadable journal", "path", path, "error", err)
			continue
		}
		st.res.Files++
		if s.progress != nil {
			s.progress(path, lines)
		}
	}

	st.finish()
	s.logger.Info("history scan complete",
		"files", st.res.Files,
		"lines", st.res.Lines,
		"skipped", st.res.Skipped,
		"players", len(st.res.Store),
	)
	return st.res, nil
}

func (s *Scanner) scanFile(path string, st *scanState) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := journal.NewReader(f, s.validator)
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return r.Line(), nil
		}
		var lerr *journal.LineError
		if errors.As(err, &lerr) {
			st.res.Skipped++
			s.logger.Warn("skipping journal line", "path", path, "line", lerr.Line, "error", lerr.Err)
			continue
		}
		if err != nil {
			return r.Line(), err
		}
		st.res.Lines++
		if err := st.apply(e); err != nil {
			st.res.Skipped++
			s.logger.Warn("skipping journal event", "path", path, "line", r.Line(), "event", e.Name, "error", err)
		}
	}
}

var errNoPlayer = errors.New("event before any Commander")

type scanState struct {
	res    *Result
	player string
	active map[string]map[mission.ID]struct{}
	logger *slog.Logger
}

func (st *scanState) apply(e *journal.Event) error {
	if e.Name == journal.EventCommander {
		var c journal.Commander
		if err := e.Decode(&c); err != nil {
			return err
		}
		if c.Name == "" {
			return fmt.Errorf("%w: commander without name", journal.ErrMalformed)
		}
		st.player = c.Name
		st.res.LastPlayer = c.Name
		st.res.Store.Player(c.Name)
		return nil
	}

	switch e.Name {
	case journal.EventMissions, journal.EventMissionAccepted, journal.EventCargoDepot, journal.EventBounty:
	default:
		if !journal.IsMissionFinished(e.Name) {
			return nil
		}
	}
	if st.player == "" {
		return errNoPlayer
	}
	set := st.res.Store.Player(st.player)

	switch e.Name {
	case journal.EventMissionAccepted:
		m, err := mission.FromAccepted(e)
		if err != nil {
			return err
		}
		set[m.ID] = m
		st.activeFor(st.player)[m.ID] = struct{}{}

	case journal.EventCargoDepot:
		var d journal.CargoDepot
		if err := e.Decode(&d); err != nil {
			return err
		}
		if d.IsDelivery() {
			mission.ApplyCargoDelivery(d, set)
		}

	case journal.EventBounty:
		var b journal.Bounty
		if err := e.Decode(&b); err != nil {
			return err
		}
		mission.ApplyBounty(b, set)

	case journal.EventMissions:
		var snap journal.Missions
		if err := e.Decode(&snap); err != nil {
			return err
		}
		ids := make(map[mission.ID]struct{}, len(snap.Active))
		for _, id := range snap.ActiveIDs() {
			ids[mission.ID(id)] = struct{}{}
		}
		st.active[st.player] = ids

	default:
		var fin journal.MissionFinished
		if err := e.Decode(&fin); err != nil {
			return err
		}
		delete(st.activeFor(st.player), mission.ID(fin.MissionID))
	}
	return nil
}

func (st *scanState) activeFor(player string) map[mission.ID]struct{} {
	ids, ok := st.active[player]
	if !ok {
		ids = make(map[mission.ID]struct{})
		st.active[player] = ids
	}
	return ids
}

func (st *scanState) finish() {
	for player, ids := range st.active {
		set := make(mission.Set, len(ids))
		for id := range ids {
			set[id] = nil
		}
		st.res.Active[player] = set.IDs()
	}
}
