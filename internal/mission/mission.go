// Package mission holds the mission record reconstructed from journal events,
// its classification into the four tracked categories, and the fulfillment
// rules that advance kill and delivery progress.
//
// A Mission is shared by pointer between a player's Store and the active Set
// built from it. Progress applied through one is visible through the other;
// the repository relies on this to keep a single source of truth.
package mission

import (
	"errors"
	"fmt"
	"time"

	"missiond/internal/journal"
)

// ID identifies a mission within one player's lifetime.
type ID int64

// ErrInvalidMission is returned when an accepted event lacks an ID or name.
var ErrInvalidMission = errors.New("mission: invalid accepted event")

// Counter is a progress count that may not have been observed yet.
type Counter struct {
	Value    int
	Observed bool
}

// Add increments the counter by n and marks it observed.
func (c *Counter) Add(n int) {
	c.Value += n
	c.Observed = true
}

// Get returns the value, zero when unobserved.
func (c Counter) Get() int {
	if !c.Observed {
		return 0
	}
	return c.Value
}

// Mission is a mission accepted by a player.
type Mission struct {
	ID                 ID
	Name               string
	LocalisedName      string
	Faction            string
	DestinationSystem  string
	DestinationStation string
	TargetFaction      string
	TargetType         string
	KillCount          int
	Commodity          string
	Count              int
	Reward             int64
	Expiry             time.Time
	Wing               bool
	AcceptedAt         time.Time

	VictimCount    Counter
	DeliveredCount Counter

	// Raw is the accepted event line as written by the game.
	Raw []byte
}

// FromAccepted builds a Mission from a MissionAccepted event.
func FromAccepted(e *journal.Event) (*Mission, error) {
	var a journal.MissionAccepted
	if err := e.Decode(&a); err != nil {
		return nil, err
	}
	if a.MissionID == 0 || a.Name == "" {
		return nil, fmt.Errorf("%w: id=%d name=%q", ErrInvalidMission, a.MissionID, a.Name)
	}

	m := &Mission{
		ID:                 ID(a.MissionID),
		Name:               a.Name,
		LocalisedName:      a.LocalisedName,
		Faction:            a.Faction,
		DestinationSystem:  a.DestinationSystem,
		DestinationStation: a.DestinationStation,
		TargetFaction:      a.TargetFaction,
		TargetType:         a.TargetType,
		KillCount:          a.KillCount,
		Commodity:          a.CommodityLocalised,
		Count:              a.Count,
		Reward:             a.Reward,
		Wing:               a.Wing,
		AcceptedAt:         e.Timestamp,
		Raw:                e.Raw(),
	}
	if m.Commodity == "" {
		m.Commodity = a.Commodity
	}
	if a.Expiry != "" {
		if t, err := time.Parse(journal.TimestampLayout, a.Expiry); err == nil {
			m.Expiry = t
		}
	}
	return m, nil
}

// Set is a collection of missions keyed by ID.
type Set map[ID]*Mission

// IDs returns the IDs in the set in ascending order.
func (s Set) IDs() []ID {
	ids := make([]ID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Store maps a player name to every mission known for that player.
type Store map[string]Set

// Player returns the player's set, creating it when missing.
func (s Store) Player(name string) Set {
	set, ok := s[name]
	if !ok {
		set = make(Set)
		s[name] = set
	}
	return set
}
