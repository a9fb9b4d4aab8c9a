// Package journal decodes game journal files.
//
// A journal is newline-delimited JSON: one event per line, each carrying an
// "event" discriminant and a "timestamp". Files may end with a partially
// written line while the game is running; readers must tolerate that.
package journal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event names consumed by the mission tracker.
const (
	EventCommander         = "Commander"
	EventMissions          = "Missions"
	EventMissionAccepted   = "MissionAccepted"
	EventMissionAbandoned  = "MissionAbandoned"
	EventMissionCompleted  = "MissionCompleted"
	EventMissionRedirected = "MissionRedirected"
	EventMissionFailed     = "MissionFailed"
	EventCargoDepot        = "CargoDepot"
	EventBounty            = "Bounty"
)

// UpdateTypeDeliver is the CargoDepot update type for a delivery.
const UpdateTypeDeliver = "Deliver"

// TimestampLayout is the layout of journal timestamps and mission expiries.
const TimestampLayout = "2006-01-02T15:04:05Z"

var (
	// ErrMalformed is returned for lines that are not a journal event.
	ErrMalformed = errors.New("journal: malformed event")

	// ErrEmptyLine is returned by Parse for blank input.
	ErrEmptyLine = errors.New("journal: empty line")
)

// Event is one decoded journal line. It is never mutated after Parse.
type Event struct {
	Name      string
	Timestamp time.Time
	raw       []byte
}

type header struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
}

// Parse decodes the envelope of a single journal line. The payload is kept
// verbatim and decoded on demand with Decode.
func Parse(line []byte) (*Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, ErrEmptyLine
	}

	var h header
	if err := json.Unmarshal(line, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.Event == "" {
		return nil, fmt.Errorf("%w: missing event field", ErrMalformed)
	}

	e := &Event{
		Name: h.Event,
		raw:  append([]byte(nil), line...),
	}
	if h.Timestamp != "" {
		if ts, err := time.Parse(TimestampLayout, h.Timestamp); err == nil {
			e.Timestamp = ts
		}
	}
	return e, nil
}

// Raw returns the original line. Callers must not modify it.
func (e *Event) Raw() []byte {
	return e.raw
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.raw, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformed, e.Name, err)
	}
	return nil
}

// String returns the raw line.
func (e *Event) String() string {
	return string(e.raw)
}

// Commander identifies the player whose session the following events belong to.
type Commander struct {
	FID  string `json:"FID"`
	Name string `json:"Name"`
}

// MissionRef references a mission in a Missions snapshot.
type MissionRef struct {
	MissionID int64  `json:"MissionID"`
	Name      string `json:"Name"`
	Expires   int64  `json:"Expires"`
}

// Missions is the snapshot of the player's mission list written at login.
type Missions struct {
	Active   []MissionRef `json:"Active"`
	Failed   []MissionRef `json:"Failed"`
	Complete []MissionRef `json:"Complete"`
}

// ActiveIDs returns the IDs of the active missions in snapshot order.
func (m Missions) ActiveIDs() []int64 {
	ids := make([]int64, 0, len(m.Active))
	for _, ref := range m.Active {
		ids = append(ids, ref.MissionID)
	}
	return ids
}

// MissionAccepted is written when the player takes a mission.
type MissionAccepted struct {
	MissionID          int64  `json:"MissionID"`
	Name               string `json:"Name"`
	LocalisedName      string `json:"LocalisedName"`
	Faction            string `json:"Faction"`
	DestinationSystem  string `json:"DestinationSystem"`
	DestinationStation string `json:"DestinationStation"`
	TargetFaction      string `json:"TargetFaction"`
	TargetType         string `json:"TargetType"`
	KillCount          int    `json:"KillCount"`
	Commodity          string `json:"Commodity"`
	CommodityLocalised string `json:"Commodity_Localised"`
	Count              int    `json:"Count"`
	Reward             int64  `json:"Reward"`
	Expiry             string `json:"Expiry"`
	Wing               bool   `json:"Wing"`
}

// MissionFinished covers MissionAbandoned, MissionCompleted,
// MissionRedirected and MissionFailed.
type MissionFinished struct {
	MissionID int64  `json:"MissionID"`
	Name      string `json:"Name"`
}

// CargoDepot is written for wing and cargo mission progress updates.
type CargoDepot struct {
	MissionID           int64   `json:"MissionID"`
	UpdateType          string  `json:"UpdateType"`
	CargoType           string  `json:"CargoType"`
	Count               int     `json:"Count"`
	StartMarketID       int64   `json:"StartMarketID"`
	EndMarketID         int64   `json:"EndMarketID"`
	ItemsCollected      int     `json:"ItemsCollected"`
	ItemsDelivered      int     `json:"ItemsDelivered"`
	TotalItemsToDeliver int     `json:"TotalItemsToDeliver"`
	Progress            float64 `json:"Progress"`
}

// IsDelivery reports whether the update delivers cargo.
func (c CargoDepot) IsDelivery() bool {
	return c.UpdateType == UpdateTypeDeliver
}

// BountyReward is one faction's share of a bounty.
type BountyReward struct {
	Faction string `json:"Faction"`
	Reward  int64  `json:"Reward"`
}

// Bounty is written when the player is awarded a bounty for a kill.
type Bounty struct {
	Target        string         `json:"Target"`
	VictimFaction string         `json:"VictimFaction"`
	TotalReward   int64          `json:"TotalReward"`
	Rewards       []BountyReward `json:"Rewards"`
}

// IsMissionFinished reports whether name ends a mission.
func IsMissionFinished(name string) bool {
	switch name {
	case EventMissionAbandoned, EventMissionCompleted, EventMissionRedirected, EventMissionFailed:
		return true
	}
	return false
}
