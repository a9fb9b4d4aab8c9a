// Package store archives missions and their progress in SQLite so that
// history survives journal rotation and can be queried offline.
package store

import "time"

// Record is one archived mission.
type Record struct {
	Player       string
	MissionID    int64
	Name         string
	Kind         string
	Faction      string
	Destination  string
	Reward       int64
	Target       int
	Progress     int
	Wing         bool
	AcceptedAt   time.Time
	Expiry       time.Time
	FinishedAt   time.Time // zero while active
	FinishReason string
	Raw          []byte
}

// Active reports whether the mission has not finished.
func (r *Record) Active() bool {
	return r.FinishedAt.IsZero()
}

// ActivityType names what happened to a mission.
type ActivityType string

const (
	ActivityAccepted ActivityType = "accepted"
	ActivityBounty   ActivityType = "bounty"
	ActivityDelivery ActivityType = "delivery"
	ActivityFinished ActivityType = "finished"
)

// Activity is one progress entry in a mission's log.
type Activity struct {
	ID        int64
	Player    string
	MissionID int64
	Type      ActivityType
	Detail    string
	At        time.Time
}

// Commander is a player seen in the journals.
type Commander struct {
	Name      string
	FirstSeen time.Time
	LastSeen  time.Time
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Player     string
	Kind       string
	ActiveOnly bool
	Since      time.Time
	Limit      int
}

// Stats summarizes a player's archive.
type Stats struct {
	Total    int
	Active   int
	Finished map[string]int // by reason
	ByKind   map[string]int
	Rewards  int64 // credits of completed missions
}
