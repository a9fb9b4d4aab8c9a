package mission

import "time"

// Base holds what every typed mission shares.
type Base struct {
	ID            ID
	TargetSystem  string
	TargetStation string
	SourceFaction string
	Reward        int64
	Expiry        time.Time
	Wing          bool
}

func baseOf(m *Mission) Base {
	return Base{
		ID:            m.ID,
		TargetSystem:  m.DestinationSystem,
		TargetStation: m.DestinationStation,
		SourceFaction: m.Faction,
		Reward:        m.Reward,
		Expiry:        m.Expiry,
		Wing:          m.Wing,
	}
}

// Massacre is a kill mission against a target faction.
type Massacre struct {
	Base
	TargetFaction string
	TargetType    string
	KillCount     int
	VictimCount   int
}

// NewMassacre snapshots m as a massacre mission.
func NewMassacre(m *Mission) Massacre {
	return Massacre{
		Base:          baseOf(m),
		TargetFaction: m.TargetFaction,
		TargetType:    m.TargetType,
		KillCount:     m.KillCount,
		VictimCount:   m.VictimCount.Get(),
	}
}

// Remaining returns the kills still required. It is zero or negative once
// the target is met.
func (m Massacre) Remaining() int {
	return m.KillCount - m.VictimCount
}

// Mining is a mission to deliver mined commodities.
type Mining struct {
	Base
	Commodity string
	Count     int
	Delivered int
}

// NewMining snapshots m as a mining mission.
func NewMining(m *Mission) Mining {
	return Mining{
		Base:      baseOf(m),
		Commodity: m.Commodity,
		Count:     m.Count,
		Delivered: m.DeliveredCount.Get(),
	}
}

// Remaining is the count still to deliver. Negative when over-delivered.
func (m Mining) Remaining() int {
	return m.Count - m.Delivered
}

// Collect is a mission to source and deliver commodities.
type Collect struct {
	Base
	Commodity string
	Count     int
	Delivered int
}

// NewCollect snapshots m as a collect mission.
func NewCollect(m *Mission) Collect {
	return Collect{
		Base:      baseOf(m),
		Commodity: m.Commodity,
		Count:     m.Count,
		Delivered: m.DeliveredCount.Get(),
	}
}

// Remaining is the count still to deliver. Negative when over-delivered.
func (m Collect) Remaining() int {
	return m.Count - m.Delivered
}

// Courier is a data delivery mission. It is delivered or not.
type Courier struct {
	Base
	TargetFaction string
}

// NewCourier snapshots m as a courier mission.
func NewCourier(m *Mission) Courier {
	return Courier{
		Base:          baseOf(m),
		TargetFaction: m.TargetFaction,
	}
}

type (
	MassacreSet map[ID]Massacre
	MiningSet   map[ID]Mining
	CollectSet  map[ID]Collect
	CourierSet  map[ID]Courier
)
