// Package projection splits the active mission set into the four typed
// category stores and republishes them on every change.
package projection

import (
	"log/slog"

	"missiond/internal/eventbus"
	"missiond/internal/mission"
)

// Stores is one projection pass.
type Stores struct {
	Massacre mission.MassacreSet
	Mining   mission.MiningSet
	Collect  mission.CollectSet
	Courier  mission.CourierSet
	Unknown  int
}

// Project classifies every mission in set.
func Project(set mission.Set, unknown mission.UnknownRecorder) Stores {
	s := Stores{
		Massacre: make(mission.MassacreSet),
		Mining:   make(mission.MiningSet),
		Collect:  make(mission.CollectSet),
		Courier:  make(mission.CourierSet),
	}
	for _, id := range set.IDs() {
		m := set[id]
		switch mission.Classify(m) {
		case mission.KindMassacre:
			s.Massacre[id] = mission.NewMassacre(m)
		case mission.KindMining:
			s.Mining[id] = mission.NewMining(m)
		case mission.KindCollect:
			s.Collect[id] = mission.NewCollect(m)
		case mission.KindCourier:
			s.Courier[id] = mission.NewCourier(m)
		default:
			s.Unknown++
			if unknown != nil {
				unknown.Record(m)
			}
		}
	}
	return s
}

// Option configures a Projector.
type Option func(*Projector)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Projector) { p.logger = l }
}

// Projector republishes typed stores whenever the active set changes. Every
// pass publishes all four stores, empty ones included, so a consumer sees a
// category clear.
type Projector struct {
	bus     *eventbus.Bus
	unknown mission.UnknownRecorder
	logger  *slog.Logger
	last    Stores
	unsub   func()
}

// New subscribes a Projector to bus.
func New(bus *eventbus.Bus, unknown mission.UnknownRecorder, opts ...Option) *Projector {
	if unknown == nil {
		unknown = mission.Discard{}
	}
	p := &Projector{
		bus:     bus,
		unknown: unknown,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "projection")
	p.unsub = bus.ActiveMissions.Subscribe(p.onActive)
	return p
}

// Last returns the stores of the most recent pass.
func (p *Projector) Last() Stores {
	return p.last
}

// Close stops listening.
func (p *Projector) Close() {
	p.unsub()
}

func (p *Projector) onActive(a eventbus.ActiveMissions) {
	s := Project(a.Missions, p.unknown)
	p.last = s

	p.logger.Debug("projected active missions",
		"player", a.Player,
		"massacre", len(s.Massacre),
		"mining", len(s.Mining),
		"collect", len(s.Collect),
		"courier", len(s.Courier),
		"unknown", s.Unknown,
	)

	p.bus.Massacre.Publish(s.Massacre)
	p.bus.Mining.Publish(s.Mining)
	p.bus.Collect.Publish(s.Collect)
	p.bus.Courier.Publish(s.Courier)
}
