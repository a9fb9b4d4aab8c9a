// Package eventbus carries state changes from the mission core to its
// consumers. One Bus is built by the composition root and handed to every
// component that publishes or subscribes.
//
// Publication is synchronous: Publish returns after every listener has run,
// in subscription order. Subscribing is safe from any goroutine.
package eventbus

import (
	"sync"

	"missiond/internal/config"
	"missiond/internal/mission"
	"missiond/internal/rollup"
	"missiond/internal/versioncheck"
)

// Topic is a typed listener list.
type Topic[T any] struct {
	mu        sync.Mutex
	listeners []func(T)
}

// Subscribe registers fn. The returned function removes it again.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.listeners = append(t.listeners, fn)
	idx := len(t.listeners) - 1
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			// Keep order for the remaining listeners.
			if idx < len(t.listeners) {
				t.listeners[idx] = nil
			}
		})
	}
}

// Publish calls every listener with v.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	listeners := make([]func(T), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, fn := range listeners {
		if fn != nil {
			fn(v)
		}
	}
}

// Len returns the number of live listeners.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, fn := range t.listeners {
		if fn != nil {
			n++
		}
	}
	return n
}

// ActiveMissions is published whenever the active set changes. Missions is
// the live set: listeners must not modify it or keep it past the call.
type ActiveMissions struct {
	Player   string
	Missions mission.Set
}

// PlayerMissions is published when a player's full mission store grows.
type PlayerMissions struct {
	Player   string
	Missions mission.Set
}

// MissionFinished is published when a mission leaves the active set.
type MissionFinished struct {
	ID     mission.ID
	Reason string
}

// Bus groups the topics of the mission core.
type Bus struct {
	ActiveMissions  Topic[ActiveMissions]
	PlayerMissions  Topic[PlayerMissions]
	MissionFinished Topic[MissionFinished]

	Massacre Topic[mission.MassacreSet]
	Mining   Topic[mission.MiningSet]
	Collect  Topic[mission.CollectSet]
	Courier  Topic[mission.CourierSet]

	Dashboard   Topic[rollup.Dashboard]
	VersionInfo Topic[versioncheck.Info]
	Config      Topic[*config.Config]
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{}
}
