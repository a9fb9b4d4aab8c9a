package rollup

import (
	"time"

	"missiond/internal/mission"
)

// Dashboard is the set of category summaries shown for a player. A nil
// summary is a category whose display is turned off.
type Dashboard struct {
	Player      string    `json:"player"`
	GeneratedAt time.Time `json:"generated_at"`
	Massacre    *Summary  `json:"massacre,omitempty"`
	Mining      *Summary  `json:"mining,omitempty"`
	Collect     *Summary  `json:"collect,omitempty"`
	Courier     *Summary  `json:"courier,omitempty"`
}

// Summaries returns the non-nil summaries in display order.
func (d Dashboard) Summaries() []*Summary {
	var out []*Summary
	for _, s := range []*Summary{d.Massacre, d.Mining, d.Collect, d.Courier} {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Warnings returns every warning across the shown categories.
func (d Dashboard) Warnings() []string {
	var out []string
	for _, s := range d.Summaries() {
		out = append(out, s.Warnings...)
	}
	return out
}

// Enabled selects which categories a dashboard includes.
type Enabled struct {
	Massacre bool
	Mining   bool
	Collect  bool
	Courier  bool
}

// All enables every category.
var All = Enabled{Massacre: true, Mining: true, Collect: true, Courier: true}

// Build summarizes the enabled categories.
func Build(player string, now time.Time, on Enabled,
	massacre mission.MassacreSet, mining mission.MiningSet,
	collect mission.CollectSet, courier mission.CourierSet,
) Dashboard {
	d := Dashboard{Player: player, GeneratedAt: now}
	if on.Massacre {
		d.Massacre = Massacre(massacre)
	}
	if on.Mining {
		d.Mining = Mining(mining)
	}
	if on.Collect {
		d.Collect = Collect(collect)
	}
	if on.Courier {
		d.Courier = Courier(courier)
	}
	return d
}
