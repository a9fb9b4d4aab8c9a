// Package rollup aggregates typed mission stores into per-group progress
// summaries. Every function is a pure read of its input.
package rollup

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"missiond/internal/mission"
)

// Group accumulates the missions sharing one grouping key.
type Group struct {
	Key             string    `json:"key"`
	Missions        int       `json:"missions"`
	Target          int       `json:"target"`
	Progress        int       `json:"progress"`
	Reward          int64     `json:"reward"`
	ShareableReward int64     `json:"shareable_reward"`
	MinExpiry       time.Time `json:"min_expiry"`
	MaxExpiry       time.Time `json:"max_expiry"`
}

// Remaining is Target minus Progress. Over-fulfilled groups go negative.
func (g Group) Remaining() int {
	return g.Target - g.Progress
}

// Done reports whether the group's target has been met.
func (g Group) Done() bool {
	return g.Target > 0 && g.Remaining() <= 0
}

// Percent returns progress as a percentage of target, capped at 100.
func (g Group) Percent() float64 {
	if g.Target <= 0 {
		return 0
	}
	p := float64(g.Progress) / float64(g.Target) * 100
	if p > 100 {
		p = 100
	}
	return p
}

func (g *Group) add(b mission.Base, target, progress int) {
	g.Missions++
	g.Target += target
	g.Progress += progress
	g.Reward += b.Reward
	if b.Wing {
		g.ShareableReward += b.Reward
	}
	g.widen(b.Expiry, b.Expiry)
}

func (g *Group) merge(o *Group) {
	g.Missions += o.Missions
	g.Target += o.Target
	g.Progress += o.Progress
	g.Reward += o.Reward
	g.ShareableReward += o.ShareableReward
	g.widen(o.MinExpiry, o.MaxExpiry)
}

// widen extends the expiry range. Zero times carry no expiry.
func (g *Group) widen(lo, hi time.Time) {
	if !lo.IsZero() && (g.MinExpiry.IsZero() || lo.Before(g.MinExpiry)) {
		g.MinExpiry = lo
	}
	if !hi.IsZero() && (g.MaxExpiry.IsZero() || hi.After(g.MaxExpiry)) {
		g.MaxExpiry = hi
	}
}

// Summary is the rollup of one category.
type Summary struct {
	Kind     string            `json:"kind"`
	Groups   map[string]*Group `json:"groups"`
	Total    Group             `json:"total"`
	Warnings []string          `json:"warnings,omitempty"`
}

func newSummary(k mission.Kind) *Summary {
	return &Summary{
		Kind:   k.String(),
		Groups: make(map[string]*Group),
		Total:  Group{Key: "Total"},
	}
}

func (s *Summary) group(key string) *Group {
	g, ok := s.Groups[key]
	if !ok {
		g = &Group{Key: key}
		s.Groups[key] = g
	}
	return g
}

func (s *Summary) finish() {
	for _, key := range s.Keys() {
		s.Total.merge(s.Groups[key])
	}
}

// Keys returns the group keys in sorted order.
func (s *Summary) Keys() []string {
	keys := make([]string, 0, len(s.Groups))
	for k := range s.Groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Empty reports whether the summary covers no missions.
func (s *Summary) Empty() bool {
	return s.Total.Missions == 0
}

// ExpiryText describes the total expiry range relative to now.
func (s *Summary) ExpiryText(now time.Time) string {
	lo := ExpiryText(s.Total.MinExpiry, now)
	hi := ExpiryText(s.Total.MaxExpiry, now)
	if lo == hi {
		return "Expiry: " + hi
	}
	return "Expiry: " + hi + " <-> " + lo
}

// RewardRate returns credits per unit of target, overall and wing-shareable.
func (s *Summary) RewardRate() (all, shareable float64) {
	if s.Total.Target <= 0 {
		return 0, 0
	}
	t := float64(s.Total.Target)
	return float64(s.Total.Reward) / t, float64(s.Total.ShareableReward) / t
}

// distinct collects the values seen for a dimension that should hold only one.
type distinct map[string]struct{}

func (d distinct) add(v string) {
	d[v] = struct{}{}
}

func (d distinct) warn(label string, out *[]string) {
	if len(d) <= 1 {
		return
	}
	vals := make([]string, 0, len(d))
	for v := range d {
		vals = append(vals, v)
	}
	sort.Strings(vals)
	*out = append(*out, fmt.Sprintf("Multiple %s: %s!", label, strings.Join(vals, ", ")))
}

// Massacre groups massacre missions by source faction.
func Massacre(set mission.MassacreSet) *Summary {
	s := newSummary(mission.KindMassacre)
	factions, types, systems := distinct{}, distinct{}, distinct{}
	for _, m := range set {
		s.group(m.SourceFaction).add(m.Base, m.KillCount, m.VictimCount)
		factions.add(m.TargetFaction)
		types.add(m.TargetType)
		systems.add(m.TargetSystem)
	}
	s.finish()
	factions.warn("Target Factions", &s.Warnings)
	types.warn("Target Types", &s.Warnings)
	systems.warn("Target Systems", &s.Warnings)
	return s
}

// Mining groups mining missions by commodity.
func Mining(set mission.MiningSet) *Summary {
	s := newSummary(mission.KindMining)
	commodities := distinct{}
	for _, m := range set {
		s.group(m.Commodity).add(m.Base, m.Count, m.Delivered)
		commodities.add(m.Commodity)
	}
	s.finish()
	commodities.warn("Commodities", &s.Warnings)
	return s
}

// Collect groups collect missions by commodity.
func Collect(set mission.CollectSet) *Summary {
	s := newSummary(mission.KindCollect)
	commodities := distinct{}
	for _, m := range set {
		s.group(m.Commodity).add(m.Base, m.Count, m.Delivered)
		commodities.add(m.Commodity)
	}
	s.finish()
	commodities.warn("Commodities", &s.Warnings)
	return s
}

// Courier groups courier missions by destination. Each mission counts one
// unit of target; deliveries are not tracked.
func Courier(set mission.CourierSet) *Summary {
	s := newSummary(mission.KindCourier)
	locations := distinct{}
	for _, m := range set {
		key := LocationKey(m.TargetSystem, m.TargetStation)
		s.group(key).add(m.Base, 1, 0)
		locations.add(key)
	}
	s.finish()
	locations.warn("Locations", &s.Warnings)
	return s
}

// LocationKey joins a system and station into a courier grouping key.
func LocationKey(system, station string) string {
	return system + `\` + station
}

// ExpiryText renders the time left until expiry as "1d 2h 3m", or
// "expired" once it has passed. Units that are zero are left out.
func ExpiryText(expiry, now time.Time) string {
	if expiry.Before(now) {
		return "expired"
	}
	d := expiry.Sub(now)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	return strings.Join(parts, " ")
}

// FormatMillions renders credits as millions with one decimal.
func FormatMillions(credits int64) string {
	return fmt.Sprintf("%.1f", float64(credits)/1_000_000)
}
