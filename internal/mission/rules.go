package mission

import (
	"sort"
	"strings"

	"missiond/internal/journal"
)

// ApplyBounty credits one kill to massacre missions targeting the bounty's
// victim faction. Each source faction is credited at most once per bounty:
// the earliest accepted mission from that faction still short of its kill
// count takes it. Missions that already met their count are passed over
// without using up their faction. Reports whether any mission changed.
func ApplyBounty(b journal.Bounty, set Set) bool {
	if b.VictimFaction == "" {
		return false
	}

	var candidates []*Mission
	for _, m := range set {
		if strings.HasPrefix(m.Name, prefixMassacre) && m.TargetFaction == b.VictimFaction {
			candidates = append(candidates, m)
		}
	}
	sortByAcceptance(candidates)

	credited := make(map[string]struct{})
	changed := false
	for _, m := range candidates {
		if _, done := credited[m.Faction]; done {
			continue
		}
		if m.VictimCount.Get() >= m.KillCount {
			continue
		}
		m.VictimCount.Add(1)
		credited[m.Faction] = struct{}{}
		changed = true
	}
	return changed
}

// ApplyCargoDelivery adds the delivered quantity to the mission named by d
// when it is in set. Over-delivery is not capped.
func ApplyCargoDelivery(d journal.CargoDepot, set Set) bool {
	m, ok := set[ID(d.MissionID)]
	if !ok {
		return false
	}
	m.DeliveredCount.Add(d.Count)
	return true
}

func sortByAcceptance(ms []*Mission) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].AcceptedAt.Equal(ms[j].AcceptedAt) {
			return ms[i].AcceptedAt.Before(ms[j].AcceptedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}

func sortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
