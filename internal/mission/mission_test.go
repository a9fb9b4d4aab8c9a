package mission

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missiond/internal/journal"
)

func accepted(t *testing.T, line string) *Mission {
	t.Helper()
	e, err := journal.Parse([]byte(line))
	require.NoError(t, err)
	m, err := FromAccepted(e)
	require.NoError(t, err)
	return m
}

func massacre(id ID, faction, target string, kills int, at time.Time) *Mission {
	return &Mission{
		ID:            id,
		Name:          "Mission_Massacre_Pirate",
		Faction:       faction,
		TargetFaction: target,
		TargetType:    "$MissionUtil_FactionTag_Pirate;",
		KillCount:     kills,
		AcceptedAt:    at,
	}
}

func TestFromAccepted(t *testing.T) {
	m := accepted(t, `{"timestamp":"2024-03-01T10:00:00Z","event":"MissionAccepted","Faction":"Alliance Office","Name":"Mission_Collect","LocalisedName":"Source goods","Commodity":"$Gold_Name;","Commodity_Localised":"Gold","Count":12,"DestinationSystem":"Sol","DestinationStation":"Abraham Lincoln","Expiry":"2024-03-02T10:00:00Z","Wing":true,"Reward":250000,"MissionID":42}`)

	assert.Equal(t, ID(42), m.ID)
	assert.Equal(t, "Gold", m.Commodity)
	assert.Equal(t, 12, m.Count)
	assert.Equal(t, int64(250000), m.Reward)
	assert.True(t, m.Wing)
	assert.Equal(t, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), m.Expiry)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), m.AcceptedAt)
	assert.False(t, m.VictimCount.Observed)
	assert.False(t, m.DeliveredCount.Observed)
	assert.Contains(t, string(m.Raw), `"MissionID":42`)
}

func TestFromAccepted_CommodityFallback(t *testing.T) {
	m := accepted(t, `{"event":"MissionAccepted","Name":"Mission_Mining","Commodity":"Painite","MissionID":1}`)
	assert.Equal(t, "Painite", m.Commodity)
}

func TestFromAccepted_Invalid(t *testing.T) {
	for _, line := range []string{
		`{"event":"MissionAccepted","Name":"Mission_Mining"}`,
		`{"event":"MissionAccepted","MissionID":5}`,
	} {
		e, err := journal.Parse([]byte(line))
		require.NoError(t, err)
		_, err = FromAccepted(e)
		assert.ErrorIs(t, err, ErrInvalidMission)
	}
}

func TestCounter(t *testing.T) {
	var c Counter
	assert.Equal(t, 0, c.Get())
	assert.False(t, c.Observed)

	c.Add(0)
	assert.True(t, c.Observed)
	c.Add(3)
	assert.Equal(t, 3, c.Get())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		targetType string
		want       Kind
	}{
		{"Mission_Massacre_Pirate", "$MissionUtil_FactionTag_Pirate;", KindMassacre},
		{"Mission_Massacre_Pirate", "", KindUnknown},
		{"Mission_Massacre_OnFoot_Pirate", "$MissionUtil_FactionTag_Pirate;", KindUnknown},
		{"Mission_MiningMetal", "", KindMining},
		{"Mission_Mining_OnFoot", "", KindUnknown},
		{"Mission_Collect_Industrial", "", KindCollect},
		{"Mission_Courier_Elections", "", KindCourier},
		{"Mission_Delivery", "", KindUnknown},
		{"Mission_OnFoot_Collect", "", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.targetType, func(t *testing.T) {
			got := Classify(&Mission{Name: tt.name, TargetType: tt.targetType})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "massacre", KindMassacre.String())
	assert.Equal(t, "courier", KindCourier.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestApplyBounty_OnePerFaction(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	set := Set{
		1: massacre(1, "A", "F", 10, t0),
		2: massacre(2, "A", "F", 10, t0.Add(time.Minute)),
		3: massacre(3, "B", "F", 10, t0.Add(2*time.Minute)),
		4: massacre(4, "C", "Other", 10, t0),
	}

	changed := ApplyBounty(journal.Bounty{VictimFaction: "F"}, set)
	require.True(t, changed)

	assert.Equal(t, 1, set[1].VictimCount.Get())
	assert.False(t, set[2].VictimCount.Observed)
	assert.Equal(t, 1, set[3].VictimCount.Get())
	assert.False(t, set[4].VictimCount.Observed)
}

func TestApplyBounty_FullMissionDoesNotConsumeFaction(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	full := massacre(1, "A", "F", 2, t0)
	full.VictimCount.Add(2)
	next := massacre(2, "A", "F", 5, t0.Add(time.Hour))
	set := Set{1: full, 2: next}

	require.True(t, ApplyBounty(journal.Bounty{VictimFaction: "F"}, set))
	assert.Equal(t, 2, full.VictimCount.Get())
	assert.Equal(t, 1, next.VictimCount.Get())
}

func TestApplyBounty_NoMatch(t *testing.T) {
	m := massacre(1, "A", "F", 2, time.Time{})
	m.VictimCount.Add(2)
	set := Set{1: m, 2: {ID: 2, Name: "Mission_Mining", TargetFaction: "F"}}

	assert.False(t, ApplyBounty(journal.Bounty{VictimFaction: "F"}, set))
	assert.False(t, ApplyBounty(journal.Bounty{VictimFaction: "G"}, set))
	assert.False(t, ApplyBounty(journal.Bounty{}, set))
	assert.Equal(t, 2, m.VictimCount.Get())
}

func TestApplyBounty_SameTimestampOrdersByID(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	set := Set{
		9: massacre(9, "A", "F", 3, t0),
		4: massacre(4, "A", "F", 3, t0),
	}
	ApplyBounty(journal.Bounty{VictimFaction: "F"}, set)
	assert.Equal(t, 1, set[4].VictimCount.Get())
	assert.Equal(t, 0, set[9].VictimCount.Get())
}

func TestApplyCargoDelivery(t *testing.T) {
	m := &Mission{ID: 7, Name: "Mission_Mining", Count: 10}
	set := Set{7: m}

	require.True(t, ApplyCargoDelivery(journal.CargoDepot{MissionID: 7, UpdateType: "Deliver", Count: 4}, set))
	assert.Equal(t, 4, m.DeliveredCount.Get())

	require.True(t, ApplyCargoDelivery(journal.CargoDepot{MissionID: 7, UpdateType: "Deliver", Count: 8}, set))
	assert.Equal(t, 12, m.DeliveredCount.Get())
	assert.Equal(t, -2, NewMining(m).Remaining())

	assert.False(t, ApplyCargoDelivery(journal.CargoDepot{MissionID: 8, Count: 1}, set))
}

func TestTypedSnapshotsAreCopies(t *testing.T) {
	m := massacre(1, "A", "F", 5, time.Time{})
	m.DestinationSystem = "Sol"
	m.Reward = 100
	m.VictimCount.Add(2)

	snap := NewMassacre(m)
	m.VictimCount.Add(1)

	assert.Equal(t, 2, snap.VictimCount)
	assert.Equal(t, 3, snap.Remaining())
	assert.Equal(t, "Sol", snap.TargetSystem)
	assert.Equal(t, "A", snap.SourceFaction)
	assert.Equal(t, int64(100), snap.Reward)
}

func TestCourierAndCollectSnapshots(t *testing.T) {
	m := &Mission{ID: 3, Name: "Mission_Courier", DestinationSystem: "Lave", DestinationStation: "Lave Station", TargetFaction: "Lave Co", Wing: true}
	c := NewCourier(m)
	assert.Equal(t, "Lave Co", c.TargetFaction)
	assert.Equal(t, "Lave Station", c.TargetStation)
	assert.True(t, c.Wing)

	col := NewCollect(&Mission{ID: 4, Commodity: "Gold", Count: 5})
	assert.Equal(t, 5, col.Remaining())
}

func TestStorePlayer(t *testing.T) {
	s := Store{}
	set := s.Player("A")
	set[1] = &Mission{ID: 1}
	assert.Len(t, s.Player("A"), 1)
	assert.Len(t, s, 1)
}

func TestSetIDs(t *testing.T) {
	set := Set{3: {}, 1: {}, 2: {}}
	assert.Equal(t, []ID{1, 2, 3}, set.IDs())
}

func TestFileRecorder(t *testing.T) {
	dir := t.TempDir()
	r := NewFileRecorder(dir, nil)

	r.Record(&Mission{ID: 1, Raw: []byte(`{"event":"MissionAccepted","MissionID":1,"Name":"Mission_Delivery"}`)})
	r.Record(&Mission{ID: 2, Raw: []byte(`{"event":"MissionAccepted","MissionID":2,"Name":"Mission_Sightseeing"}` + "\n")})
	r.Record(&Mission{ID: 3})

	data, err := os.ReadFile(filepath.Join(dir, journal.UnknownMissionsFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Mission_Delivery")
	assert.Contains(t, lines[1], "Mission_Sightseeing")
}

func TestFileRecorder_UnwritableDirIsIgnored(t *testing.T) {
	r := NewFileRecorder(filepath.Join(t.TempDir(), "missing"), nil)
	assert.NotPanics(t, func() {
		r.Record(&Mission{ID: 1, Raw: []byte(`{}`)})
	})
}
