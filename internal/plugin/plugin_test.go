package plugin

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missiond/internal/config"
	"missiond/internal/eventbus"
	"missiond/internal/journal"
	"missiond/internal/mission"
	"missiond/internal/overlay"
	"missiond/internal/repository"
	"missiond/internal/rollup"
	"missiond/internal/store"
)

var clock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	cmdrA    = `{"timestamp":"2024-03-01T10:00:00Z","event":"Commander","FID":"F1","Name":"Alpha"}`
	snapshot = `{"timestamp":"2024-03-01T10:00:01Z","event":"Missions","Active":[{"MissionID":100}],"Failed":[],"Complete":[]}`
	massacre = `{"timestamp":"2024-03-01T10:05:00Z","event":"MissionAccepted","Faction":"Alliance Office","Name":"Mission_Massacre_Pirate","TargetType":"$MissionUtil_FactionTag_Pirate;","TargetFaction":"Bad Guys","KillCount":3,"DestinationSystem":"Sol","Expiry":"2024-03-05T10:00:00Z","Reward":1000000,"MissionID":100}`
	bounty   = `{"timestamp":"2024-03-01T10:30:00Z","event":"Bounty","Target":"viper","VictimFaction":"Bad Guys","TotalReward":12000}`
	mining   = `{"timestamp":"2024-03-01T11:00:00Z","event":"MissionAccepted","Faction":"Miners Union","Name":"Mission_Mining","Commodity":"$Gold_Name;","Commodity_Localised":"Gold","Count":10,"Expiry":"2024-03-06T10:00:00Z","Reward":500000,"MissionID":200}`
	deliver  = `{"timestamp":"2024-03-01T11:30:00Z","event":"CargoDepot","MissionID":200,"UpdateType":"Deliver","CargoType":"Gold","Count":4}`
	complete = `{"timestamp":"2024-03-01T11:45:00Z","event":"MissionCompleted","MissionID":100,"Name":"Mission_Massacre_Pirate"}`
)

func writeJournal(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func testConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Journal.Dir = dir
	cfg.Journal.ValidateEvents = false
	return cfg
}

func event(t *testing.T, line string) *journal.Event {
	t.Helper()
	e, err := journal.Parse([]byte(line))
	require.NoError(t, err)
	return e
}

func newPlugin(t *testing.T, cfg *config.Config, opts ...Option) *Plugin {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return clock }), WithUnknownRecorder(mission.Discard{})}, opts...)
	p := New(cfg, opts...)
	t.Cleanup(p.Close)
	return p
}

func TestStart_RestoresActiveFromHistory(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "Journal.2024-03-01T100000.01.log", cmdrA, snapshot, massacre, bounty)

	p := newPlugin(t, testConfig(dir))
	require.NoError(t, p.Start(context.Background()))

	assert.True(t, p.Started())
	assert.Equal(t, repository.Initialized, p.Repository().State())
	assert.Equal(t, 1, p.History().Files)

	d := p.Dashboard()
	assert.Equal(t, "Alpha", d.Player)
	assert.Equal(t, clock, d.GeneratedAt)
	require.NotNil(t, d.Massacre)
	g := d.Massacre.Groups["Alliance Office"]
	require.NotNil(t, g)
	assert.Equal(t, 1, g.Progress)
	assert.Equal(t, 3, g.Target)
}

func TestStart_WithoutRestoreWaitsForSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "Journal.2024-03-01T100000.01.log", cmdrA, snapshot, massacre)
	cfg := testConfig(dir)
	cfg.Journal.RestoreActive = false

	p := newPlugin(t, cfg)
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, repository.HasMissionData, p.Repository().State())
	assert.Empty(t, p.Dashboard().Player)

	require.NoError(t, p.JournalEntry("Alpha", event(t, snapshot)))
	assert.Equal(t, repository.Initialized, p.Repository().State())
	assert.Len(t, p.Repository().Active(), 1)
}

func TestStart_MissingJournalDir(t *testing.T) {
	p := newPlugin(t, testConfig(filepath.Join(t.TempDir(), "missing")))
	err := p.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, p.Started())
}

func TestEventsBeforeStart(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "Journal.2024-03-01T100000.01.log", cmdrA, massacre)
	cfg := testConfig(dir)

	p := newPlugin(t, cfg)
	require.NoError(t, p.JournalEntry("Alpha", event(t, mining)))
	require.NoError(t, p.JournalEntry("Alpha", event(t, `{"event":"Missions","Active":[],"Failed":[],"Complete":[]}`)))
	require.NoError(t, p.JournalEntry("Alpha", event(t, bounty)))
	require.NoError(t, p.Start(context.Background()))

	assert.Empty(t, p.Repository().Active(), "cached empty snapshot wins over the history estimate")
	_, ok := p.Repository().Store()["Alpha"][200]
	assert.False(t, ok, "accept before start is dropped")
}

func TestLiveEvents(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "Journal.2024-03-01T100000.01.log", cmdrA, snapshot, massacre)

	bus := eventbus.New()
	var finished []eventbus.MissionFinished
	bus.MissionFinished.Subscribe(func(f eventbus.MissionFinished) { finished = append(finished, f) })
	var dashboards int
	bus.Dashboard.Subscribe(func(rollup.Dashboard) { dashboards++ })

	p := newPlugin(t, testConfig(dir), WithBus(bus))
	require.NoError(t, p.Start(context.Background()))
	start := dashboards

	for _, line := range []string{cmdrA, bounty, mining, deliver} {
		require.NoError(t, p.JournalEntry("Alpha", event(t, line)))
	}
	d := p.Dashboard()
	assert.Equal(t, 1, d.Massacre.Total.Progress)
	require.NotNil(t, d.Mining.Groups["Gold"])
	assert.Equal(t, 4, d.Mining.Groups["Gold"].Progress)
	assert.Equal(t, 3, dashboards-start)

	require.NoError(t, p.JournalEntry("Alpha", event(t, complete)))
	assert.Equal(t, []eventbus.MissionFinished{{ID: 100, Reason: journal.EventMissionCompleted}}, finished)
	assert.True(t, p.Dashboard().Massacre.Empty())

	assert.Equal(t, uint64(1), p.metrics.Accepted.Value())
	assert.Equal(t, uint64(1), p.metrics.Finished.Value())
	assert.Equal(t, uint64(1), p.metrics.BountiesCredited.Value())
	assert.Equal(t, int64(1), p.metrics.Active.Value())
}

func TestUnknownPlayer(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "Journal.2024-03-01T100000.01.log", cmdrA, massacre)

	p := newPlugin(t, testConfig(dir))
	require.NoError(t, p.Start(context.Background()))

	err := p.JournalEntry("Bravo", event(t, mining))
	assert.ErrorIs(t, err, repository.ErrUnknownPlayer)

	require.NoError(t, p.JournalEntry("Bravo", event(t, `{"timestamp":"2024-03-01T12:00:00Z","event":"Commander","FID":"F2","Name":"Bravo"}`)))
	_, ok := p.Repository().Store()["Bravo"]
	assert.False(t, ok, "commander event must not create a mission bucket")

	err = p.JournalEntry("Bravo", event(t, `{"timestamp":"2024-03-01T12:00:01Z","event":"Missions","Active":[{"MissionID":555},{"MissionID":556}],"Failed":[],"Complete":[]}`))
	assert.ErrorIs(t, err, repository.ErrUnknownPlayer)
	assert.ErrorIs(t, p.JournalEntry("Bravo", event(t, mining)), repository.ErrUnknownPlayer)

	require.NoError(t, p.JournalEntry("Alpha", event(t, snapshot)))
	assert.Len(t, p.Repository().Active(), 1)
}

func TestSubcomponentLogsCarryOneComponent(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "Journal.2024-03-01T100000.01.log", cmdrA, massacre)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := newPlugin(t, testConfig(dir), WithLogger(logger))
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.JournalEntry("Alpha", event(t, `{"timestamp":"2024-03-01T12:00:01Z","event":"Missions","Active":[{"MissionID":999}],"Failed":[],"Complete":[]}`)))

	out := buf.String()
	assert.Contains(t, out, "component=history")
	assert.Contains(t, out, "component=repository")
	assert.Contains(t, out, "component=plugin")
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.LessOrEqual(t, strings.Count(line, "component="), 1, line)
	}
}

func TestMalformedPayload(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "Journal.2024-03-01T100000.01.log", cmdrA)

	p := newPlugin(t, testConfig(dir))
	require.NoError(t, p.Start(context.Background()))

	err := p.JournalEntry("Alpha", event(t, `{"event":"Bounty","VictimFaction":42}`))
	assert.ErrorIs(t, err, journal.ErrMalformed)
	err = p.JournalEntry("Alpha", event(t, `{"event":"MissionAccepted","MissionID":0}`))
	assert.ErrorIs(t, err, mission.ErrInvalidMission)
	assert.NoError(t, p.JournalEntry("Alpha", event(t, `{"event":"FSDJump"}`)))
}

func TestReconfigure_DisplayToggles(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "Journal.2024-03-01T100000.01.log", cmdrA, snapshot, massacre)

	cfg := testConfig(dir)
	p := newPlugin(t, cfg)
	require.NoError(t, p.Start(context.Background()))
	assert.Len(t, p.Dashboard().Summaries(), 4)

	var published *config.Config
	p.Bus().Config.Subscribe(func(c *config.Config) { published = c })

	next := cfg.Clone()
	next.Display.Mining = false
	next.Display.Courier = false
	p.Reconfigure(next)

	d := p.Dashboard()
	assert.Nil(t, d.Mining)
	assert.Nil(t, d.Courier)
	assert.NotNil(t, d.Massacre)
	assert.Same(t, next, published)
}

func TestOverlayLines(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "Journal.2024-03-01T100000.01.log", cmdrA, snapshot, massacre)

	hub := overlay.NewHub(true, 5*time.Second)
	p := newPlugin(t, testConfig(dir), WithOverlay(hub))
	require.NoError(t, p.Start(context.Background()))

	var ids []string
	for _, m := range hub.Live() {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, "massacre-0")
	assert.Contains(t, ids, "massacre-1")
	assert.Contains(t, ids, "courier-0")

	next := p.cfg.Clone()
	next.Overlay.Enabled = false
	p.Reconfigure(next)
	assert.False(t, hub.Enabled())
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "Journal.2024-03-01T100000.01.log", cmdrA, snapshot, massacre)

	db, err := store.Open(filepath.Join(t.TempDir(), "missions.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p := newPlugin(t, testConfig(dir), WithArchive(NewArchive(db, nil)))
	require.NoError(t, p.Start(context.Background()))

	for _, line := range []string{cmdrA, bounty, mining, deliver, complete} {
		require.NoError(t, p.JournalEntry("Alpha", event(t, line)))
	}

	ctx := context.Background()
	r, err := db.Get(ctx, "Alpha", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Progress)
	assert.Equal(t, journal.EventMissionCompleted, r.FinishReason)
	assert.Equal(t, clock, r.FinishedAt)

	r, err = db.Get(ctx, "Alpha", 200)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Progress)
	assert.True(t, r.Active())

	acts, err := db.Activities(ctx, "Alpha", 100)
	require.NoError(t, err)
	var types []store.ActivityType
	for _, a := range acts {
		types = append(types, a.Type)
	}
	assert.Equal(t, []store.ActivityType{store.ActivityBounty, store.ActivityFinished}, types)

	cmdrs, err := db.Commanders(ctx)
	require.NoError(t, err)
	require.Len(t, cmdrs, 1)
	assert.Equal(t, "Alpha", cmdrs[0].Name)
}
