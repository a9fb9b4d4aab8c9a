package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missiond/internal/config"
	"missiond/internal/journal"
	"missiond/internal/metrics"
	"missiond/internal/watcher"
)

type call struct {
	player string
	event  string
}

type fakeHandler struct {
	calls   []call
	configs []*config.Config
	err     error
}

func (f *fakeHandler) JournalEntry(player string, e *journal.Event) error {
	f.calls = append(f.calls, call{player, e.Name})
	return f.err
}

func (f *fakeHandler) Reconfigure(cfg *config.Config) {
	f.configs = append(f.configs, cfg)
}

const (
	cmdrA  = `{"timestamp":"2024-03-01T10:00:00Z","event":"Commander","FID":"F1","Name":"Alpha"}`
	cmdrB  = `{"timestamp":"2024-03-01T11:00:00Z","event":"Commander","FID":"F2","Name":"Bravo"}`
	bounty = `{"timestamp":"2024-03-01T10:30:00Z","event":"Bounty","Target":"viper","VictimFaction":"Bad Guys","TotalReward":12000}`
)

func TestHandle_TracksCommander(t *testing.T) {
	h := &fakeHandler{}
	d := New(h)

	require.NoError(t, d.Handle([]byte(bounty)))
	assert.Empty(t, h.calls, "events before a commander are dropped")

	require.NoError(t, d.Handle([]byte(cmdrA)))
	require.NoError(t, d.Handle([]byte(bounty)))
	require.NoError(t, d.Handle([]byte(cmdrB)))
	require.NoError(t, d.Handle([]byte(bounty)))

	assert.Equal(t, []call{
		{"Alpha", "Commander"},
		{"Alpha", "Bounty"},
		{"Bravo", "Commander"},
		{"Bravo", "Bounty"},
	}, h.calls)
	assert.Equal(t, "Bravo", d.Player())
	assert.False(t, d.LastEvent().IsZero())
}

func TestHandle_InitialPlayer(t *testing.T) {
	h := &fakeHandler{}
	d := New(h, WithPlayer("Alpha"))
	require.NoError(t, d.Handle([]byte(bounty)))
	assert.Equal(t, []call{{"Alpha", "Bounty"}}, h.calls)
}

func TestHandle_BadLines(t *testing.T) {
	m := metrics.NewMissions(nil)
	h := &fakeHandler{}
	v, err := journal.NewValidator()
	require.NoError(t, err)
	d := New(h, WithPlayer("Alpha"), WithMetrics(m), WithValidator(v))

	assert.NoError(t, d.Handle([]byte("   ")))
	assert.ErrorIs(t, d.Handle([]byte("{not json")), journal.ErrMalformed)
	assert.ErrorIs(t, d.Handle([]byte(`{"timestamp":"2024-03-01T10:00:00Z","event":"Bounty","VictimFaction":7}`)), journal.ErrMalformed)
	assert.Empty(t, h.calls)
	assert.Equal(t, uint64(2), m.EventsSkipped.Value())
	assert.Zero(t, m.EventsTotal.Value())
}

func TestHandle_HandlerError(t *testing.T) {
	m := metrics.NewMissions(nil)
	boom := errors.New("boom")
	d := New(&fakeHandler{err: boom}, WithPlayer("Alpha"), WithMetrics(m))

	assert.ErrorIs(t, d.Handle([]byte(bounty)), boom)
	assert.Equal(t, uint64(1), m.Errors.Value())
	assert.Equal(t, uint64(1), m.EventsTotal.Value())
	assert.Equal(t, uint64(1), m.EventDuration.Count())
}

func TestRun(t *testing.T) {
	h := &fakeHandler{}
	d := New(h)

	first := config.DefaultConfig()
	second := config.DefaultConfig()
	d.Reconfigure(first)
	d.Reconfigure(second)

	lines := make(chan watcher.Line, 4)
	lines <- watcher.Line{Path: "j.log", Number: 1, Text: []byte(cmdrA)}
	lines <- watcher.Line{Path: "j.log", Number: 2, Text: []byte("garbage")}
	lines <- watcher.Line{Path: "j.log", Number: 3, Text: []byte(bounty)}
	close(lines)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), lines) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after lines closed")
	}

	assert.Equal(t, []call{{"Alpha", "Commander"}, {"Alpha", "Bounty"}}, h.calls)
	assert.LessOrEqual(t, len(h.configs), 1)
	if len(h.configs) == 1 {
		assert.Same(t, second, h.configs[0])
	}
}

func TestRun_Cancel(t *testing.T) {
	d := New(&fakeHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Run(ctx, make(chan watcher.Line))
	assert.ErrorIs(t, err, context.Canceled)
}
