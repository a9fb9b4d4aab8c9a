package overlay

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Clients() == n }, 5*time.Second, 10*time.Millisecond)
}

func TestSendLinesBroadcasts(t *testing.T) {
	h := NewHub(true, 5*time.Second)
	conn := dial(t, h)
	waitClients(t, h, 1)

	h.SendLines("massacre", []string{"Alliance 5/8", "Total 5/8"}, "")

	first := read(t, conn)
	assert.Equal(t, Message{ID: "massacre-0", Text: "Alliance 5/8", Color: DefaultColor, X: 0, Y: 0, TTL: 5}, first)
	second := read(t, conn)
	assert.Equal(t, "massacre-1", second.ID)
	assert.Equal(t, 1, second.Y)
}

func TestDisabledHubSendsNothing(t *testing.T) {
	h := NewHub(false, 5*time.Second)
	h.SendLines("mining", []string{"Gold 4/15"}, "red")
	assert.Empty(t, h.Live())
	assert.False(t, h.Enabled())

	h.Configure(true, 3*time.Second)
	h.SendLines("mining", []string{"Gold 4/15"}, "red")
	live := h.Live()
	require.Len(t, live, 1)
	assert.Equal(t, 3, live[0].TTL)
	assert.Equal(t, "red", live[0].Color)

	h.Configure(false, 3*time.Second)
	assert.Empty(t, h.Live())
}

func TestLateClientGetsLiveLines(t *testing.T) {
	h := NewHub(true, 10*time.Second)
	h.SendLines("courier", []string{`Sol\Galileo 2`}, "yellow")

	conn := dial(t, h)
	m := read(t, conn)
	assert.Equal(t, "courier-0", m.ID)
	assert.Equal(t, "yellow", m.Color)
}

func TestExpiredLinesAreNotReplayed(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h := NewHub(true, 5*time.Second)
	h.now = func() time.Time { return now }

	h.SendLines("collect", []string{"Tea 1/3"}, "")
	require.Len(t, h.Live(), 1)

	now = now.Add(2 * time.Second)
	live := h.Live()
	require.Len(t, live, 1)
	assert.Equal(t, 3, live[0].TTL)

	now = now.Add(3 * time.Second)
	assert.Empty(t, h.Live())
}

func TestReplacingSlot(t *testing.T) {
	h := NewHub(true, 5*time.Second)
	h.SendLines("mining", []string{"old"}, "")
	h.SendLines("mining", []string{"new"}, "")
	live := h.Live()
	require.Len(t, live, 1)
	assert.Equal(t, "new", live[0].Text)
}

func TestCloseDisconnects(t *testing.T) {
	h := NewHub(true, 5*time.Second)
	conn := dial(t, h)
	waitClients(t, h, 1)

	h.Close()
	assert.Equal(t, 0, h.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
