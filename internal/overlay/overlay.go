// Package overlay feeds summary lines to in-game overlay clients over a
// websocket. Each message names a slot, its text and colour, and how many
// seconds it stays on screen. Newer messages for a slot replace older ones.
package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is one overlay line.
type Message struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Color string `json:"color"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	TTL   int    `json:"ttl"`
	Size  string `json:"size,omitempty"`
}

const (
	// DefaultColor is used when SendLines is given none.
	DefaultColor = "green"

	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Overlay clients run locally and do not send a browser Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type slot struct {
	msg     Message
	expires time.Time
}

// Hub fans messages out to every connected client and replays lines that
// are still on screen to clients that connect late.
type Hub struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	enabled bool
	ttl     time.Duration
	clients map[*client]struct{}
	slots   map[string]slot
	closed  bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// NewHub returns a hub whose lines last ttl.
func NewHub(enabled bool, ttl time.Duration, opts ...Option) *Hub {
	h := &Hub{
		logger:  slog.Default(),
		now:     time.Now,
		enabled: enabled,
		ttl:     ttl,
		clients: make(map[*client]struct{}),
		slots:   make(map[string]slot),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "overlay")
	return h
}

// Configure updates the enabled flag and TTL, as on a config reload.
func (h *Hub) Configure(enabled bool, ttl time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enabled = enabled
	h.ttl = ttl
	if !enabled {
		h.slots = make(map[string]slot)
	}
}

// Enabled reports whether lines are being sent.
func (h *Hub) Enabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// SendLines shows lines one below another in slots id-0, id-1 and so on.
// Nothing is sent while the hub is disabled.
func (h *Hub) SendLines(id string, lines []string, color string) {
	if color == "" {
		color = DefaultColor
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.enabled || h.closed {
		return
	}

	ttl := int(h.ttl / time.Second)
	expires := h.now().Add(h.ttl)
	for i, line := range lines {
		msg := Message{
			ID:    fmt.Sprintf("%s-%d", id, i),
			Text:  line,
			Color: color,
			X:     0,
			Y:     i,
			TTL:   ttl,
		}
		h.slots[msg.ID] = slot{msg: msg, expires: expires}
		h.broadcast(msg)
	}
}

// broadcast queues msg for every client. Callers hold mu. A client whose
// buffer is full is dropped.
func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode overlay message", "error", err)
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("overlay client too slow, disconnecting")
			h.drop(c)
		}
	}
}

// drop removes c. Callers hold mu.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Live returns the lines still on screen, ordered by slot.
func (h *Hub) Live() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live()
}

func (h *Hub) live() []Message {
	now := h.now()
	var out []Message
	for id, s := range h.slots {
		if !now.Before(s.expires) {
			delete(h.slots, id)
			continue
		}
		m := s.msg
		m.TTL = int(s.expires.Sub(now).Round(time.Second) / time.Second)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ServeHTTP upgrades the request to a websocket and streams messages.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("overlay upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	for _, m := range h.live() {
		data, err := json.Marshal(m)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
	h.mu.Unlock()
	h.logger.Debug("overlay client connected", "remote", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client input and notices disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		h.drop(c)
		h.mu.Unlock()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Serve runs a standalone server for the hub on addr until ctx ends.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/overlay", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.drop(c)
	}
}
