package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"globelod/pkg/lod"
	"globelod/pkg/model"
	"globelod/pkg/query"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

// Message kinds streamed on /api/events.
const (
	KindTerrain = "terrain"
	KindLOD     = "lod"
	KindQuery   = "query"
)

// Message is one frame on the event stream.
type Message struct {
	Kind    string             `json:"kind"`
	Session string             `json:"session,omitempty"`
	At      time.Time          `json:"at"`
	Terrain *TerrainMessage    `json:"terrain,omitempty"`
	LOD     *LODMessage        `json:"lod,omitempty"`
	Query   *query.Result      `json:"query,omitempty"`
	Event   *model.StatusEvent `json:"event,omitempty"`
}

type TerrainMessage struct {
	Status model.TerrainStatus `json:"status"`
	Detail string              `json:"detail,omitempty"`
}

type LODMessage struct {
	Profile  lod.Profile `json:"profile"`
	From     lod.Profile `json:"from"`
	MPP      float64     `json:"mpp"`
	Switched bool        `json:"switched"`
	Forced   bool        `json:"forced"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// EventHub fans status changes out to websocket subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the frame.
type EventHub struct {
	session  string
	now      func() time.Time
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	dropped int
}

// NewEventHub creates a hub for one session.
func NewEventHub(session string) *EventHub {
	return &EventHub{
		session: session,
		now:     time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*client]struct{}),
	}
}

// TerrainStatus implements viewer.StatusSink.
func (h *EventHub) TerrainStatus(status model.TerrainStatus, detail string) {
	h.publish(Message{
		Kind:    KindTerrain,
		Terrain: &TerrainMessage{Status: status, Detail: detail},
		Event: &model.StatusEvent{
			Type:    model.EventTerrain,
			Title:   fmt.Sprintf("Terrain %s", status),
			Summary: detail,
		},
	})
}

// LODChanged implements viewer.StatusSink. Only committed switches are streamed.
func (h *EventHub) LODChanged(ev lod.Event) {
	if !ev.Switched {
		return
	}
	h.publish(Message{
		Kind: KindLOD,
		At:   ev.At,
		LOD: &LODMessage{
			Profile:  ev.Profile,
			From:     ev.From,
			MPP:      ev.MPP,
			Switched: ev.Switched,
			Forced:   ev.Forced,
		},
	})
}

// QueryResult implements query.Sink.
func (h *EventHub) QueryResult(r query.Result) {
	h.publish(Message{Kind: KindQuery, Query: &r})
}

// Clients returns the number of connected subscribers.
func (h *EventHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many frames were skipped for slow subscribers.
func (h *EventHub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *EventHub) publish(m Message) {
	m.Session = h.session
	if m.At.IsZero() {
		m.At = h.now()
	}
	if m.Event != nil {
		m.Event.Session = h.session
		m.Event.Timestamp = m.At
	}
	data, err := json.Marshal(m)
	if err != nil {
		slog.Error("Failed to encode event", "kind", m.Kind, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped++
		}
	}
}

// ServeHTTP upgrades the connection and streams events until the client leaves.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Event stream upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Debug("Event subscriber connected", "remote", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client frames and detects disconnects.
func (h *EventHub) readPump(c *client) {
	defer h.remove(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Event subscriber read failed", "error", err)
			}
			return
		}
	}
}

func (h *EventHub) writePump(c *client) {
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

func (h *EventHub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every subscriber.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
