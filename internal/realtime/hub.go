// Package realtime carries presence and map events over websockets.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mindmap/api/internal/observability"
	"mindmap/api/internal/presence"
)

const (
	maxFrameBytes = 64 << 10
	sendBuffer    = 64
	tickInterval  = 15 * time.Second
	pongWait      = 45 * time.Second
	writeWait     = 10 * time.Second
)

const (
	eventJoin  = "join-map"
	eventLeave = "leave-map"
	eventPing  = "ping"
	eventPong  = "pong"
)

// AuthFunc resolves the signed-in user of an upgrade request, or nil.
type AuthFunc func(r *http.Request) *presence.User

type inboundFrame struct {
	Event string         `json:"event"`
	MapID string         `json:"mapId"`
	User  *presence.User `json:"user,omitempty"`
}

// Hub is the table of open websocket connections. It implements
// presence.Emitter and forwards connection events to a presence.Registry.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	registry *presence.Registry
	auth     AuthFunc
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *observability.Metrics
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	user *presence.User
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewHub builds a hub. allowedOrigin restricts the Origin header of upgrade
// requests; empty or "*" accepts any origin.
func NewHub(auth AuthFunc, allowedOrigin string, logger *slog.Logger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Hub{
		clients: make(map[string]*client),
		auth:    auth,
		logger:  logger,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

// Bind attaches the registry that receives join, leave and disconnect
// events. It must be called before the hub serves connections.
func (h *Hub) Bind(registry *presence.Registry) {
	h.registry = registry
}

// Emit queues msg for each recipient. Clients whose buffer is full miss the
// message.
func (h *Hub) Emit(recipients []string, msg presence.Message) {
	if len(recipients) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode realtime message", "event", msg.Event, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range recipients {
		c, ok := h.clients[id]
		if !ok {
			continue
		}
		if !c.enqueue(data) {
			h.metrics.MessageDropped()
			h.logger.Warn("realtime send buffer full", "conn_id", id, "event", msg.Event)
		}
	}
}

// Connections reports the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	if h.auth != nil {
		c.user = h.auth(r)
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.metrics.ConnectionOpened()
	h.logger.Debug("websocket connected", "conn_id", c.id)

	go c.writeLoop()
	c.readLoop()
	h.unregister(c)
}

func (h *Hub) unregister(c *client) {
	if h.registry != nil {
		h.registry.Disconnect(c.id)
	}
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	h.metrics.ConnectionClosed()
	h.logger.Debug("websocket disconnected", "conn_id", c.id)
}

func (c *client) readLoop() {
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.hub.logger.Debug("ignoring malformed frame", "conn_id", c.id, "error", err)
			continue
		}
		c.handle(frame)
	}
}

func (c *client) handle(frame inboundFrame) {
	registry := c.hub.registry
	switch frame.Event {
	case eventJoin:
		if registry == nil {
			return
		}
		user := frame.User
		if c.user != nil {
			user = c.user
		}
		registry.Join(frame.MapID, c.id, user)
	case eventLeave:
		if registry == nil {
			return
		}
		registry.Leave(frame.MapID, c.id)
	case eventPing:
		data, _ := json.Marshal(presence.Message{Event: eventPong, MapID: frame.MapID})
		c.enqueue(data)
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
