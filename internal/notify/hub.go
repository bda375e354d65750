// Package notify streams background planning results to connected clients
// over WebSockets.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/ashureev/dayplan/internal/metrics"
)

// sendBuffer is how many messages a slow client may fall behind before
// messages to it are dropped.
const sendBuffer = 16

// Subscriber is one open decision-feed connection. It is created by
// Register and released with Unregister.
type Subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans messages out to every connection of a session.
type Hub struct {
	mu      sync.RWMutex
	active  map[string]map[*Subscriber]struct{}
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHub creates an empty hub. logger and m may be nil.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active:  make(map[string]map[*Subscriber]struct{}),
		logger:  logger,
		metrics: m,
	}
}

// Register adds a connection for a session.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) *Subscriber {
	c := &Subscriber{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.active[sessionID]; !exists {
		h.active[sessionID] = make(map[*Subscriber]struct{})
	}
	h.active[sessionID][c] = struct{}{}
	if h.metrics != nil {
		h.metrics.Subscribers.Inc()
	}
	h.logger.Info("Decision feed registered", "session_id", sessionID, "connections", len(h.active[sessionID]))
	return c
}

// Unregister removes a connection. Unknown subscribers are ignored.
func (h *Hub) Unregister(sessionID string, c *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.active[sessionID]
	if !ok {
		return
	}
	if _, exists := clients[c]; !exists {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.active, sessionID)
	}
	if h.metrics != nil {
		h.metrics.Subscribers.Dec()
	}
	h.logger.Info("Decision feed unregistered", "session_id", sessionID)
}

// Publish sends v as JSON to every connection of the session. Clients whose
// buffer is full miss the message.
func (h *Hub) Publish(sessionID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode notification", "session_id", sessionID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.active[sessionID] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Decision feed client too slow, dropping message", "session_id", sessionID)
		}
	}
}

// Count returns the open connections of a session.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[sessionID])
}

// CloseSession terminates every connection of a session.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.active[sessionID]
	if !ok {
		return
	}
	for c := range clients {
		_ = c.conn.Close(websocket.StatusNormalClosure, "session closed")
		close(c.send)
		if h.metrics != nil {
			h.metrics.Subscribers.Dec()
		}
	}
	delete(h.active, sessionID)
	h.logger.Info("Decision feeds closed", "session_id", sessionID, "connections", len(clients))
}
