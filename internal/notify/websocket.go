package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/dayplan/internal/identity"
)

const writeTimeout = 10 * time.Second

// wsMessage is a client-to-server frame.
type wsMessage struct {
	Type string `json:"type"`
}

// Handler upgrades requests on /ws/decisions and attaches them to the hub.
// The session comes from identity.Middleware.
type Handler struct {
	hub            *Hub
	allowedOrigins []string
	isDev          bool
}

// NewHandler creates a WebSocket handler for hub.
func NewHandler(hub *Hub, allowedOrigins []string, isDev bool) *Handler {
	return &Handler{hub: hub, allowedOrigins: allowedOrigins, isDev: isDev}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	log := h.hub.logger.With("session_id", sessionID, "ip", identity.IPFromRequest(r))
	if sessionID == "" {
		http.Error(w, "session required", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			log.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	c := h.hub.Register(sessionID, ws)
	defer h.hub.Unregister(sessionID, c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.readLoop(ctx, ws)
	}()
	h.writeLoop(ctx, ws, c)
	log.Debug("Decision feed ended")
}

// readLoop answers pings and detects client disconnects.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var msg wsMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.Type == "ping" {
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(wctx, websocket.MessageText, []byte(`{"type":"pong"}`))
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, ws *websocket.Conn, c *Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.hub.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}
