// ABOUTME: WebSocket transport for the hub using gorilla/websocket
// ABOUTME: One read loop feeds Handle; one write loop drains the outbox and sends pings

package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/trio-gateway/internal/lifecycle"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 10
)

// IdentifyFunc resolves the client behind an upgrade request. Returning an
// error rejects the connection with 401.
type IdentifyFunc func(r *http.Request) (Identity, error)

// Handler upgrades HTTP requests and attaches each connection to a hub.
type Handler struct {
	hub      *Hub
	identify IdentifyFunc
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a websocket endpoint. An empty allowedOrigins accepts
// any origin.
func NewHandler(hub *Hub, identify IdentifyFunc, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:      hub,
		identify: identify,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, allowedOrigins)
			},
		},
		logger: logger.With("component", "websocket"),
	}
}

func originAllowed(r *http.Request, allowed []string) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.Contains(allowed, origin) || slices.Contains(allowed, u.Host)
}

// ServeHTTP runs one connection until the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := h.identify(r)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	ctx := r.Context()
	connID := uuid.New().String()
	events, err := h.hub.Connect(ctx, connID, id)
	if err != nil {
		h.logger.Error("failed to register connection", "error", err)
		_ = conn.Close()
		return
	}
	defer h.hub.Disconnect(connID)

	go h.writeLoop(conn, events)
	h.readLoop(conn, connID)
}

func (h *Handler) readLoop(conn *websocket.Conn, connID string) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Frames run under the hub's context, not the request's, so a frame in
	// flight when the client goes away still completes.
	// A malformed frame is answered with an error event; only transport
	// failures end the loop.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", "conn_id", connID, "error", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Debug("malformed frame", "conn_id", connID, "error", err)
			h.hub.reject(connID, EventError, lifecycle.CodeValidation, "malformed frame: expected a JSON object with an event field")
			continue
		}
		h.hub.Handle(h.hub.work, connID, env)
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, events <-chan Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
