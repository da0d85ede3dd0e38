// ABOUTME: Liveness and readiness endpoints
// ABOUTME: Readiness fails once shutdown has started so load balancers drain the instance

package gateway

import (
	"net/http"
)

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports whether the gateway accepts new work.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.shuttingDown.Load() {
		g.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	stats := g.presence.Stats()
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"connected_users": stats.Connections,
		"active_sessions": stats.Rooms,
	})
}
