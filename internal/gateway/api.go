// ABOUTME: HTTP API handlers for sessions, scenarios and messages
// ABOUTME: Every route runs behind the auth middleware; lifecycle codes map onto HTTP statuses

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/2389/trio-gateway/internal/auth"
	"github.com/2389/trio-gateway/internal/conversation"
	"github.com/2389/trio-gateway/internal/lifecycle"
	"github.com/2389/trio-gateway/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// InviteRequest is the JSON request body for POST /api/sessions/{id}/participants.
type InviteRequest struct {
	UserID string                `json:"user_id"`
	Name   string                `json:"name"`
	Email  string                `json:"email,omitempty"`
	Role   store.ParticipantRole `json:"role,omitempty"`
}

// ReasonRequest is the JSON request body for POST /api/scenarios/{id}/reject.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// ContentRequest carries new text for a scenario version or a message edit.
type ContentRequest struct {
	Content string `json:"content"`
}

// ReactionRequest is the JSON request body for the reaction endpoints.
type ReactionRequest struct {
	Reaction string `json:"reaction"`
}

// SessionListResponse is the JSON response for GET /api/sessions.
type SessionListResponse struct {
	Sessions []*store.Session `json:"sessions"`
	Count    int              `json:"count"`
}

// ScenarioListResponse is the JSON response for GET /api/sessions/{id}/scenarios.
type ScenarioListResponse struct {
	Scenarios []*store.Scenario `json:"scenarios"`
	Count     int               `json:"count"`
}

// SessionStatsResponse is the JSON response for GET /api/sessions/{id}/stats.
type SessionStatsResponse struct {
	*lifecycle.Stats
	Context *conversation.ContextStats `json:"context,omitempty"`
}

// registerAPIRoutes registers the REST surface on mux behind the auth middleware.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	routes := map[string]http.HandlerFunc{
		"POST /api/sessions":                    g.handleCreateSession,
		"GET /api/sessions":                     g.handleListSessions,
		"GET /api/sessions/{id}":                g.handleGetSession,
		"GET /api/sessions/{id}/stats":          g.handleSessionStats,
		"POST /api/sessions/{id}/complete":      g.handleCompleteSession,
		"POST /api/sessions/{id}/archive":       g.handleArchiveSession,
		"POST /api/sessions/{id}/participants":  g.handleInvite,
		"POST /api/sessions/{id}/context/clear": g.handleClearContext,
		"GET /api/sessions/{id}/scenarios":      g.handleListScenarios,
		"POST /api/scenarios/{id}/approve":      g.handleApproveScenario,
		"POST /api/scenarios/{id}/reject":       g.handleRejectScenario,
		"POST /api/scenarios/{id}/versions":     g.handleReviseScenario,
		"POST /api/scenarios/{id}/validate":     g.handleValidateScenario,
		"PATCH /api/messages/{id}":              g.handleEditMessage,
		"DELETE /api/messages/{id}":             g.handleDeleteMessage,
		"POST /api/messages/{id}/reactions":     g.handleReaction(true),
		"DELETE /api/messages/{id}/reactions":   g.handleReaction(false),
		"POST /api/messages/{id}/read":          g.handleMarkRead,
		"GET /api/stats":                        g.handleGatewayStats,
	}
	for pattern, h := range routes {
		mux.Handle(pattern, g.auth.Middleware(h))
	}
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, code lifecycle.Code, message string) {
	g.writeJSON(w, status, map[string]string{"error": message, "code": string(code)})
}

// statusFor maps a lifecycle code onto an HTTP status.
func statusFor(code lifecycle.Code) int {
	switch code {
	case lifecycle.CodeValidation:
		return http.StatusBadRequest
	case lifecycle.CodeNotFound:
		return http.StatusNotFound
	case lifecycle.CodeConflict:
		return http.StatusConflict
	case lifecycle.CodeForbidden:
		return http.StatusForbidden
	case lifecycle.CodeCapacity:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError classifies err and writes it. Internal errors are logged and
// reported without detail.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := lifecycle.CodeOf(err)
	status := statusFor(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	g.sendJSONError(w, status, code, msg)
}

// decodeBody decodes a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &lifecycle.Error{Code: lifecycle.CodeValidation, Message: "invalid JSON body", Err: err}
	}
	return nil
}

// caller returns the authenticated user as lifecycle.UserInfo.
func caller(r *http.Request) lifecycle.UserInfo {
	a := auth.MustFromContext(r.Context())
	return lifecycle.UserInfo{
		ID:          a.UserID,
		DisplayName: a.DisplayName(),
		Email:       a.Email,
		Role:        store.ParticipantRole(a.Role),
	}
}

// requireMember fails with forbidden unless userID has a participant record.
func (g *Gateway) requireMember(r *http.Request, sessionID, userID string) error {
	if _, err := g.sessions.Get(r.Context(), sessionID); err != nil {
		return err
	}
	ps, err := g.sessions.Participants(r.Context(), sessionID)
	if err != nil {
		return err
	}
	for _, p := range ps {
		if p.UserID == userID {
			return nil
		}
	}
	return &lifecycle.Error{Code: lifecycle.CodeForbidden, Message: "not a participant of this session"}
}

func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.CreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	req.Creator = caller(r)

	sess, err := g.sessions.Create(r.Context(), req)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, sess)
}

// handleListSessions lists the caller's sessions, filtered by ?status= and
// searched by ?q= over title and description.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessions, err := g.sessions.List(r.Context(), lifecycle.ListFilter{
		UserID: caller(r).ID,
		Status: store.SessionStatus(q.Get("status")),
		Query:  q.Get("q"),
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	g.writeJSON(w, http.StatusOK, SessionListResponse{Sessions: sessions, Count: len(sessions)})
}

func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	details, err := g.sessions.Details(r.Context(), r.PathValue("id"), caller(r).ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, details)
}

func (g *Gateway) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.requireMember(r, id, caller(r).ID); err != nil {
		g.writeError(w, r, err)
		return
	}
	stats, err := g.sessions.Stats(r.Context(), id)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	resp := SessionStatsResponse{Stats: stats}
	ctxStats, ok, err := g.router.Stats(r.Context(), id)
	if err != nil {
		g.logger.Warn("failed to read context stats", "session_id", id, "error", err)
	} else if ok {
		resp.Context = ctxStats
	}
	g.writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	sess, err := g.sessions.Complete(r.Context(), r.PathValue("id"), caller(r).ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, sess)
}

func (g *Gateway) handleArchiveSession(w http.ResponseWriter, r *http.Request) {
	sess, err := g.sessions.Archive(r.Context(), r.PathValue("id"), caller(r).ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, sess)
}

func (g *Gateway) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		g.sendJSONError(w, http.StatusBadRequest, lifecycle.CodeValidation, "user_id is required")
		return
	}

	p, err := g.sessions.Invite(r.Context(), r.PathValue("id"), caller(r).ID, lifecycle.UserInfo{
		ID:          req.UserID,
		DisplayName: req.Name,
		Email:       req.Email,
		Role:        req.Role,
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, p)
}

func (g *Gateway) handleClearContext(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.requireMember(r, id, caller(r).ID); err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := g.router.ClearContext(r.Context(), id); err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (g *Gateway) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.requireMember(r, id, caller(r).ID); err != nil {
		g.writeError(w, r, err)
		return
	}
	scenarios, err := g.sessions.Scenarios(r.Context(), id)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if scenarios == nil {
		scenarios = []*store.Scenario{}
	}
	g.writeJSON(w, http.StatusOK, ScenarioListResponse{Scenarios: scenarios, Count: len(scenarios)})
}

func (g *Gateway) handleApproveScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := g.sessions.ApproveScenario(r.Context(), r.PathValue("id"), caller(r).ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, sc)
}

func (g *Gateway) handleRejectScenario(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	sc, err := g.sessions.RejectScenario(r.Context(), r.PathValue("id"), caller(r).ID, req.Reason)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, sc)
}

func (g *Gateway) handleReviseScenario(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	sc, err := g.sessions.ReviseScenario(r.Context(), r.PathValue("id"), caller(r).ID, req.Content)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, sc)
}

func (g *Gateway) handleValidateScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := g.sessions.ValidateScenario(r.Context(), r.PathValue("id"), caller(r).ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, sc)
}

func (g *Gateway) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	msg, err := g.sessions.EditMessage(r.Context(), r.PathValue("id"), caller(r).ID, req.Content)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, msg)
}

func (g *Gateway) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := g.sessions.DeleteMessage(r.Context(), r.PathValue("id"), caller(r).ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, msg)
}

// handleReaction adds or removes the caller's reaction. Both directions are
// idempotent.
func (g *Gateway) handleReaction(add bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReactionRequest
		if err := decodeBody(w, r, &req); err != nil {
			g.writeError(w, r, err)
			return
		}
		msg, err := g.sessions.React(r.Context(), r.PathValue("id"), caller(r).ID, req.Reaction, add)
		if err != nil {
			g.writeError(w, r, err)
			return
		}
		g.writeJSON(w, http.StatusOK, msg)
	}
}

func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	msg, err := g.sessions.MarkRead(r.Context(), r.PathValue("id"), caller(r).ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, msg)
}

// handleGatewayStats reports live connection and room counts.
func (g *Gateway) handleGatewayStats(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.hub.Stats())
}
