// ABOUTME: Realtime hub dispatching connection events to lifecycle, presence and the router
// ABOUTME: Chat replies run on a per-session serial queue so sessions never block each other

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/trio-gateway/internal/conversation"
	"github.com/2389/trio-gateway/internal/lifecycle"
	"github.com/2389/trio-gateway/internal/presence"
	"github.com/2389/trio-gateway/internal/store"
)

// DefaultGracePeriod is how long a disconnected user stays a live
// participant before the leave is recorded.
const DefaultGracePeriod = 30 * time.Second

// leaveTimeout bounds the durable leave applied when a grace window expires.
const leaveTimeout = 5 * time.Second

// Identity is what the transport knows about a connecting client. UserID is
// empty for anonymous connections.
type Identity struct {
	UserID    string
	Name      string
	Email     string
	Role      string
	RemoteIP  string
	UserAgent string
}

// Config tunes the hub.
type Config struct {
	GracePeriod time.Duration
	Now         func() time.Time
}

// Hub is the single entry point for connection-scoped events.
type Hub struct {
	sessions *lifecycle.Manager
	router   *conversation.Router
	store    store.Store
	presence *presence.Registry
	leaves   *presence.DeferredLeaves
	outboxes *Outboxes
	queue    *serialQueue
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	identities map[string]Identity

	// work is the parent context of queued replies; cancelled on forced shutdown.
	work       context.Context
	cancelWork context.CancelFunc
}

// NewHub wires a hub over its collaborators.
func NewHub(sessions *lifecycle.Manager, router *conversation.Router, s store.Store, reg *presence.Registry, cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	work, cancel := context.WithCancel(context.Background())
	return &Hub{
		sessions:   sessions,
		router:     router,
		store:      s,
		presence:   reg,
		leaves:     presence.NewDeferredLeaves(cfg.GracePeriod),
		outboxes:   NewOutboxes(logger),
		queue:      newSerialQueue(),
		logger:     logger.With("component", "realtime"),
		now:        cfg.Now,
		identities: make(map[string]Identity),
		work:       work,
		cancelWork: cancel,
	}
}

// Connect registers a new connection and returns the channel of events to
// write to it. The channel is closed when the connection is disconnected
// or ctx ends.
func (h *Hub) Connect(ctx context.Context, connID string, id Identity) (<-chan Event, error) {
	if err := h.presence.Register(connID, id.UserID, "", presence.Info{Name: id.Name, Email: id.Email, Role: id.Role}); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.identities[connID] = id
	h.mu.Unlock()

	h.logger.Debug("client connected", "conn_id", connID, "user_id", id.UserID)
	return h.outboxes.Open(ctx, connID), nil
}

// Handle dispatches one inbound frame. Failures are reported to the
// connection as events, never returned.
func (h *Hub) Handle(ctx context.Context, connID string, env Envelope) {
	switch env.Event {
	case EventJoinSession:
		var p JoinPayload
		if !h.decode(connID, env, EventJoinError, &p) {
			return
		}
		h.join(ctx, connID, p)
	case EventLeaveSession:
		var p LeavePayload
		if len(env.Data) > 0 && !h.decode(connID, env, EventError, &p) {
			return
		}
		h.leave(ctx, connID)
	case EventSendMessage:
		var p SendPayload
		if !h.decode(connID, env, EventMessageError, &p) {
			return
		}
		h.send(ctx, connID, p)
	case EventTypingStart:
		h.typing(connID, true)
	case EventTypingStop:
		h.typing(connID, false)
	default:
		h.reject(connID, EventError, lifecycle.CodeValidation, "unknown event "+env.Event)
	}
}

// Disconnect removes a connection. Room members are told immediately; the
// durable leave waits for the grace period and is cancelled by a rejoin.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	delete(h.identities, connID)
	h.mu.Unlock()

	m, ok := h.presence.Deregister(connID)
	h.outboxes.Close(connID)
	if !ok || m.SessionID == "" {
		return
	}

	h.broadcast(m.SessionID, Event{Name: EventUserDisconnected, Data: PresenceChange{
		UserID: m.UserID, UserInfo: m.Info, Timestamp: h.now(),
	}})
	if h.presence.HasUser(m.SessionID, m.UserID) {
		return
	}
	h.leaves.Schedule(m.SessionID, m.UserID, func() {
		h.expireGrace(m.SessionID, m.UserID, connID)
	})
	h.logger.Info("client disconnected", "conn_id", connID, "session_id", m.SessionID, "user_id", m.UserID)
}

// Stats reports live connections and rooms.
func (h *Hub) Stats() presence.Stats {
	return h.presence.Stats()
}

// Shutdown waits for queued replies to finish, or cancels them when ctx
// ends first, then closes every connection. Pending grace-window leaves
// are dropped.
func (h *Hub) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.queue.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		h.cancelWork()
		err = ctx.Err()
	}
	h.cancelWork()
	h.leaves.Close()
	h.outboxes.CloseAll()
	return err
}

func (h *Hub) decode(connID string, env Envelope, errEvent string, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		h.reject(connID, errEvent, lifecycle.CodeValidation, "invalid "+env.Event+" payload")
		return false
	}
	return true
}

func (h *Hub) identity(connID string) Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.identities[connID]
}

func (h *Hub) reject(connID, event string, code lifecycle.Code, msg string) {
	h.outboxes.Send(connID, Event{Name: event, Data: ErrorPayload{Code: code, Message: msg}})
}

func (h *Hub) rejectErr(connID, event string, err error) {
	code := lifecycle.CodeOf(err)
	msg := "internal error"
	var le *lifecycle.Error
	if errors.As(err, &le) {
		msg = le.Message
	} else if code != lifecycle.CodeInternal {
		msg = err.Error()
	}
	h.reject(connID, event, code, msg)
}

// broadcast sends ev to the room as it is now, minus any excluded connections.
func (h *Hub) broadcast(sessionID string, ev Event, except ...string) {
	h.outboxes.Publish(h.presence.ConnIDs(sessionID, except...), ev)
}

func (h *Hub) join(ctx context.Context, connID string, p JoinPayload) {
	id := h.identity(connID)
	userID := id.UserID
	if userID == "" {
		userID = p.UserID
	}
	info := p.UserInfo
	if info.Name == "" {
		info.Name = id.Name
	}
	if info.Email == "" {
		info.Email = id.Email
	}
	if info.Role == "" {
		info.Role = id.Role
	}
	if p.SessionID == "" || userID == "" {
		h.reject(connID, EventJoinError, lifecycle.CodeValidation, "session_id and user_id are required")
		return
	}

	if m, ok := h.presence.Lookup(connID); ok && m.SessionID != "" {
		if m.SessionID == p.SessionID && m.UserID == userID {
			h.reject(connID, EventJoinError, lifecycle.CodeConflict, "already joined this session")
			return
		}
		h.leaveRoom(ctx, connID, m, EventUserLeft)
	}

	req := lifecycle.JoinRequest{
		SessionID: p.SessionID,
		User: lifecycle.UserInfo{
			ID:          userID,
			DisplayName: info.Name,
			Email:       info.Email,
			Role:        store.ParticipantRole(info.Role),
		},
		Connection: store.Connection{ConnID: connID, RemoteIP: id.RemoteIP, UserAgent: id.UserAgent},
	}

	// A pending grace-window leave means the user is still live; take the
	// record over. A user already connected to the room gets a normal join,
	// which rejects the duplicate.
	graceCancelled := h.leaves.Cancel(p.SessionID, userID)
	var (
		res *lifecycle.JoinResult
		err error
	)
	if h.presence.HasUser(p.SessionID, userID) {
		res, err = h.sessions.Join(ctx, req)
	} else {
		res, err = h.sessions.Reconnect(ctx, req)
	}
	if err != nil {
		if graceCancelled {
			h.expireGrace(p.SessionID, userID, "")
		}
		h.logger.Info("join rejected", "session_id", p.SessionID, "user_id", userID, "code", lifecycle.CodeOf(err), "error", err)
		h.rejectErr(connID, EventJoinError, err)
		return
	}

	if err := h.presence.SetUser(connID, userID, info); err != nil {
		h.logger.Warn("connection vanished during join", "conn_id", connID, "error", err)
		return
	}
	if _, err := h.presence.Move(connID, p.SessionID); err != nil {
		h.logger.Warn("connection vanished during join", "conn_id", connID, "error", err)
		return
	}

	h.broadcast(p.SessionID, Event{Name: EventUserJoined, Data: PresenceChange{
		UserID: userID, UserInfo: info, Timestamp: h.now(),
	}}, connID)

	details, err := h.sessions.Details(ctx, p.SessionID, userID)
	if err != nil {
		h.logger.Warn("failed to load session details", "session_id", p.SessionID, "error", err)
		details = &lifecycle.Details{Session: res.Session}
	}
	h.outboxes.Send(connID, Event{Name: EventSessionJoined, Data: SessionJoined{
		Session: details,
		Members: h.presence.Members(p.SessionID),
	}})
}

func (h *Hub) leave(ctx context.Context, connID string) {
	m, ok := h.presence.Lookup(connID)
	if !ok || m.SessionID == "" {
		return
	}
	h.leaveRoom(ctx, connID, m, EventUserLeft)
}

// leaveRoom takes the connection out of its room, tells the others, and
// records the durable leave unless the user is still connected elsewhere.
func (h *Hub) leaveRoom(ctx context.Context, connID string, m presence.Member, event string) {
	if _, err := h.presence.Move(connID, ""); err != nil {
		h.logger.Warn("failed to leave room", "conn_id", connID, "error", err)
	}
	h.broadcast(m.SessionID, Event{Name: event, Data: PresenceChange{
		UserID: m.UserID, UserInfo: m.Info, Timestamp: h.now(),
	}})
	if h.presence.HasUser(m.SessionID, m.UserID) {
		return
	}
	h.leaves.Cancel(m.SessionID, m.UserID)
	if _, err := h.sessions.Leave(ctx, m.SessionID, m.UserID); err != nil {
		h.logger.Warn("failed to record leave", "session_id", m.SessionID, "user_id", m.UserID, "error", err)
	}
}

// expireGrace applies the durable leave for a user whose grace window ran
// out, unless they came back on another connection meanwhile. A non-empty
// connID limits the leave to a record still bound to that connection.
func (h *Hub) expireGrace(sessionID, userID, connID string) {
	if h.presence.HasUser(sessionID, userID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	var (
		res *lifecycle.LeaveResult
		err error
	)
	if connID == "" {
		res, err = h.sessions.Leave(ctx, sessionID, userID)
	} else {
		res, err = h.sessions.LeaveIfConnection(ctx, sessionID, userID, connID)
	}
	if err != nil {
		h.logger.Warn("failed to record leave after grace period", "session_id", sessionID, "user_id", userID, "error", err)
		return
	}
	if !res.Changed {
		return
	}
	h.logger.Info("grace period expired", "session_id", sessionID, "user_id", userID, "paused", res.Paused)
}

func (h *Hub) typing(connID string, typing bool) {
	m, changed, err := h.presence.SetTyping(connID, typing)
	if err != nil || !changed {
		return
	}
	h.broadcast(m.SessionID, Event{Name: EventUserTyping, Data: TypingChange{
		UserID: m.UserID, UserInfo: m.Info, Typing: typing,
	}}, connID)
}

func (h *Hub) send(ctx context.Context, connID string, p SendPayload) {
	m, ok := h.presence.Lookup(connID)
	if !ok || m.SessionID == "" {
		h.reject(connID, EventMessageError, lifecycle.CodeForbidden, "join a session before sending messages")
		return
	}
	content := strings.TrimSpace(p.Content)
	if content == "" {
		h.reject(connID, EventMessageError, lifecycle.CodeValidation, "message content is required")
		return
	}
	kind := p.MessageType
	if kind == "" {
		kind = store.KindText
	}
	if !kind.Valid() {
		h.reject(connID, EventMessageError, lifecycle.CodeValidation, "unknown message type "+string(kind))
		return
	}
	if err := h.sessions.Touch(ctx, m.SessionID, m.UserID); err != nil {
		h.rejectErr(connID, EventMessageError, err)
		return
	}

	msg := &store.Message{
		ID:         uuid.New().String(),
		SessionID:  m.SessionID,
		SenderID:   m.UserID,
		SenderKind: store.SenderUser,
		Kind:       kind,
		Content:    content,
		Status:     store.MessageSent,
		CreatedAt:  h.now(),
	}
	// The router retries persistence when UserMessageID is left empty.
	persistedID := msg.ID
	if err := h.store.CreateMessage(ctx, msg); err != nil {
		h.logger.Error("failed to persist user message", "session_id", m.SessionID, "error", err)
		persistedID = ""
	}
	if _, _, err := h.presence.SetTyping(connID, false); err != nil {
		h.logger.Debug("failed to clear typing", "conn_id", connID, "error", err)
	}

	h.broadcast(m.SessionID, Event{Name: EventNewMessage, Data: userMessageView(msg, m.Info.Name)}, connID)

	sessionID := m.SessionID
	h.queue.Do(sessionID, func() {
		h.broadcast(sessionID, Event{Name: EventBotTyping, Data: BotTyping{Typing: true}})
		reply := h.router.Process(h.work, conversation.Exchange{
			SessionID:     sessionID,
			UserID:        msg.SenderID,
			Content:       msg.Content,
			Kind:          msg.Kind,
			UserMessageID: persistedID,
		})
		h.broadcast(sessionID, Event{Name: EventNewMessage, Data: botMessageView(reply.Message)})
		h.broadcast(sessionID, Event{Name: EventBotTyping, Data: BotTyping{Typing: false}})
		if len(reply.Scenarios) > 0 {
			h.broadcast(sessionID, Event{Name: EventScenariosGenerated, Data: ScenariosGenerated{
				Scenarios: scenarioViews(reply.Scenarios),
			}})
		}
	})
}
