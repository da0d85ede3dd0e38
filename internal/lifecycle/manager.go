// ABOUTME: Session lifecycle manager for admission, leave and reconnect
// ABOUTME: Serializes membership changes per session across store round trips

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/trio-gateway/internal/store"
)

// DefaultMaxParticipants is used when Config.MaxParticipants is zero.
const DefaultMaxParticipants = 10

// Config holds lifecycle tuning.
type Config struct {
	MaxParticipants int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Manager applies lifecycle transitions to sessions and participants.
type Manager struct {
	store           store.Store
	maxParticipants int
	now             func() time.Time
	logger          *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// UserInfo identifies the user behind a membership change.
type UserInfo struct {
	ID          string                `json:"id"`
	DisplayName string                `json:"name"`
	Email       string                `json:"email,omitempty"`
	Role        store.ParticipantRole `json:"role,omitempty"`
}

// JoinRequest asks to admit a user into a session.
type JoinRequest struct {
	SessionID  string
	User       UserInfo
	Connection store.Connection
}

// JoinResult is the state after a successful join or reconnect.
type JoinResult struct {
	Session     *store.Session
	Participant *store.Participant
	// Started is true when this join moved the session out of waiting or paused.
	Started bool
}

// LeaveResult is the state after a leave.
type LeaveResult struct {
	Participant *store.Participant
	// Changed is false when the call was a no-op.
	Changed bool
	// Paused is true when this leave removed the last live participant.
	Paused bool
}

// New creates a lifecycle manager backed by s.
func New(s store.Store, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = DefaultMaxParticipants
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:           s,
		maxParticipants: cfg.MaxParticipants,
		now:             cfg.Now,
		logger:          logger,
		locks:           make(map[string]*sessionLock),
	}
}

// MaxParticipants returns the configured capacity of each session.
func (m *Manager) MaxParticipants() int {
	return m.maxParticipants
}

// lock serializes membership changes for one session. The returned func
// releases it; locks are dropped once nobody holds or waits on them.
func (m *Manager) lock(sessionID string) func() {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		m.locks[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, sessionID)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) getSession(ctx context.Context, id string) (*store.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &Error{Code: CodeNotFound, Message: "session not found", Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return sess, nil
}

// findParticipant returns nil without error when the user has no record.
func (m *Manager) findParticipant(ctx context.Context, sessionID, userID string) (*store.Participant, error) {
	p, err := m.store.GetParticipant(ctx, sessionID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading participant: %w", err)
	}
	return p, nil
}

// Join admits a user into a session.
func (m *Manager) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	if req.SessionID == "" || req.User.ID == "" {
		return nil, newError(CodeValidation, "session id and user id are required")
	}

	unlock := m.lock(req.SessionID)
	defer unlock()

	sess, err := m.getSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	existing, err := m.findParticipant(ctx, req.SessionID, req.User.ID)
	if err != nil {
		return nil, err
	}

	returning := existing != nil && sess.Status == store.SessionPaused
	if !joinable(sess.Status) && !returning {
		return nil, newError(CodeConflict, fmt.Sprintf("session not open (status %s)", sess.Status))
	}

	live, err := m.store.CountLiveParticipants(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("counting participants: %w", err)
	}
	if live >= m.maxParticipants {
		return nil, newError(CodeCapacity, fmt.Sprintf("session is full (%d participants)", m.maxParticipants))
	}

	if existing != nil && existing.Status.Live() {
		return nil, newError(CodeConflict, "user already joined this session")
	}

	now := m.now()
	p, err := m.admit(ctx, existing, req, now)
	if err != nil {
		return nil, err
	}

	started, err := m.activate(ctx, sess, now)
	if err != nil {
		return nil, err
	}

	m.logger.Info("participant joined", "session_id", sess.ID, "user_id", req.User.ID, "live", live+1)
	return &JoinResult{Session: sess, Participant: p, Started: started}, nil
}

// admit creates or re-admits the participant record as joined.
func (m *Manager) admit(ctx context.Context, existing *store.Participant, req JoinRequest, now time.Time) (*store.Participant, error) {
	if existing == nil {
		role := req.User.Role
		if !role.Valid() {
			role = store.RoleObserver
		}
		p := &store.Participant{
			ID:           uuid.New().String(),
			SessionID:    req.SessionID,
			UserID:       req.User.ID,
			DisplayName:  displayName(req.User),
			Email:        req.User.Email,
			Role:         role,
			Status:       store.ParticipantJoined,
			Permissions:  store.DefaultPermissions(),
			Connection:   req.Connection,
			JoinedAt:     &now,
			LastActivity: now,
			CreatedAt:    now,
		}
		if err := m.store.CreateParticipant(ctx, p); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return nil, &Error{Code: CodeConflict, Message: "user already joined this session", Err: err}
			}
			return nil, fmt.Errorf("creating participant: %w", err)
		}
		return p, nil
	}

	p := existing
	p.Status = store.ParticipantJoined
	p.Connection = req.Connection
	p.JoinedAt = &now
	p.LastActivity = now
	if req.User.DisplayName != "" {
		p.DisplayName = req.User.DisplayName
	}
	if err := m.store.UpdateParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("re-admitting participant: %w", err)
	}
	return p, nil
}

func displayName(u UserInfo) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ID
}

// Reconnect restamps the connection of a user who is still live in the
// session, skipping the duplicate check. Users who are not live go through
// the normal Join path.
func (m *Manager) Reconnect(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	unlock := m.lock(req.SessionID)

	sess, err := m.getSession(ctx, req.SessionID)
	if err != nil {
		unlock()
		return nil, err
	}
	p, err := m.findParticipant(ctx, req.SessionID, req.User.ID)
	if err != nil {
		unlock()
		return nil, err
	}
	if p == nil || !p.Status.Live() {
		unlock()
		return m.Join(ctx, req)
	}
	defer unlock()

	if sess.Status == store.SessionCompleted || sess.Status == store.SessionArchived {
		return nil, newError(CodeConflict, fmt.Sprintf("session not open (status %s)", sess.Status))
	}

	now := m.now()
	p.Connection = req.Connection
	p.LastActivity = now
	if err := m.store.UpdateParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("restamping participant: %w", err)
	}
	started, err := m.activate(ctx, sess, now)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("participant reconnected", "session_id", sess.ID, "user_id", p.UserID)
	return &JoinResult{Session: sess, Participant: p, Started: started}, nil
}

// activate moves a waiting or paused session to active, stamping the start
// time on first activation. It reports whether the status changed.
func (m *Manager) activate(ctx context.Context, sess *store.Session, now time.Time) (bool, error) {
	if sess.Status != store.SessionWaiting && sess.Status != store.SessionPaused {
		return false, nil
	}
	if sess.StartedAt == nil {
		sess.StartedAt = &now
	}
	from := sess.Status
	sess.Status = store.SessionActive
	sess.UpdatedAt = now
	if err := m.store.UpdateSession(ctx, sess); err != nil {
		return false, fmt.Errorf("starting session: %w", err)
	}
	m.logger.Info("session started", "session_id", sess.ID, "from", from)
	return true, nil
}

// Leave marks a user as having left. Calling it for a user who is not live
// is a no-op. Removing the last live participant pauses the session.
func (m *Manager) Leave(ctx context.Context, sessionID, userID string) (*LeaveResult, error) {
	return m.leave(ctx, sessionID, userID, "")
}

// LeaveIfConnection is Leave for a user last seen on connID. When the
// participant record has since been taken over by another connection the
// call is a no-op, so a late grace timer cannot evict a reconnected user.
func (m *Manager) LeaveIfConnection(ctx context.Context, sessionID, userID, connID string) (*LeaveResult, error) {
	if connID == "" {
		return nil, newError(CodeValidation, "connection id is required")
	}
	return m.leave(ctx, sessionID, userID, connID)
}

func (m *Manager) leave(ctx context.Context, sessionID, userID, connID string) (*LeaveResult, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	sess, err := m.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	p, err := m.findParticipant(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, newError(CodeNotFound, "participant not found")
	}
	if !p.Status.Live() {
		return &LeaveResult{Participant: p}, nil
	}
	if connID != "" && p.Connection.ConnID != connID {
		m.logger.Debug("leave skipped, participant reconnected", "session_id", sessionID, "user_id", userID, "conn_id", connID)
		return &LeaveResult{Participant: p}, nil
	}

	now := m.now()
	p.Status = store.ParticipantLeft
	p.Connection = store.Connection{}
	p.LastActivity = now
	if err := m.store.UpdateParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("marking participant left: %w", err)
	}
	m.logger.Info("participant left", "session_id", sessionID, "user_id", userID)

	result := &LeaveResult{Participant: p, Changed: true}

	live, err := m.store.CountLiveParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("counting participants: %w", err)
	}
	if live == 0 && CanTransition(sess.Status, store.SessionPaused) {
		sess.Status = store.SessionPaused
		sess.UpdatedAt = now
		if err := m.store.UpdateSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("pausing session: %w", err)
		}
		result.Paused = true
		m.logger.Info("session paused", "session_id", sessionID, "reason", "last participant left")
	}

	return result, nil
}

// Touch records activity by a participant. A joined participant becomes
// active on their first contribution.
func (m *Manager) Touch(ctx context.Context, sessionID, userID string) error {
	unlock := m.lock(sessionID)
	defer unlock()

	p, err := m.findParticipant(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if p == nil || !p.Status.Live() {
		return newError(CodeForbidden, "not a live participant of this session")
	}

	p.LastActivity = m.now()
	if p.Status == store.ParticipantJoined {
		p.Status = store.ParticipantActive
	}
	if err := m.store.UpdateParticipant(ctx, p); err != nil {
		return fmt.Errorf("touching participant: %w", err)
	}
	return nil
}
