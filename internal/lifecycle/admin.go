// ABOUTME: Session creation, invitation and moderation transitions
// ABOUTME: Complete and archive are gated on the acting participant's moderation permission

package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/trio-gateway/internal/store"
)

// Creation limits.
const (
	MaxTitleLen       = 100
	MaxDescriptionLen = 1000
	MinDuration       = 15
	MaxDuration       = 480
)

// WelcomeMessage is persisted as the first assistant message of each session.
const WelcomeMessage = "Welcome to this three amigos session! I'm here to help you turn your " +
	"requirements into test scenarios. Describe a feature or ask me to generate scenarios to get started."

// DefaultSettings is applied when a session is created without settings.
func DefaultSettings() store.SessionSettings {
	return store.SessionSettings{
		BotStyle:         "professional",
		DetailLevel:      "intermediate",
		Language:         "en",
		AutoSaveInterval: 30,
	}
}

// CreateRequest describes a new session.
type CreateRequest struct {
	Title             string                 `json:"title"`
	Description       string                 `json:"description"`
	BusinessContext   store.BusinessContext  `json:"business_context"`
	EstimatedDuration int                    `json:"estimated_duration"`
	Settings          *store.SessionSettings `json:"settings,omitempty"`
	Invitees          []UserInfo             `json:"participants,omitempty"`
	Creator           UserInfo               `json:"-"`
}

// Validate checks the request against the creation limits.
func (r *CreateRequest) Validate() error {
	title := strings.TrimSpace(r.Title)
	if title == "" || utf8.RuneCountInString(title) > MaxTitleLen {
		return newError(CodeValidation, fmt.Sprintf("title must be 1-%d characters", MaxTitleLen))
	}
	desc := strings.TrimSpace(r.Description)
	if desc == "" || utf8.RuneCountInString(desc) > MaxDescriptionLen {
		return newError(CodeValidation, fmt.Sprintf("description must be 1-%d characters", MaxDescriptionLen))
	}
	if r.BusinessContext == "" {
		r.BusinessContext = store.ContextGeneric
	}
	if !r.BusinessContext.Valid() {
		return newError(CodeValidation, fmt.Sprintf("unknown business context %q", r.BusinessContext))
	}
	if r.EstimatedDuration < MinDuration || r.EstimatedDuration > MaxDuration {
		return newError(CodeValidation, fmt.Sprintf("estimated duration must be %d-%d minutes", MinDuration, MaxDuration))
	}
	if r.Creator.ID == "" {
		return newError(CodeValidation, "creator is required")
	}
	for _, inv := range r.Invitees {
		if inv.ID == "" {
			return newError(CodeValidation, "invited participant needs an id")
		}
		if inv.Role != "" && !inv.Role.Valid() {
			return newError(CodeValidation, fmt.Sprintf("unknown role %q", inv.Role))
		}
	}
	return nil
}

// Create validates req and persists a waiting session, its creator and
// invitees, and a welcome message.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*store.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	settings := DefaultSettings()
	if req.Settings != nil {
		settings = mergeSettings(settings, *req.Settings)
	}

	now := m.now()
	sess := &store.Session{
		ID:                uuid.New().String(),
		Title:             strings.TrimSpace(req.Title),
		Description:       strings.TrimSpace(req.Description),
		BusinessContext:   req.BusinessContext,
		Status:            store.SessionWaiting,
		CreatedBy:         req.Creator.ID,
		EstimatedDuration: req.EstimatedDuration,
		Settings:          settings,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	creator := m.invitedParticipant(sess.ID, req.Creator, store.RoleBusinessAnalyst, now)
	creator.Permissions = store.FullPermissions()
	if err := m.store.CreateParticipant(ctx, creator); err != nil {
		return nil, fmt.Errorf("adding creator: %w", err)
	}

	for _, inv := range req.Invitees {
		if inv.ID == req.Creator.ID {
			continue
		}
		p := m.invitedParticipant(sess.ID, inv, store.RoleObserver, now)
		if err := m.store.CreateParticipant(ctx, p); err != nil {
			// A repeated invitee is not worth failing the whole session over.
			m.logger.Warn("skipping invitee", "session_id", sess.ID, "user_id", inv.ID, "error", err)
		}
	}

	welcome := &store.Message{
		ID:         uuid.New().String(),
		SessionID:  sess.ID,
		SenderKind: store.SenderBot,
		Kind:       store.KindSystem,
		Content:    WelcomeMessage,
		Status:     store.MessageSent,
		CreatedAt:  now,
	}
	if err := m.store.CreateMessage(ctx, welcome); err != nil {
		m.logger.Warn("failed to persist welcome message", "session_id", sess.ID, "error", err)
	}

	m.logger.Info("session created", "session_id", sess.ID, "created_by", sess.CreatedBy, "invitees", len(req.Invitees))
	return sess, nil
}

func mergeSettings(base, over store.SessionSettings) store.SessionSettings {
	if over.BotStyle != "" {
		base.BotStyle = over.BotStyle
	}
	if over.DetailLevel != "" {
		base.DetailLevel = over.DetailLevel
	}
	if over.Language != "" {
		base.Language = over.Language
	}
	if over.AutoSaveInterval > 0 {
		base.AutoSaveInterval = over.AutoSaveInterval
	}
	return base
}

func (m *Manager) invitedParticipant(sessionID string, u UserInfo, defaultRole store.ParticipantRole, now time.Time) *store.Participant {
	role := u.Role
	if !role.Valid() {
		role = defaultRole
	}
	return &store.Participant{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		UserID:       u.ID,
		DisplayName:  displayName(u),
		Email:        u.Email,
		Role:         role,
		Status:       store.ParticipantInvited,
		Permissions:  store.DefaultPermissions(),
		LastActivity: now,
		CreatedAt:    now,
	}
}

// Invite adds an invited participant on behalf of actorID.
func (m *Manager) Invite(ctx context.Context, sessionID, actorID string, invitee UserInfo) (*store.Participant, error) {
	if invitee.ID == "" {
		return nil, newError(CodeValidation, "invited participant needs an id")
	}
	if invitee.Role != "" && !invitee.Role.Valid() {
		return nil, newError(CodeValidation, fmt.Sprintf("unknown role %q", invitee.Role))
	}

	unlock := m.lock(sessionID)
	defer unlock()

	sess, err := m.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == store.SessionArchived || sess.Status == store.SessionCompleted {
		return nil, newError(CodeConflict, fmt.Sprintf("session not open (status %s)", sess.Status))
	}

	actor, err := m.findParticipant(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}
	if actor == nil || !actor.Permissions.CanInviteOthers {
		return nil, newError(CodeForbidden, "inviting requires invite permission")
	}

	live, err := m.store.CountLiveParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("counting participants: %w", err)
	}
	if live >= m.maxParticipants {
		return nil, newError(CodeCapacity, fmt.Sprintf("session is full (%d participants)", m.maxParticipants))
	}

	p := m.invitedParticipant(sessionID, invitee, store.RoleObserver, m.now())
	if err := m.store.CreateParticipant(ctx, p); err != nil {
		return nil, &Error{Code: CodeOf(err), Message: "inviting participant", Err: err}
	}

	m.logger.Info("participant invited", "session_id", sessionID, "user_id", invitee.ID, "by", actorID)
	return p, nil
}

// requireModerator loads the session and checks that actorID may moderate it.
func (m *Manager) requireModerator(ctx context.Context, sessionID, actorID string) (*store.Session, error) {
	sess, err := m.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	actor, err := m.findParticipant(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}
	if actor == nil || !actor.Permissions.CanModerate {
		return nil, newError(CodeForbidden, "moderation permission required")
	}
	return sess, nil
}

// Complete ends an active session and records its actual duration in
// whole minutes.
func (m *Manager) Complete(ctx context.Context, sessionID, actorID string) (*store.Session, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	sess, err := m.requireModerator(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(sess.Status, store.SessionCompleted) {
		return nil, newError(CodeConflict, fmt.Sprintf("cannot complete a %s session", sess.Status))
	}

	now := m.now()
	sess.Status = store.SessionCompleted
	sess.CompletedAt = &now
	sess.UpdatedAt = now
	if sess.StartedAt != nil {
		minutes := int(now.Sub(*sess.StartedAt) / time.Minute)
		sess.ActualDuration = &minutes
	}
	if err := m.store.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("completing session: %w", err)
	}

	m.logger.Info("session completed", "session_id", sessionID, "by", actorID)
	return sess, nil
}

// Archive moves any non-archived session into the terminal archived state.
func (m *Manager) Archive(ctx context.Context, sessionID, actorID string) (*store.Session, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	sess, err := m.requireModerator(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(sess.Status, store.SessionArchived) {
		return nil, newError(CodeConflict, "session is already archived")
	}

	sess.Status = store.SessionArchived
	sess.UpdatedAt = m.now()
	if err := m.store.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("archiving session: %w", err)
	}

	m.logger.Info("session archived", "session_id", sessionID, "by", actorID)
	return sess, nil
}

// SweepIdle pauses active sessions that have seen no participant activity
// for timeout. It returns the ids of the sessions it paused.
func (m *Manager) SweepIdle(ctx context.Context, timeout time.Duration) ([]string, error) {
	cutoff := m.now().Add(-timeout)
	idle, err := m.store.ListIdleSessions(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing idle sessions: %w", err)
	}

	var paused []string
	for _, candidate := range idle {
		ok, err := m.pauseIdle(ctx, candidate.ID)
		if err != nil {
			m.logger.Warn("failed to pause idle session", "session_id", candidate.ID, "error", err)
			continue
		}
		if ok {
			paused = append(paused, candidate.ID)
		}
	}
	if len(paused) > 0 {
		m.logger.Info("paused idle sessions", "count", len(paused))
	}
	return paused, nil
}

func (m *Manager) pauseIdle(ctx context.Context, sessionID string) (bool, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	// Re-read under the lock: a join may have raced the sweep query.
	sess, err := m.getSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !CanTransition(sess.Status, store.SessionPaused) {
		return false, nil
	}

	sess.Status = store.SessionPaused
	sess.UpdatedAt = m.now()
	if err := m.store.UpdateSession(ctx, sess); err != nil {
		return false, fmt.Errorf("pausing session: %w", err)
	}
	return true, nil
}
