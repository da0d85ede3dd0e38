// ABOUTME: Store interface and data types for trio-gateway persistence
// ABOUTME: Defines Session, Participant, Message, Scenario and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness guard
var ErrDuplicate = errors.New("already exists")

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionWaiting   SessionStatus = "waiting"
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionArchived  SessionStatus = "archived"
)

// BusinessContext tags the domain a session is about.
type BusinessContext string

const (
	ContextGeneric    BusinessContext = "generic"
	ContextEcommerce  BusinessContext = "ecommerce"
	ContextFinance    BusinessContext = "finance"
	ContextHealthcare BusinessContext = "healthcare"
	ContextEducation  BusinessContext = "education"
)

// Valid reports whether c is one of the known business contexts.
func (c BusinessContext) Valid() bool {
	switch c {
	case ContextGeneric, ContextEcommerce, ContextFinance, ContextHealthcare, ContextEducation:
		return true
	}
	return false
}

// SessionSettings tunes how the assistant behaves in a session.
type SessionSettings struct {
	BotStyle         string `json:"bot_style"`
	DetailLevel      string `json:"detail_level"`
	Language         string `json:"language"`
	AutoSaveInterval int    `json:"auto_save_interval"`
}

// Session is a bounded collaborative workshop producing test scenarios.
type Session struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	BusinessContext   BusinessContext `json:"business_context"`
	Status            SessionStatus   `json:"status"`
	CreatedBy         string          `json:"created_by"`
	EstimatedDuration int             `json:"estimated_duration"` // minutes
	ActualDuration    *int            `json:"actual_duration,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	Settings          SessionSettings `json:"settings"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ParticipantRole is the part a participant plays in the workshop.
type ParticipantRole string

const (
	RoleBusinessAnalyst ParticipantRole = "business_analyst"
	RoleDeveloper       ParticipantRole = "developer"
	RoleTester          ParticipantRole = "tester"
	RoleObserver        ParticipantRole = "observer"
)

// Valid reports whether r is one of the known roles.
func (r ParticipantRole) Valid() bool {
	switch r {
	case RoleBusinessAnalyst, RoleDeveloper, RoleTester, RoleObserver:
		return true
	}
	return false
}

// ParticipantStatus tracks a participant's membership state.
type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantJoined   ParticipantStatus = "joined"
	ParticipantActive   ParticipantStatus = "active"
	ParticipantInactive ParticipantStatus = "inactive"
	ParticipantLeft     ParticipantStatus = "left"
)

// Live reports whether the status counts towards the session's capacity.
func (s ParticipantStatus) Live() bool {
	return s == ParticipantJoined || s == ParticipantActive
}

// Permissions is the set of actions a participant may take.
type Permissions struct {
	CanEditScenarios bool `json:"can_edit_scenarios"`
	CanInviteOthers  bool `json:"can_invite_others"`
	CanModerate      bool `json:"can_moderate"`
	CanExport        bool `json:"can_export"`
}

// DefaultPermissions is what an invited participant receives.
func DefaultPermissions() Permissions {
	return Permissions{CanEditScenarios: true, CanExport: true}
}

// FullPermissions is what a session creator receives.
func FullPermissions() Permissions {
	return Permissions{CanEditScenarios: true, CanInviteOthers: true, CanModerate: true, CanExport: true}
}

// Connection is where a live participant is connected from.
type Connection struct {
	ConnID    string `json:"conn_id,omitempty"`
	RemoteIP  string `json:"remote_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Participant is a user's membership record within one session.
type Participant struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"session_id"`
	UserID       string            `json:"user_id"`
	DisplayName  string            `json:"display_name"`
	Email        string            `json:"email,omitempty"`
	Role         ParticipantRole   `json:"role"`
	Status       ParticipantStatus `json:"status"`
	Permissions  Permissions       `json:"permissions"`
	Connection   Connection        `json:"connection"`
	JoinedAt     *time.Time        `json:"joined_at,omitempty"`
	LastActivity time.Time         `json:"last_activity"`
	CreatedAt    time.Time         `json:"created_at"`
}

// SenderKind distinguishes human and assistant authored messages.
type SenderKind string

const (
	SenderUser SenderKind = "user"
	SenderBot  SenderKind = "bot"
)

// MessageKind is the kind of content a message carries.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindScenario MessageKind = "scenario"
	KindQuestion MessageKind = "question"
	KindSystem   MessageKind = "system"
	KindFile     MessageKind = "file"
)

// Valid reports whether k is one of the known message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindScenario, KindQuestion, KindSystem, KindFile:
		return true
	}
	return false
}

// MessageStatus tracks delivery and edit state.
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageEdited    MessageStatus = "edited"
	MessageDeleted   MessageStatus = "deleted"
)

// MessageMetadata records how an assistant reply was produced.
type MessageMetadata struct {
	Model            string   `json:"model,omitempty"`
	TokensUsed       int      `json:"tokens_used,omitempty"`
	ProcessingTimeMS int64    `json:"processing_time_ms,omitempty"`
	Confidence       float64  `json:"confidence,omitempty"`
	Intent           string   `json:"intent,omitempty"`
	References       []string `json:"references,omitempty"`
}

// Message is one turn of conversation in a session. SenderID is empty for
// assistant-authored messages.
type Message struct {
	ID              string              `json:"id"`
	SessionID       string              `json:"session_id"`
	SenderID        string              `json:"sender_id,omitempty"`
	SenderKind      SenderKind          `json:"sender_kind"`
	Kind            MessageKind         `json:"type"`
	Content         string              `json:"content"`
	RenderedContent string              `json:"rendered_content,omitempty"`
	Metadata        MessageMetadata     `json:"metadata"`
	ParentID        string              `json:"parent_id,omitempty"`
	Status          MessageStatus       `json:"status"`
	Reactions       map[string][]string `json:"reactions,omitempty"`
	EditedAt        *time.Time          `json:"edited_at,omitempty"`
	DeletedAt       *time.Time          `json:"deleted_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// ScenarioType is the Gherkin construct a scenario body represents.
type ScenarioType string

const (
	TypeScenario   ScenarioType = "scenario"
	TypeOutline    ScenarioType = "outline"
	TypeBackground ScenarioType = "background"
)

// ScenarioCategory classifies what a scenario exercises.
type ScenarioCategory string

const (
	CategoryNominal       ScenarioCategory = "nominal"
	CategoryError         ScenarioCategory = "error"
	CategoryEdgeCase      ScenarioCategory = "edge_case"
	CategoryPerformance   ScenarioCategory = "performance"
	CategorySecurity      ScenarioCategory = "security"
	CategoryAccessibility ScenarioCategory = "accessibility"
)

// ScenarioPriority ranks scenarios for implementation.
type ScenarioPriority string

const (
	PriorityLow      ScenarioPriority = "low"
	PriorityMedium   ScenarioPriority = "medium"
	PriorityHigh     ScenarioPriority = "high"
	PriorityCritical ScenarioPriority = "critical"
)

// ScenarioStatus is where a scenario sits in its review workflow.
type ScenarioStatus string

const (
	ScenarioDraft       ScenarioStatus = "draft"
	ScenarioReview      ScenarioStatus = "review"
	ScenarioApproved    ScenarioStatus = "approved"
	ScenarioImplemented ScenarioStatus = "implemented"
	ScenarioTested      ScenarioStatus = "tested"
	ScenarioArchived    ScenarioStatus = "archived"
)

// Validation is the outcome of checking a scenario body.
type Validation struct {
	SyntaxValid       bool     `json:"syntax_valid"`
	Errors            []string `json:"errors,omitempty"`
	CompletenessScore int      `json:"completeness_score"`
	QualityScore      int      `json:"quality_score"`
	Suggestions       []string `json:"suggestions,omitempty"`
}

// Scenario is a versioned test specification. Revisions never mutate a
// prior record; they create a new one whose ParentID names the previous.
type Scenario struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"session_id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Content     string           `json:"content"`
	Type        ScenarioType     `json:"type"`
	Category    ScenarioCategory `json:"category"`
	Priority    ScenarioPriority `json:"priority"`
	Status      ScenarioStatus   `json:"status"`
	AuthorID    string           `json:"author_id,omitempty"`
	AuthorKind  SenderKind       `json:"author_kind"`
	Tags        []string         `json:"tags,omitempty"`
	Validation  Validation       `json:"validation"`
	Version     int              `json:"version"`
	ParentID    string           `json:"parent_id,omitempty"`
	ApprovedBy  string           `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time       `json:"approved_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// SessionFilter narrows ListSessions results.
type SessionFilter struct {
	UserID string        // sessions the user participates in; empty means all
	Status SessionStatus // empty means any status
	Query  string        // substring match on title or description
	Limit  int
}

// SessionStore persists sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error)
	// ListIdleSessions returns active sessions whose most recent participant
	// activity (or creation, if none) is before cutoff.
	ListIdleSessions(ctx context.Context, cutoff time.Time) ([]*Session, error)
}

// ParticipantStore persists participants.
type ParticipantStore interface {
	// CreateParticipant inserts a participant, returning ErrDuplicate if the
	// user already has a record for the session.
	CreateParticipant(ctx context.Context, p *Participant) error
	GetParticipant(ctx context.Context, sessionID, userID string) (*Participant, error)
	UpdateParticipant(ctx context.Context, p *Participant) error
	ListParticipants(ctx context.Context, sessionID string) ([]*Participant, error)
	CountLiveParticipants(ctx context.Context, sessionID string) (int, error)
}

// MessageStore persists messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	UpdateMessage(ctx context.Context, m *Message) error
	// ListMessages returns the most recent limit messages in creation order.
	// A limit of 0 returns every message.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)
}

// ScenarioStore persists scenarios.
type ScenarioStore interface {
	CreateScenario(ctx context.Context, s *Scenario) error
	GetScenario(ctx context.Context, id string) (*Scenario, error)
	UpdateScenario(ctx context.Context, s *Scenario) error
	ListScenarios(ctx context.Context, sessionID string) ([]*Scenario, error)
}

// Store is the full persistence surface used by the gateway.
type Store interface {
	SessionStore
	ParticipantStore
	MessageStore
	ScenarioStore
	Close() error
}
