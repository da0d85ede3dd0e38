// ABOUTME: Wire envelopes and payloads exchanged with realtime clients
// ABOUTME: Inbound frames carry raw data decoded per event; outbound frames carry typed payloads

package realtime

import (
	"encoding/json"
	"time"

	"github.com/2389/trio-gateway/internal/lifecycle"
	"github.com/2389/trio-gateway/internal/presence"
	"github.com/2389/trio-gateway/internal/store"
)

// Inbound event names.
const (
	EventJoinSession  = "join_session"
	EventLeaveSession = "leave_session"
	EventSendMessage  = "send_message"
	EventTypingStart  = "typing_start"
	EventTypingStop   = "typing_stop"
)

// Outbound event names.
const (
	EventSessionJoined      = "session_joined"
	EventJoinError          = "join_session_error"
	EventUserJoined         = "user_joined"
	EventUserLeft           = "user_left"
	EventUserDisconnected   = "user_disconnected"
	EventUserTyping         = "user_typing"
	EventNewMessage         = "new_message"
	EventBotTyping          = "bot_typing"
	EventScenariosGenerated = "scenarios_generated"
	EventMessageError       = "message_error"
	EventError              = "error"
)

// BotSenderID identifies the assistant in message events.
const BotSenderID = "bot"

const botName = "Assistant"

// Envelope is an inbound frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound frame.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// JoinPayload is the data of a join_session frame. UserID is only honoured
// when the connection is not authenticated.
type JoinPayload struct {
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id,omitempty"`
	UserInfo  presence.Info `json:"user_info"`
}

// LeavePayload is the data of a leave_session frame. Both fields are
// optional; the connection's current room is used.
type LeavePayload struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// SendPayload is the data of a send_message frame.
type SendPayload struct {
	Content     string            `json:"content"`
	MessageType store.MessageKind `json:"message_type,omitempty"`
}

// SessionJoined answers a successful join.
type SessionJoined struct {
	Session *lifecycle.Details `json:"session"`
	Members []presence.Member  `json:"participants"`
}

// ErrorPayload carries a rejection reason.
type ErrorPayload struct {
	Code    lifecycle.Code `json:"code"`
	Message string         `json:"message"`
}

// PresenceChange announces a user entering or leaving a room.
type PresenceChange struct {
	UserID    string        `json:"user_id"`
	UserInfo  presence.Info `json:"user_info"`
	Timestamp time.Time     `json:"timestamp"`
}

// TypingChange announces a user starting or stopping typing.
type TypingChange struct {
	UserID   string        `json:"user_id"`
	UserInfo presence.Info `json:"user_info"`
	Typing   bool          `json:"typing"`
}

// Sender identifies who wrote a message.
type Sender struct {
	ID   string           `json:"id"`
	Type store.SenderKind `json:"type"`
	Name string           `json:"name"`
}

// MessageView is a message as broadcast to a room.
type MessageView struct {
	ID              string                 `json:"id"`
	Sender          Sender                 `json:"sender"`
	Content         string                 `json:"content"`
	RenderedContent string                 `json:"rendered_content,omitempty"`
	Type            store.MessageKind      `json:"type"`
	Metadata        *store.MessageMetadata `json:"metadata,omitempty"`
	ParentID        string                 `json:"parent_id,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// BotTyping signals that the assistant is working on a reply.
type BotTyping struct {
	Typing bool `json:"typing"`
}

// ScenarioView is a generated scenario as broadcast to a room.
type ScenarioView struct {
	ID       string                 `json:"id"`
	Title    string                 `json:"title"`
	Content  string                 `json:"content"`
	Status   store.ScenarioStatus   `json:"status"`
	Category store.ScenarioCategory `json:"category"`
}

// ScenariosGenerated lists scenarios produced by one exchange.
type ScenariosGenerated struct {
	Scenarios []ScenarioView `json:"scenarios"`
}

func userMessageView(msg *store.Message, name string) MessageView {
	return MessageView{
		ID:        msg.ID,
		Sender:    Sender{ID: msg.SenderID, Type: store.SenderUser, Name: name},
		Content:   msg.Content,
		Type:      msg.Kind,
		Timestamp: msg.CreatedAt,
	}
}

func botMessageView(msg *store.Message) MessageView {
	meta := msg.Metadata
	return MessageView{
		ID:              msg.ID,
		Sender:          Sender{ID: BotSenderID, Type: store.SenderBot, Name: botName},
		Content:         msg.Content,
		RenderedContent: msg.RenderedContent,
		Type:            msg.Kind,
		Metadata:        &meta,
		ParentID:        msg.ParentID,
		Timestamp:       msg.CreatedAt,
	}
}

func scenarioViews(scs []*store.Scenario) []ScenarioView {
	out := make([]ScenarioView, 0, len(scs))
	for _, sc := range scs {
		out = append(out, ScenarioView{
			ID:       sc.ID,
			Title:    sc.Title,
			Content:  sc.Content,
			Status:   sc.Status,
			Category: sc.Category,
		})
	}
	return out
}
