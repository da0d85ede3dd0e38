// ABOUTME: Per-session rolling conversation context and the cache seam that holds it
// ABOUTME: The message window is bounded and always keeps the most recent entries

package conversation

import (
	"context"
	"slices"
	"time"

	"github.com/2389/trio-gateway/internal/store"
)

// Entry is a summary of one message kept in the rolling context.
type Entry struct {
	Sender    store.SenderKind `json:"sender"`
	Content   string           `json:"content"`
	CreatedAt time.Time        `json:"created_at"`
}

// ScenarioSummary is the part of a scenario the router reasons about.
type ScenarioSummary struct {
	ID      string               `json:"id"`
	Title   string               `json:"title"`
	Content string               `json:"content"`
	Status  store.ScenarioStatus `json:"status"`
}

// SessionContext is what the router remembers about one session.
type SessionContext struct {
	SessionID       string                `json:"session_id"`
	BusinessContext store.BusinessContext `json:"business_context"`
	Language        string                `json:"language"`
	Messages        []Entry               `json:"messages"`
	Scenarios       []ScenarioSummary     `json:"scenarios"`
}

// Append adds entries and drops the oldest so at most limit remain.
func (c *SessionContext) Append(limit int, entries ...Entry) {
	c.Messages = append(c.Messages, entries...)
	if limit > 0 && len(c.Messages) > limit {
		c.Messages = slices.Clone(c.Messages[len(c.Messages)-limit:])
	}
}

// Recent returns up to n of the newest entries, oldest first.
func (c *SessionContext) Recent(n int) []Entry {
	if n <= 0 || n >= len(c.Messages) {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

// Clone returns a deep copy.
func (c *SessionContext) Clone() *SessionContext {
	out := *c
	out.Messages = slices.Clone(c.Messages)
	out.Scenarios = slices.Clone(c.Scenarios)
	return &out
}

// ContextCache stores session contexts by session id.
type ContextCache interface {
	// Get returns the cached context, or false if none is cached.
	Get(ctx context.Context, sessionID string) (*SessionContext, bool, error)
	Set(ctx context.Context, sc *SessionContext) error
	Clear(ctx context.Context, sessionID string) error
}
