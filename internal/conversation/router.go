// ABOUTME: Conversation router turning one inbound message into an assistant reply
// ABOUTME: Classifies intent, calls the generator, persists the exchange and updates context

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/2389/trio-gateway/internal/generation"
	"github.com/2389/trio-gateway/internal/scenario"
	"github.com/2389/trio-gateway/internal/store"
)

// Defaults for Config.
const (
	DefaultContextSize   = 20
	DefaultPromptContext = 5
	DefaultTemperature   = 0.7
)

// persistTimeout bounds each store write made on behalf of an exchange.
const persistTimeout = 5 * time.Second

// Config tunes the router.
type Config struct {
	// ContextSize is how many message entries each session context keeps.
	ContextSize int
	// PromptContext is how many of those entries are sent with a prompt.
	PromptContext int
	// Temperature is used for general questions.
	Temperature float64
	Now         func() time.Time
}

// Router processes chat messages for all sessions. Callers must not process
// two messages for the same session concurrently.
type Router struct {
	store  store.Store
	gen    generation.Generator
	cache  ContextCache
	cfg    Config
	logger *slog.Logger
	tel    *telemetry
	canned atomic.Uint64
}

// New creates a router.
func New(s store.Store, gen generation.Generator, cache ContextCache, cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "conversation")
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = DefaultContextSize
	}
	if cfg.PromptContext <= 0 {
		cfg.PromptContext = DefaultPromptContext
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cache == nil {
		cache = NewMemoryCache(0, 0)
	}
	return &Router{
		store:  s,
		gen:    gen,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
		tel:    newTelemetry(logger),
	}
}

// Exchange is one inbound chat message.
type Exchange struct {
	SessionID string
	UserID    string
	Content   string
	Kind      store.MessageKind
	// UserMessageID names the user message when the caller has already
	// persisted it. When empty the router persists the user message itself.
	UserMessageID string
}

// Reply is the result of processing an exchange.
type Reply struct {
	Intent      Intent
	UserMessage *store.Message
	// Message is the assistant reply. It is always set, even when the
	// generator failed or persisting it failed.
	Message    *store.Message
	Scenarios  []*store.Scenario
	Questions  []Question
	Validation *ValidationReport
	// Failed is true when the reply is an apology for a generator failure.
	Failed bool
}

// Process classifies ex, produces the assistant reply and persists both
// sides of the exchange. It never returns an error: generator failures
// become apology replies and store failures are logged.
func (r *Router) Process(ctx context.Context, ex Exchange) *Reply {
	started := r.cfg.Now()
	ctx, span := r.tel.start(ctx, ex.SessionID)
	defer span.End()

	userMsg := r.recordUserMessage(ctx, ex, started)

	sc := r.loadContext(ctx, ex.SessionID, userMsg.ID)
	cls := Classify(ex.Content)
	span.SetAttributes(attribute.String("intent", string(cls.Intent)))

	out := r.dispatch(ctx, sc, ex, cls)
	if out.failed {
		span.SetStatus(codes.Error, "generation unavailable")
		r.tel.recordFailure(ctx, cls.Intent)
	}

	reply := &Reply{
		Intent:      cls.Intent,
		UserMessage: userMsg,
		Questions:   out.questions,
		Validation:  out.validation,
		Failed:      out.failed,
	}
	reply.Scenarios = r.saveScenarios(ctx, ex.SessionID, out.drafts)

	elapsed := r.cfg.Now().Sub(started)
	reply.Message = r.recordReply(ctx, ex.SessionID, userMsg.ID, cls, out, elapsed)

	r.updateContext(ctx, sc, userMsg, reply)
	r.tel.recordExchange(ctx, cls.Intent, out.failed, float64(elapsed.Milliseconds()))

	r.logger.Info("message processed",
		"session_id", ex.SessionID,
		"intent", cls.Intent,
		"scenarios", len(reply.Scenarios),
		"failed", out.failed,
		"duration_ms", elapsed.Milliseconds(),
	)
	return reply
}

// ClearContext drops the cached context for a session. The next message
// reloads it from the store.
func (r *Router) ClearContext(ctx context.Context, sessionID string) error {
	if err := r.cache.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("clearing context: %w", err)
	}
	r.logger.Info("context cleared", "session_id", sessionID)
	return nil
}

// ContextStats describes a cached session context.
type ContextStats struct {
	Messages     int        `json:"messages_count"`
	Scenarios    int        `json:"scenarios_count"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// Stats reports on a session's cached context. It returns false when
// nothing is cached.
func (r *Router) Stats(ctx context.Context, sessionID string) (*ContextStats, bool, error) {
	sc, ok, err := r.cache.Get(ctx, sessionID)
	if err != nil || !ok {
		return nil, false, err
	}
	st := &ContextStats{Messages: len(sc.Messages), Scenarios: len(sc.Scenarios)}
	if n := len(sc.Messages); n > 0 {
		last := sc.Messages[n-1].CreatedAt
		st.LastActivity = &last
	}
	return st, true, nil
}

func (r *Router) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

// recordUserMessage persists the user's message unless the caller already did.
func (r *Router) recordUserMessage(ctx context.Context, ex Exchange, now time.Time) *store.Message {
	kind := ex.Kind
	if !kind.Valid() {
		kind = store.KindText
	}
	msg := &store.Message{
		ID:         ex.UserMessageID,
		SessionID:  ex.SessionID,
		SenderID:   ex.UserID,
		SenderKind: store.SenderUser,
		Kind:       kind,
		Content:    ex.Content,
		Status:     store.MessageSent,
		CreatedAt:  now,
	}
	if msg.ID != "" {
		return msg
	}

	msg.ID = uuid.New().String()
	pctx, cancel := r.persistContext(ctx)
	defer cancel()
	if err := r.store.CreateMessage(pctx, msg); err != nil {
		r.logger.Error("failed to persist user message", "session_id", ex.SessionID, "error", err)
	}
	return msg
}

func (r *Router) loadContext(ctx context.Context, sessionID, skipMessageID string) *SessionContext {
	sc, ok, err := r.cache.Get(ctx, sessionID)
	if err != nil {
		r.logger.Warn("context cache read failed, rebuilding", "session_id", sessionID, "error", err)
	}
	if ok {
		return sc
	}

	sc = &SessionContext{SessionID: sessionID, BusinessContext: store.ContextGeneric, Language: "en"}
	if sess, err := r.store.GetSession(ctx, sessionID); err != nil {
		r.logger.Warn("failed to load session for context", "session_id", sessionID, "error", err)
	} else {
		sc.BusinessContext = sess.BusinessContext
		if sess.Settings.Language != "" {
			sc.Language = sess.Settings.Language
		}
	}

	msgs, err := r.store.ListMessages(ctx, sessionID, r.cfg.ContextSize+1)
	if err != nil {
		r.logger.Warn("failed to load messages for context", "session_id", sessionID, "error", err)
	}
	for _, m := range msgs {
		if m.ID == skipMessageID || m.Status == store.MessageDeleted {
			continue
		}
		sc.Messages = append(sc.Messages, Entry{Sender: m.SenderKind, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	sc.Append(r.cfg.ContextSize)

	sc.Scenarios = r.currentScenarios(ctx, sessionID, nil)
	return sc
}

// currentScenarios loads the newest version of each scenario chain,
// returning fallback if the store cannot be read.
func (r *Router) currentScenarios(ctx context.Context, sessionID string, fallback []ScenarioSummary) []ScenarioSummary {
	all, err := r.store.ListScenarios(ctx, sessionID)
	if err != nil {
		r.logger.Warn("failed to load scenarios", "session_id", sessionID, "error", err)
		return fallback
	}
	latest := scenario.Latest(all)
	out := make([]ScenarioSummary, 0, len(latest))
	for _, s := range latest {
		out = append(out, summarize(s))
	}
	return out
}

func summarize(s *store.Scenario) ScenarioSummary {
	return ScenarioSummary{ID: s.ID, Title: s.Title, Content: s.Content, Status: s.Status}
}

func (r *Router) saveScenarios(ctx context.Context, sessionID string, drafts []scenario.Draft) []*store.Scenario {
	if len(drafts) == 0 {
		return nil
	}
	pctx, cancel := r.persistContext(ctx)
	defer cancel()

	now := r.cfg.Now()
	saved := make([]*store.Scenario, 0, len(drafts))
	for _, d := range drafts {
		sc := scenario.FromDraft(sessionID, d, now)
		if err := r.store.CreateScenario(pctx, sc); err != nil {
			r.logger.Error("failed to persist scenario", "session_id", sessionID, "title", d.Title, "error", err)
			continue
		}
		saved = append(saved, sc)
	}
	return saved
}

func (r *Router) recordReply(ctx context.Context, sessionID, parentID string, cls Classification, out outcome, elapsed time.Duration) *store.Message {
	msg := &store.Message{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		SenderKind: store.SenderBot,
		Kind:       out.kind,
		Content:    out.content,
		ParentID:   parentID,
		Status:     store.MessageSent,
		Metadata: store.MessageMetadata{
			ProcessingTimeMS: elapsed.Milliseconds(),
			Confidence:       out.confidence,
			Intent:           string(cls.Intent),
		},
		CreatedAt: r.cfg.Now(),
	}
	if out.result != nil {
		msg.Metadata.Model = out.result.ModelUsed
		msg.Metadata.TokensUsed = out.result.TokensUsed
	}
	if html, err := Render(out.content); err != nil {
		r.logger.Warn("failed to render reply", "session_id", sessionID, "error", err)
	} else {
		msg.RenderedContent = html
	}

	pctx, cancel := r.persistContext(ctx)
	defer cancel()
	if err := r.store.CreateMessage(pctx, msg); err != nil {
		r.logger.Error("failed to persist assistant message", "session_id", sessionID, "error", err)
	}
	return msg
}

func (r *Router) updateContext(ctx context.Context, sc *SessionContext, userMsg *store.Message, reply *Reply) {
	sc.Append(r.cfg.ContextSize,
		Entry{Sender: store.SenderUser, Content: userMsg.Content, CreatedAt: userMsg.CreatedAt},
		Entry{Sender: store.SenderBot, Content: reply.Message.Content, CreatedAt: reply.Message.CreatedAt},
	)
	for _, s := range reply.Scenarios {
		sc.Scenarios = append(sc.Scenarios, summarize(s))
	}
	if err := r.cache.Set(ctx, sc); err != nil {
		r.logger.Warn("failed to update context cache", "session_id", sc.SessionID, "error", err)
	}
}
