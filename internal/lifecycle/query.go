// ABOUTME: Read-side views over sessions: details, stats and search
// ABOUTME: Details requires the caller to hold a participant record

package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/trio-gateway/internal/store"
)

// DetailsMessageLimit is how many recent messages a details view includes.
const DetailsMessageLimit = 50

// Stats summarizes a session's activity.
type Stats struct {
	Participants      map[store.ParticipantStatus]int `json:"participants"`
	LiveParticipants  int                             `json:"live_participants"`
	Messages          map[store.SenderKind]int        `json:"messages"`
	Scenarios         map[store.ScenarioStatus]int    `json:"scenarios"`
	EstimatedDuration int                             `json:"estimated_duration"`
	ActualDuration    *int                            `json:"actual_duration,omitempty"`
	ElapsedMinutes    int                             `json:"elapsed_minutes"`
}

// Details is everything a participant sees when opening a session.
type Details struct {
	Session      *store.Session       `json:"session"`
	Participants []*store.Participant `json:"participants"`
	Messages     []*store.Message     `json:"messages"`
	Scenarios    []*store.Scenario    `json:"scenarios"`
	Stats        Stats                `json:"stats"`
}

// Get returns a session by id.
func (m *Manager) Get(ctx context.Context, sessionID string) (*store.Session, error) {
	return m.getSession(ctx, sessionID)
}

// Participants lists every participant record of a session.
func (m *Manager) Participants(ctx context.Context, sessionID string) ([]*store.Participant, error) {
	ps, err := m.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	return ps, nil
}

// Details returns the full view of a session for userID.
func (m *Manager) Details(ctx context.Context, sessionID, userID string) (*Details, error) {
	sess, err := m.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	p, err := m.findParticipant(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, newError(CodeForbidden, "not a participant of this session")
	}

	participants, err := m.Participants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := m.store.ListMessages(ctx, sessionID, DetailsMessageLimit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	scenarios, err := m.store.ListScenarios(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing scenarios: %w", err)
	}

	return &Details{
		Session:      sess,
		Participants: participants,
		Messages:     messages,
		Scenarios:    scenarios,
		Stats:        m.computeStats(sess, participants, messages, scenarios),
	}, nil
}

// Stats computes activity counts for a session.
func (m *Manager) Stats(ctx context.Context, sessionID string) (*Stats, error) {
	sess, err := m.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	participants, err := m.Participants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := m.store.ListMessages(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	scenarios, err := m.store.ListScenarios(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing scenarios: %w", err)
	}
	st := m.computeStats(sess, participants, messages, scenarios)
	return &st, nil
}

func (m *Manager) computeStats(sess *store.Session, ps []*store.Participant, msgs []*store.Message, scs []*store.Scenario) Stats {
	st := Stats{
		Participants:      make(map[store.ParticipantStatus]int),
		Messages:          make(map[store.SenderKind]int),
		Scenarios:         make(map[store.ScenarioStatus]int),
		EstimatedDuration: sess.EstimatedDuration,
		ActualDuration:    sess.ActualDuration,
	}
	for _, p := range ps {
		st.Participants[p.Status]++
		if p.Status.Live() {
			st.LiveParticipants++
		}
	}
	for _, msg := range msgs {
		if msg.Status == store.MessageDeleted {
			continue
		}
		st.Messages[msg.SenderKind]++
	}
	for _, sc := range scs {
		st.Scenarios[sc.Status]++
	}
	if sess.StartedAt != nil {
		end := m.now()
		if sess.CompletedAt != nil {
			end = *sess.CompletedAt
		}
		st.ElapsedMinutes = int(end.Sub(*sess.StartedAt).Minutes())
	}
	return st
}

// ListFilter selects the sessions returned by List.
type ListFilter struct {
	UserID string
	Status store.SessionStatus
	Query  string
	Limit  int
}

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// List returns sessions matching the filter, newest first.
func (m *Manager) List(ctx context.Context, f ListFilter) ([]*store.Session, error) {
	switch f.Status {
	case "", store.SessionWaiting, store.SessionActive, store.SessionPaused, store.SessionCompleted, store.SessionArchived:
	default:
		return nil, newError(CodeValidation, fmt.Sprintf("unknown session status %q", f.Status))
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	sessions, err := m.store.ListSessions(ctx, store.SessionFilter{
		UserID: f.UserID,
		Status: f.Status,
		Query:  strings.TrimSpace(f.Query),
		Limit:  f.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}
