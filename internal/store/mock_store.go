// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
// Records are copied on the way in and out so callers never share state
// with the store.
type MockStore struct {
	mu           sync.RWMutex
	seq          int64
	sessions     map[string]*Session
	participants map[string]*Participant // keyed by "sessionID:userID"
	messages     map[string]*Message
	scenarios    map[string]*Scenario
	order        map[string]int64 // record ID -> insertion sequence

	// FailCreateMessage, when set, is returned by CreateMessage.
	FailCreateMessage error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions:     make(map[string]*Session),
		participants: make(map[string]*Participant),
		messages:     make(map[string]*Message),
		scenarios:    make(map[string]*Scenario),
		order:        make(map[string]int64),
	}
}

func participantKey(sessionID, userID string) string {
	return sessionID + ":" + userID
}

func (m *MockStore) stamp(id string) {
	m.seq++
	m.order[id] = m.seq
}

// before orders records by creation time, then insertion sequence.
func (m *MockStore) before(aID string, aTime time.Time, bID string, bTime time.Time) bool {
	if !aTime.Equal(bTime) {
		return aTime.Before(bTime)
	}
	return m.order[aID] < m.order[bID]
}

// CreateSession stores a new session.
func (m *MockStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return ErrDuplicate
	}
	m.sessions[s.ID] = copySession(s)
	m.stamp(s.ID)
	return nil
}

// GetSession retrieves a session by ID.
func (m *MockStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

// UpdateSession replaces a stored session.
func (m *MockStore) UpdateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

// ListSessions returns sessions matching the filter, newest first.
func (m *MockStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := strings.ToLower(filter.Query)
	var result []*Session
	for _, s := range m.sessions {
		if filter.UserID != "" {
			if _, ok := m.participants[participantKey(s.ID, filter.UserID)]; !ok {
				continue
			}
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(s.Title), query) && !strings.Contains(strings.ToLower(s.Description), query) {
			continue
		}
		result = append(result, copySession(s))
	}

	sort.Slice(result, func(i, j int) bool {
		return m.before(result[j].ID, result[j].CreatedAt, result[i].ID, result[i].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// ListIdleSessions returns active sessions whose latest activity is before cutoff.
func (m *MockStore) ListIdleSessions(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Session
	for _, s := range m.sessions {
		if s.Status != SessionActive {
			continue
		}
		last := time.Time{}
		seen := false
		for _, p := range m.participants {
			if p.SessionID == s.ID {
				seen = true
				if p.LastActivity.After(last) {
					last = p.LastActivity
				}
			}
		}
		if !seen {
			last = s.UpdatedAt
		}
		if last.Before(cutoff) {
			result = append(result, copySession(s))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return m.before(result[i].ID, result[i].CreatedAt, result[j].ID, result[j].CreatedAt)
	})
	return result, nil
}

// CreateParticipant stores a participant, enforcing (session, user) uniqueness.
func (m *MockStore) CreateParticipant(ctx context.Context, p *Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := participantKey(p.SessionID, p.UserID)
	if _, ok := m.participants[key]; ok {
		return ErrDuplicate
	}
	m.participants[key] = copyParticipant(p)
	m.stamp(p.ID)
	return nil
}

// GetParticipant retrieves a participant by session and user.
func (m *MockStore) GetParticipant(ctx context.Context, sessionID, userID string) (*Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.participants[participantKey(sessionID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyParticipant(p), nil
}

// UpdateParticipant replaces a stored participant.
func (m *MockStore) UpdateParticipant(ctx context.Context, p *Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := participantKey(p.SessionID, p.UserID)
	old, ok := m.participants[key]
	if !ok {
		return ErrNotFound
	}
	updated := copyParticipant(p)
	updated.ID = old.ID
	updated.CreatedAt = old.CreatedAt
	m.participants[key] = updated
	return nil
}

// ListParticipants returns a session's participants in creation order.
func (m *MockStore) ListParticipants(ctx context.Context, sessionID string) ([]*Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Participant
	for _, p := range m.participants {
		if p.SessionID == sessionID {
			result = append(result, copyParticipant(p))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return m.before(result[i].ID, result[i].CreatedAt, result[j].ID, result[j].CreatedAt)
	})
	return result, nil
}

// CountLiveParticipants counts joined or active participants.
func (m *MockStore) CountLiveParticipants(ctx context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, p := range m.participants {
		if p.SessionID == sessionID && p.Status.Live() {
			n++
		}
	}
	return n, nil
}

// CreateMessage stores a message.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreateMessage != nil {
		return m.FailCreateMessage
	}
	if msg.Content == "" {
		return fmt.Errorf("inserting message: empty content")
	}
	if _, ok := m.messages[msg.ID]; ok {
		return ErrDuplicate
	}
	c := copyMessage(msg)
	if c.Status == "" {
		c.Status = MessageSent
	}
	m.messages[msg.ID] = c
	m.stamp(msg.ID)
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// UpdateMessage replaces a stored message.
func (m *MockStore) UpdateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.messages[msg.ID]; !ok {
		return ErrNotFound
	}
	m.messages[msg.ID] = copyMessage(msg)
	return nil
}

// ListMessages returns the most recent limit messages in creation order.
func (m *MockStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Message
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			result = append(result, copyMessage(msg))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return m.before(result[i].ID, result[i].CreatedAt, result[j].ID, result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// CreateScenario stores a scenario.
func (m *MockStore) CreateScenario(ctx context.Context, sc *Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sc.Content == "" {
		return fmt.Errorf("inserting scenario: empty content")
	}
	if _, ok := m.scenarios[sc.ID]; ok {
		return ErrDuplicate
	}
	c := copyScenario(sc)
	if c.Version == 0 {
		c.Version = 1
	}
	m.scenarios[sc.ID] = c
	m.stamp(sc.ID)
	return nil
}

// GetScenario retrieves a scenario by ID.
func (m *MockStore) GetScenario(ctx context.Context, id string) (*Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sc, ok := m.scenarios[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyScenario(sc), nil
}

// UpdateScenario replaces review state of a stored scenario, keeping the
// body, version and parent link as first written.
func (m *MockStore) UpdateScenario(ctx context.Context, sc *Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.scenarios[sc.ID]
	if !ok {
		return ErrNotFound
	}
	updated := copyScenario(sc)
	updated.Content = old.Content
	updated.Version = old.Version
	updated.ParentID = old.ParentID
	updated.CreatedAt = old.CreatedAt
	m.scenarios[sc.ID] = updated
	return nil
}

// ListScenarios returns a session's scenarios in creation order.
func (m *MockStore) ListScenarios(ctx context.Context, sessionID string) ([]*Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Scenario
	for _, sc := range m.scenarios {
		if sc.SessionID == sessionID {
			result = append(result, copyScenario(sc))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return m.before(result[i].ID, result[i].CreatedAt, result[j].ID, result[j].CreatedAt)
	})
	return result, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copySession(s *Session) *Session {
	c := *s
	if s.ActualDuration != nil {
		d := *s.ActualDuration
		c.ActualDuration = &d
	}
	c.StartedAt = copyTime(s.StartedAt)
	c.CompletedAt = copyTime(s.CompletedAt)
	return &c
}

func copyParticipant(p *Participant) *Participant {
	c := *p
	c.JoinedAt = copyTime(p.JoinedAt)
	return &c
}

func copyMessage(msg *Message) *Message {
	c := *msg
	c.Metadata.References = slices.Clone(msg.Metadata.References)
	if msg.Reactions != nil {
		c.Reactions = make(map[string][]string, len(msg.Reactions))
		for k, v := range maps.All(msg.Reactions) {
			c.Reactions[k] = slices.Clone(v)
		}
	}
	c.EditedAt = copyTime(msg.EditedAt)
	c.DeletedAt = copyTime(msg.DeletedAt)
	return &c
}

func copyScenario(sc *Scenario) *Scenario {
	c := *sc
	c.Tags = slices.Clone(sc.Tags)
	c.Validation.Errors = slices.Clone(sc.Validation.Errors)
	c.Validation.Suggestions = slices.Clone(sc.Validation.Suggestions)
	c.ApprovedAt = copyTime(sc.ApprovedAt)
	return &c
}
