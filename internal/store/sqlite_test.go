// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers round trips, uniqueness guards, ordering and idle-session queries

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func testSession(now time.Time) *Session {
	return &Session{
		ID:                uuid.New().String(),
		Title:             "Login flow",
		Description:       "Scenarios for the login page",
		BusinessContext:   ContextEcommerce,
		Status:            SessionWaiting,
		CreatedBy:         "user-1",
		EstimatedDuration: 60,
		Settings:          SessionSettings{BotStyle: "professional", DetailLevel: "intermediate", Language: "en", AutoSaveInterval: 30},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func testParticipant(sessionID, userID string, now time.Time) *Participant {
	return &Participant{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		UserID:       userID,
		DisplayName:  "User " + userID,
		Role:         RoleTester,
		Status:       ParticipantInvited,
		Permissions:  DefaultPermissions(),
		LastActivity: now,
		CreatedAt:    now,
	}
}

func TestSQLiteStore_SessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	sess := testSession(now)
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Title, got.Title)
	assert.Equal(t, SessionWaiting, got.Status)
	assert.Equal(t, "intermediate", got.Settings.DetailLevel)
	assert.Nil(t, got.ActualDuration)
	assert.Nil(t, got.StartedAt)
	assert.True(t, got.CreatedAt.Equal(now))

	started := now.Add(time.Minute)
	completed := started.Add(45 * time.Minute)
	duration := 45
	got.Status = SessionCompleted
	got.StartedAt = &started
	got.CompletedAt = &completed
	got.ActualDuration = &duration
	got.UpdatedAt = completed
	require.NoError(t, s.UpdateSession(ctx, got))

	again, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, again.Status)
	require.NotNil(t, again.ActualDuration)
	assert.Equal(t, 45, *again.ActualDuration)
	require.NotNil(t, again.CompletedAt)
	assert.True(t, again.CompletedAt.Equal(completed))
}

func TestSQLiteStore_GetSessionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	err = s.UpdateSession(context.Background(), testSession(time.Now()))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on update, got %v", err)
	}
}

func TestSQLiteStore_ParticipantUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := testSession(now)
	require.NoError(t, s.CreateSession(ctx, sess))

	require.NoError(t, s.CreateParticipant(ctx, testParticipant(sess.ID, "alice", now)))

	err := s.CreateParticipant(ctx, testParticipant(sess.ID, "alice", now))
	assert.ErrorIs(t, err, ErrDuplicate)

	// Same user in another session is fine
	other := testSession(now)
	require.NoError(t, s.CreateSession(ctx, other))
	require.NoError(t, s.CreateParticipant(ctx, testParticipant(other.ID, "alice", now)))
}

func TestSQLiteStore_CountLiveParticipants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := testSession(now)
	require.NoError(t, s.CreateSession(ctx, sess))

	statuses := []ParticipantStatus{ParticipantInvited, ParticipantJoined, ParticipantActive, ParticipantLeft, ParticipantJoined}
	for i, status := range statuses {
		p := testParticipant(sess.ID, fmt.Sprintf("user-%d", i), now)
		p.Status = status
		require.NoError(t, s.CreateParticipant(ctx, p))
	}

	n, err := s.CountLiveParticipants(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	p, err := s.GetParticipant(ctx, sess.ID, "user-1")
	require.NoError(t, err)
	p.Status = ParticipantLeft
	p.Connection = Connection{}
	require.NoError(t, s.UpdateParticipant(ctx, p))

	n, err = s.CountLiveParticipants(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteStore_ParticipantConnectionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := testSession(now)
	require.NoError(t, s.CreateSession(ctx, sess))

	p := testParticipant(sess.ID, "bob", now)
	p.Status = ParticipantJoined
	p.JoinedAt = &now
	p.Connection = Connection{ConnID: "conn-1", RemoteIP: "10.0.0.1", UserAgent: "test"}
	p.Permissions = FullPermissions()
	require.NoError(t, s.CreateParticipant(ctx, p))

	got, err := s.GetParticipant(ctx, sess.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "conn-1", got.Connection.ConnID)
	assert.True(t, got.Permissions.CanModerate)
	require.NotNil(t, got.JoinedAt)

	_, err = s.GetParticipant(ctx, sess.ID, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListMessagesOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	sess := testSession(base)
	require.NoError(t, s.CreateSession(ctx, sess))

	// Two messages share a timestamp; insertion order must still hold
	for i := range 5 {
		at := base.Add(time.Duration(i/2) * time.Second)
		require.NoError(t, s.CreateMessage(ctx, &Message{
			ID:         uuid.New().String(),
			SessionID:  sess.ID,
			SenderID:   "alice",
			SenderKind: SenderUser,
			Kind:       KindText,
			Content:    fmt.Sprintf("message %d", i),
			CreatedAt:  at,
		}))
	}

	all, err := s.ListMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, m := range all {
		assert.Equal(t, fmt.Sprintf("message %d", i), m.Content)
		assert.Equal(t, MessageSent, m.Status)
	}

	recent, err := s.ListMessages(ctx, sess.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "message 2", recent[0].Content)
	assert.Equal(t, "message 4", recent[2].Content)
}

func TestSQLiteStore_ConcurrentWritesAcrossSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sessions := make([]*Session, 8)
	for i := range sessions {
		sessions[i] = testSession(now)
		require.NoError(t, s.CreateSession(ctx, sessions[i]))
	}

	const writes = 200
	var wg sync.WaitGroup
	errs := make(chan error, writes)
	for i := range writes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.CreateMessage(ctx, &Message{
				ID:         uuid.New().String(),
				SessionID:  sessions[i%len(sessions)].ID,
				SenderID:   "alice",
				SenderKind: SenderUser,
				Kind:       KindText,
				Content:    fmt.Sprintf("message %d", i),
				CreatedAt:  now,
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	total := 0
	for _, sess := range sessions {
		msgs, err := s.ListMessages(ctx, sess.ID, 0)
		require.NoError(t, err)
		total += len(msgs)
	}
	assert.Equal(t, writes, total)
}

func TestSQLiteStore_PragmasOnEveryConnection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Hold several connections open at once so the pool cannot reuse one.
	conns := make([]*sql.Conn, 4)
	for i := range conns {
		c, err := s.db.Conn(ctx)
		require.NoError(t, err)
		conns[i] = c
	}
	for _, c := range conns {
		var timeout, fk int
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		assert.Equal(t, 5000, timeout)
		assert.Equal(t, 1, fk)
		require.NoError(t, c.Close())
	}
}

func TestSQLiteStore_MessageUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := testSession(now)
	require.NoError(t, s.CreateSession(ctx, sess))

	msg := &Message{
		ID:         uuid.New().String(),
		SessionID:  sess.ID,
		SenderKind: SenderBot,
		Kind:       KindScenario,
		Content:    "Scenario: login",
		Metadata:   MessageMetadata{Model: "gpt-4-turbo", TokensUsed: 42, Confidence: 0.8},
		CreatedAt:  now,
	}
	require.NoError(t, s.CreateMessage(ctx, msg))

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SenderID)
	assert.Equal(t, 42, got.Metadata.TokensUsed)
	assert.Nil(t, got.Reactions)

	got.Reactions = map[string][]string{"+1": {"alice"}}
	got.Status = MessageDeleted
	got.DeletedAt = &now
	require.NoError(t, s.UpdateMessage(ctx, got))

	again, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, again.Reactions["+1"])
	assert.Equal(t, MessageDeleted, again.Status)
	assert.NotNil(t, again.DeletedAt)
}

func TestSQLiteStore_RejectsEmptyContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := testSession(now)
	require.NoError(t, s.CreateSession(ctx, sess))

	err := s.CreateMessage(ctx, &Message{ID: "m1", SessionID: sess.ID, SenderKind: SenderUser, Kind: KindText, CreatedAt: now})
	assert.Error(t, err)

	err = s.CreateScenario(ctx, &Scenario{ID: "s1", SessionID: sess.ID, Title: "x", CreatedAt: now, UpdatedAt: now})
	assert.Error(t, err)
}

func TestSQLiteStore_ScenarioVersionChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := testSession(now)
	require.NoError(t, s.CreateSession(ctx, sess))

	v1 := &Scenario{
		ID:         uuid.New().String(),
		SessionID:  sess.ID,
		Title:      "Reset password",
		Content:    "Scenario: Reset password\n  Given a user\n  When they reset\n  Then it works",
		Type:       TypeScenario,
		Category:   CategoryNominal,
		Priority:   PriorityMedium,
		Status:     ScenarioDraft,
		AuthorKind: SenderBot,
		Tags:       []string{"auth"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, s.CreateScenario(ctx, v1))

	v2 := *v1
	v2.ID = uuid.New().String()
	v2.Content = v1.Content + "\n  And an email is sent"
	v2.Version = 2
	v2.ParentID = v1.ID
	v2.CreatedAt = now.Add(time.Second)
	require.NoError(t, s.CreateScenario(ctx, &v2))

	list, err := s.ListScenarios(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].Version)
	assert.Equal(t, 2, list[1].Version)
	assert.Equal(t, v1.ID, list[1].ParentID)
	assert.Equal(t, []string{"auth"}, list[0].Tags)

	// Approving the parent leaves its body untouched
	approvedAt := now.Add(time.Minute)
	list[0].Status = ScenarioApproved
	list[0].ApprovedBy = "alice"
	list[0].ApprovedAt = &approvedAt
	require.NoError(t, s.UpdateScenario(ctx, list[0]))

	parent, err := s.GetScenario(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, ScenarioApproved, parent.Status)
	assert.Equal(t, v1.Content, parent.Content)
	assert.Equal(t, "alice", parent.ApprovedBy)
}

func TestSQLiteStore_ListSessionsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	a := testSession(now)
	a.Title = "Checkout"
	b := testSession(now.Add(time.Second))
	b.Title = "Password reset"
	b.Status = SessionActive
	require.NoError(t, s.CreateSession(ctx, a))
	require.NoError(t, s.CreateSession(ctx, b))
	require.NoError(t, s.CreateParticipant(ctx, testParticipant(b.ID, "carol", now)))

	all, err := s.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID, "newest first")

	mine, err := s.ListSessions(ctx, SessionFilter{UserID: "carol"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)

	active, err := s.ListSessions(ctx, SessionFilter{Status: SessionActive})
	require.NoError(t, err)
	require.Len(t, active, 1)

	found, err := s.ListSessions(ctx, SessionFilter{Query: "Check"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, a.ID, found[0].ID)
}

func TestSQLiteStore_ListIdleSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	idle := testSession(now.Add(-48 * time.Hour))
	idle.Status = SessionActive
	busy := testSession(now.Add(-48 * time.Hour))
	busy.Status = SessionActive
	waiting := testSession(now.Add(-48 * time.Hour))
	for _, sess := range []*Session{idle, busy, waiting} {
		require.NoError(t, s.CreateSession(ctx, sess))
	}

	require.NoError(t, s.CreateParticipant(ctx, testParticipant(idle.ID, "u1", now.Add(-30*time.Hour))))
	require.NoError(t, s.CreateParticipant(ctx, testParticipant(busy.ID, "u2", now.Add(-time.Minute))))

	got, err := s.ListIdleSessions(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, idle.ID, got[0].ID)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	sess := testSession(time.Now())
	require.NoError(t, s.CreateSession(context.Background(), sess))
	_, err = s.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
}
