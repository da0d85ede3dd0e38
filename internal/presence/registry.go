// ABOUTME: In-memory registry of live connections, room membership and typing state
// ABOUTME: All three maps are mutated together under a single lock

package presence

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrAlreadyRegistered indicates the connection id is already in use.
var ErrAlreadyRegistered = errors.New("connection already registered")

// ErrUnknownConnection indicates the connection id is not registered.
var ErrUnknownConnection = errors.New("connection not registered")

// Info is the display information shown to other room members.
type Info struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Member is one live connection.
type Member struct {
	ConnID      string    `json:"conn_id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Info        Info      `json:"info"`
	ConnectedAt time.Time `json:"connected_at"`

	seq uint64
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Connections int `json:"connected_users"`
	Rooms       int `json:"active_sessions"`
}

// Registry is the authoritative map of live connections.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Member
	rooms       map[string]map[string]struct{}
	typing      map[string]map[string]struct{}
	seq         uint64
	logger      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		connections: make(map[string]*Member),
		rooms:       make(map[string]map[string]struct{}),
		typing:      make(map[string]map[string]struct{}),
		logger:      logger,
	}
}

// Register adds a connection for userID. If sessionID is non-empty the
// connection also enters that room.
func (r *Registry) Register(connID, userID, sessionID string, info Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[connID]; exists {
		return ErrAlreadyRegistered
	}

	r.seq++
	m := &Member{
		ConnID:      connID,
		UserID:      userID,
		Info:        info,
		ConnectedAt: time.Now(),
		seq:         r.seq,
	}
	r.connections[connID] = m
	r.enterLocked(m, sessionID)

	r.logger.Debug("connection registered", "conn_id", connID, "user_id", userID, "session_id", sessionID)
	return nil
}

// Move places a registered connection in sessionID, leaving whatever room
// it was in. An empty sessionID leaves the current room without entering
// another. It returns the member as it was before the move.
func (r *Registry) Move(connID, sessionID string) (Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.connections[connID]
	if !ok {
		return Member{}, ErrUnknownConnection
	}
	before := *m
	if m.SessionID == sessionID {
		return before, nil
	}
	r.exitLocked(m)
	r.enterLocked(m, sessionID)

	r.logger.Debug("connection moved", "conn_id", connID, "from", before.SessionID, "to", sessionID)
	return before, nil
}

// SetUser updates who a connection belongs to, for example after a join
// payload names the user. The connection keeps its room.
func (r *Registry) SetUser(connID, userID string, info Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.connections[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if m.UserID != userID {
		r.clearTypingLocked(m)
	}
	m.UserID = userID
	m.Info = info
	return nil
}

// SetTyping marks the connection's user as typing or not in its current
// room. It reports whether the typing set actually changed.
func (r *Registry) SetTyping(connID string, typing bool) (Member, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.connections[connID]
	if !ok {
		return Member{}, false, ErrUnknownConnection
	}
	if m.SessionID == "" {
		return *m, false, nil
	}

	set := r.typing[m.SessionID]
	_, was := set[m.UserID]
	switch {
	case typing && !was:
		if set == nil {
			set = make(map[string]struct{})
			r.typing[m.SessionID] = set
		}
		set[m.UserID] = struct{}{}
	case !typing && was:
		r.clearTypingLocked(m)
	default:
		return *m, false, nil
	}
	return *m, true, nil
}

// Deregister removes a connection from all structures. It reports false if
// the connection was not registered.
func (r *Registry) Deregister(connID string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.connections[connID]
	if !ok {
		return Member{}, false
	}
	r.exitLocked(m)
	delete(r.connections, connID)

	r.logger.Debug("connection deregistered", "conn_id", connID, "user_id", m.UserID, "session_id", m.SessionID)
	return *m, true
}

// enterLocked must be called with mu held.
func (r *Registry) enterLocked(m *Member, sessionID string) {
	m.SessionID = sessionID
	if sessionID == "" {
		return
	}
	room := r.rooms[sessionID]
	if room == nil {
		room = make(map[string]struct{})
		r.rooms[sessionID] = room
	}
	room[m.ConnID] = struct{}{}
}

// exitLocked must be called with mu held.
func (r *Registry) exitLocked(m *Member) {
	if m.SessionID == "" {
		return
	}
	r.clearTypingLocked(m)
	if room := r.rooms[m.SessionID]; room != nil {
		delete(room, m.ConnID)
		if len(room) == 0 {
			delete(r.rooms, m.SessionID)
		}
	}
	m.SessionID = ""
}

// clearTypingLocked must be called with mu held.
func (r *Registry) clearTypingLocked(m *Member) {
	set := r.typing[m.SessionID]
	if set == nil {
		return
	}
	delete(set, m.UserID)
	if len(set) == 0 {
		delete(r.typing, m.SessionID)
	}
}

// Lookup returns the member for a connection.
func (r *Registry) Lookup(connID string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.connections[connID]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// Members returns the connections in a room in the order they registered.
func (r *Registry) Members(sessionID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[sessionID]
	out := make([]Member, 0, len(room))
	for connID := range room {
		out = append(out, *r.connections[connID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// ConnIDs returns the connection ids in a room, excluding any listed in except.
func (r *Registry) ConnIDs(sessionID string, except ...string) []string {
	members := r.Members(sessionID)
	out := make([]string, 0, len(members))
	for _, m := range members {
		skip := false
		for _, e := range except {
			if m.ConnID == e {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, m.ConnID)
		}
	}
	return out
}

// HasUser reports whether userID has any connection in the room.
func (r *Registry) HasUser(sessionID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for connID := range r.rooms[sessionID] {
		if r.connections[connID].UserID == userID {
			return true
		}
	}
	return false
}

// Typing returns the sorted user ids currently typing in a room.
func (r *Registry) Typing(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.typing[sessionID]
	out := make([]string, 0, len(set))
	for userID := range set {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// Stats returns the number of connections and non-empty rooms.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Connections: len(r.connections), Rooms: len(r.rooms)}
}
