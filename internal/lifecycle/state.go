// ABOUTME: Session state machine transition table
// ABOUTME: CanTransition decides which status changes are legal

package lifecycle

import "github.com/2389/trio-gateway/internal/store"

var transitions = map[store.SessionStatus][]store.SessionStatus{
	store.SessionWaiting:   {store.SessionActive, store.SessionArchived},
	store.SessionActive:    {store.SessionPaused, store.SessionCompleted, store.SessionArchived},
	store.SessionPaused:    {store.SessionActive, store.SessionArchived},
	store.SessionCompleted: {store.SessionArchived},
	store.SessionArchived:  nil,
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to store.SessionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// joinable reports whether the session admits joins. Paused sessions only
// admit returning participants, which the caller checks separately.
func joinable(status store.SessionStatus) bool {
	return status == store.SessionWaiting || status == store.SessionActive
}
