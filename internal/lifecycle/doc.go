// Package lifecycle implements the session state machine and membership
// rules for workshop sessions.
//
// # States
//
// A session starts in waiting and moves through:
//
//	waiting   --first join-->   active
//	active    --last leave-->   paused
//	paused    --rejoin-->       active
//	active    --complete-->     completed
//	any non-archived --archive--> archived (terminal)
//
// CanTransition is the single source of truth for which moves are legal.
//
// # Admission
//
// Join checks, in order: the session exists (not_found), the session is
// open (conflict), the live participant count is below the configured
// maximum (capacity), and the user is not already live in the session
// (conflict). Users holding a non-live record (invited, inactive, left)
// are re-admitted rather than duplicated. A paused session only admits
// users who already hold a record; their return resumes it.
//
// Leave is idempotent: leaving a session you are not live in is a no-op.
// Reconnect restamps the connection of a live participant without the
// duplicate check, for clients that drop and come back inside the grace
// window.
//
// # Errors
//
// Every rejection is an *Error carrying a Code. CodeOf maps any error,
// including store errors, onto the same codes so transports can report a
// structured reason.
//
// # Concurrency
//
// Membership changes for one session are serialized by a per-session lock
// held across the read-check-write sequence, so capacity cannot be
// overshot by concurrent joins. Different sessions never contend.
package lifecycle
