// Package store provides durable storage for workshop sessions using SQLite.
//
// # Architecture
//
// The store is split into one interface per entity, composed into Store:
//
//   - SessionStore: workshop sessions and their lifecycle fields
//   - ParticipantStore: per-session membership, unique on (session, user)
//   - MessageStore: conversation turns, soft-deleted rather than removed
//   - ScenarioStore: test scenarios forming parent-linked version chains
//
// SQLiteStore implements all four in a single struct. MockStore is a
// map-backed implementation with the same semantics for unit tests.
//
// # Data Models
//
//   - Session: status is one of waiting, active, paused, completed, archived
//   - Participant: role, status, permissions and connection metadata
//   - Message: sender kind (user or bot), message kind, metadata, reactions
//   - Scenario: Gherkin body, category, priority, status, validation, version
//
// Status transitions are not enforced here. The lifecycle package owns the
// state machine and only ever writes whole records back through Update*.
//
// # Ordering
//
// List operations return records in creation order. Timestamps are stored
// as fixed-width UTC strings so lexical order matches time order, and rowid
// breaks ties between records created in the same instant.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicate: uniqueness guard rejected the insert, e.g. a second
//     participant record for the same (session, user)
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests of packages that consume the store.
// Use NewSQLiteStore with a path under t.TempDir() for store tests.
package store
