// Package presence tracks who is connected right now and to which session.
//
// # Registry
//
// Registry holds three structures that always change together:
//
//   - connections: connection id to Member (user, session, display info)
//   - rooms: session id to the set of connection ids in it
//   - typing: session id to the set of user ids currently typing
//
// Every mutating method (Register, Move, SetTyping, Deregister) updates all
// three under one lock, so readers never observe a connection that is in a
// room but missing from the connection map or the reverse. Nothing here is
// persisted; durable membership lives in the lifecycle package.
//
// # Deferred leaves
//
// DeferredLeaves runs a callback once a grace window passes after a
// disconnect, unless the same (session, user) pair is cancelled first.
// A timer that has already been cancelled or replaced never runs its
// callback, even if it was already firing when Cancel was called.
package presence
