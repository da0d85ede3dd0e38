// Package realtime is the connection-facing side of trio-gateway.
//
// # Hub
//
// The Hub receives every connection event and composes the lifecycle
// manager, the presence registry and the conversation router:
//
//	hub := realtime.NewHub(manager, router, store, registry, realtime.Config{}, logger)
//	events, _ := hub.Connect(ctx, connID, identity)
//	hub.Handle(ctx, connID, envelope)
//	hub.Disconnect(connID)
//
// Membership changes go through the lifecycle manager first; the registry
// is only updated once the durable change succeeded. Disconnects remove the
// connection from its room at once but defer the durable leave for the
// grace period. Rejoining inside the window cancels it.
//
// # Chat
//
// A send_message frame is stored and relayed to the rest of the room, then
// queued for the router. Replies for one session run one at a time in
// arrival order; other sessions are unaffected. While the router works the
// room sees bot_typing, then the reply, then bot_typing false, then any
// scenarios_generated event.
//
// # Delivery
//
// Every connection has an outbox buffered to 64 events. Broadcasts read the
// room membership at send time and never block; a full outbox drops the
// event for that connection only.
//
// # Transport
//
// Handler serves the websocket endpoint with gorilla/websocket. Frames are
// JSON envelopes {"event": ..., "data": ...}. The server pings every 30
// seconds and drops clients that stop answering.
package realtime
