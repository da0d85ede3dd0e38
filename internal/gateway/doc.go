// Package gateway wires the trio-gateway server together.
//
// # Overview
//
// Gateway owns every long-lived component: the SQLite store, the session
// lifecycle manager, the presence registry, the conversation router with
// its context cache, the realtime hub, the HTTP server and the optional
// gRPC health server. New builds them from a config.Config; Run serves
// until the context ends and then shuts everything down in order.
//
// # HTTP Surface
//
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness, 503 once shutdown begins
//   - GET /ws - Realtime websocket endpoint
//   - /api/sessions... - Session creation, listing, details, stats,
//     invitations, completion, archival and context reset
//   - /api/scenarios/{id}/... - Approve, reject, revise, validate
//   - /api/messages/{id}... - Edit, delete, reactions, read receipts
//   - GET /api/stats - Live connection and room counts
//
// Every /api route runs behind auth.Authenticator. With no jwt_secret the
// gateway trusts X-User-ID; otherwise a bearer token is required.
//
// Lifecycle errors map onto statuses by code: validation 400, forbidden
// 403, not_found 404, conflict 409, capacity 429. Anything else is a 500
// with the detail logged rather than returned.
//
// # gRPC
//
// When server.grpc_addr is set the gateway also serves the standard
// grpc.health.v1 service, flipping to NOT_SERVING during shutdown.
//
// # Background Work
//
// An idle sweeper pauses active sessions with no participant activity for
// sessions.inactive_timeout, checking every sessions.sweep_interval.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks; shuts down when ctx is cancelled
//
// # Key Files
//
//   - gateway.go: construction, Run and Shutdown
//   - api.go: REST handlers and error mapping
//   - health.go: liveness and readiness
//   - sweeper.go: idle session sweep
package gateway
