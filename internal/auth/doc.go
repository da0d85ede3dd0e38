// Package auth identifies the user behind a REST call or a websocket upgrade.
//
// # JWT Tokens
//
// When auth.jwt_secret is set, callers present an HS256 token as
// "Authorization: Bearer <token>" (or ?token= on the websocket URL). The
// subject claim is the user id; name, email and role are optional claims.
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("u-1", "Ana", "ana@example.com", "tester", 24*time.Hour)
//
// Secrets shorter than MinSecretLength are refused.
//
// # Anonymous Mode
//
// Without a secret, the caller is whoever the X-User-ID header (or the
// user_id query parameter) says. This is meant for local workshops and tests.
//
// # Context
//
// Authenticator.Middleware stores an AuthContext on the request context;
// handlers read it back with FromContext.
package auth
