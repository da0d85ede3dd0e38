// ABOUTME: Authentication context for tracking the caller through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating identity via context

package auth

import (
	"context"
)

// AuthContext holds the identity extracted from a request.
type AuthContext struct {
	UserID    string
	Name      string
	Email     string
	Role      string
	Anonymous bool // identity was asserted by the client, not a token
}

// DisplayName returns Name, or the user id when no name is known.
func (a *AuthContext) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.UserID
}

type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
