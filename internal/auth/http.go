// ABOUTME: HTTP identity extraction for the REST API and the websocket upgrade
// ABOUTME: Bearer JWT when a verifier is configured, X-User-ID headers in anonymous mode

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Anonymous-mode headers. Browsers cannot set headers on a websocket
// upgrade, so the same values are also read from the query string.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	queryToken     = "token"
	queryUserID    = "user_id"
	queryUserName  = "user_name"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" || token == "undefined" || token == "null" {
		return "", "empty token"
	}
	return token, ""
}

// Authenticator resolves the caller of an HTTP request. With a nil verifier
// it runs in anonymous mode and trusts the X-User-ID header.
type Authenticator struct {
	verifier TokenVerifier
	logger   *slog.Logger
}

// NewAuthenticator creates an Authenticator. verifier may be nil.
func NewAuthenticator(verifier TokenVerifier, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{verifier: verifier, logger: logger.With("component", "auth")}
}

// Anonymous reports whether tokens are ignored.
func (a *Authenticator) Anonymous() bool {
	return a.verifier == nil
}

// Identify extracts the caller from r.
func (a *Authenticator) Identify(r *http.Request) (*AuthContext, error) {
	if a.verifier == nil {
		return anonymousIdentity(r)
	}

	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		token = r.URL.Query().Get(queryToken)
		if token == "" {
			return nil, errors.Join(ErrUnauthenticated, errors.New(errMsg))
		}
	}

	claims, err := a.verifier.Verify(token)
	if err != nil {
		a.logger.Debug("token rejected", "error", err)
		return nil, errors.Join(ErrUnauthenticated, err)
	}
	return &AuthContext{
		UserID: claims.UserID(),
		Name:   claims.Name,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}

func anonymousIdentity(r *http.Request) (*AuthContext, error) {
	q := r.URL.Query()
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		userID = q.Get(queryUserID)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.Join(ErrUnauthenticated, errors.New("missing "+HeaderUserID))
	}
	name := r.Header.Get(HeaderUserName)
	if name == "" {
		name = q.Get(queryUserName)
	}
	return &AuthContext{UserID: userID, Name: name, Anonymous: true}, nil
}

// Middleware rejects unidentified requests with 401 and attaches the
// AuthContext to the request context otherwise.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, err := a.Identify(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "unauthorized",
				"message": err.Error(),
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
	})
}
