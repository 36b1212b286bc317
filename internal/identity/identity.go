// Package identity validates the (user, session) pair that scopes every
// conversation and carries it through request contexts.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
)

const (
	UserHeaderName        = "X-User-ID"
	SessionHeaderName     = "X-Session-ID"
	DefaultUserIDValue    = "anonymous"
	DefaultSessionIDValue = "default"
)

type contextKey int

const (
	userIDKey contextKey = iota
	sessionIDKey
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Valid reports whether id is acceptable as a user or session ID.
func Valid(id string) bool {
	return idPattern.MatchString(id)
}

// ConnectionKey derives the registry and connection key for a pair.
func ConnectionKey(userID, sessionID string) string {
	return userID + "_" + sessionID
}

// WithIDs stores the pair on ctx.
func WithIDs(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return DefaultUserIDValue
}

// SessionIDFromContext extracts the session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

func sanitize(id, fallback string) string {
	id = strings.TrimSpace(id)
	if id == "" || !Valid(id) {
		return fallback
	}
	return id
}

// FromRequest resolves the pair from chi URL params, then query, then headers.
func FromRequest(r *http.Request) (userID, sessionID string) {
	userID = chi.URLParam(r, "user_id")
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		userID = r.Header.Get(UserHeaderName)
	}
	sessionID = chi.URLParam(r, "session_id")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("session_id")
	}
	if sessionID == "" {
		sessionID = r.Header.Get(SessionHeaderName)
	}
	return sanitize(userID, DefaultUserIDValue), sanitize(sessionID, DefaultSessionIDValue)
}

// Middleware injects the resolved pair into the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, sessionID := FromRequest(r)
		next.ServeHTTP(w, r.WithContext(WithIDs(r.Context(), userID, sessionID)))
	})
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
