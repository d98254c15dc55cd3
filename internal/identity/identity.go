// Package identity extracts the caller's conversation session from requests.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	// SessionHeaderName carries the conversation session id on chat requests.
	SessionHeaderName = "X-Session-ID"
	// SessionQueryParam is the fallback for clients that cannot set headers (WebSocket).
	SessionQueryParam = "session_id"
)

type contextKey int

const (
	sessionIDKey contextKey = iota
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// SessionIDFromContext returns the session id injected by Middleware, or "".
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID returns a copy of ctx carrying id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SanitizeSessionID trims id and returns "" when it is not a plausible session id.
func SanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return ""
	}
	return id
}

func rawSessionID(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get(SessionQueryParam)
	}
	return sid
}

func sessionIDFromRequest(r *http.Request) string {
	return SanitizeSessionID(rawSessionID(r))
}

// SessionIDSupplied reports whether the request names a session at all,
// valid or not. A supplied but malformed id can never resolve to a session.
func SessionIDSupplied(r *http.Request) bool {
	return strings.TrimSpace(rawSessionID(r)) != ""
}

// Middleware injects the request's session id, if any, into the context.
// Handlers decide whether a missing id is an error.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sid := sessionIDFromRequest(r); sid != "" {
				r = r.WithContext(WithSessionID(r.Context(), sid))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPFromRequest returns a normalized remote IP for rate limiting and tracing.
// chi's RealIP middleware has already rewritten RemoteAddr when proxied.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
