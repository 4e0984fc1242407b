package auth

import "context"

type contextKey string

const sessionContextKey contextKey = "session"

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// FromContext returns the session carried by ctx. When none is present an
// Unauthenticated session is returned, so callers never branch on nil.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionContextKey).(*Session); ok && s != nil {
		return s
	}
	return NewSession()
}
