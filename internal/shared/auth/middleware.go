package auth

import (
	"context"
	"net/http"
	"strings"

	rbac "github.com/tides-platform/console/internal/auth"
	"github.com/tides-platform/console/internal/shared/logger"
)

type contextKey string

const sessionIDContextKey contextKey = "session_id"

// SessionResolver rebuilds the session container for a stored session ID.
type SessionResolver interface {
	Resume(ctx context.Context, sessionID string) (*rbac.Session, error)
}

// Middleware resolves the caller's session and puts it into the request
// context. Requests without a valid token continue with an Unauthenticated
// session; guards decide what that caller may reach.
func Middleware(issuer *TokenIssuer, resolver SessionResolver, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			session := rbac.NewSession()

			if token := extractToken(r, cookieName); token != "" {
				claims, err := issuer.Parse(token)
				if err != nil {
					logger.From(ctx).Debug("rejected session token", logger.Err(err))
				} else {
					resumed, err := resolver.Resume(ctx, claims.SessionID)
					switch {
					case err != nil:
						logger.From(ctx).Warn("session not resumed",
							logger.SessionID(claims.SessionID), logger.Err(err))
					case !resumed.IsAuthenticated():
						logger.From(ctx).Debug("session no longer stored",
							logger.SessionID(claims.SessionID))
					case string(resumed.Role()) != claims.Role:
						// token minted for another role; the stored record wins and the caller must log in again
						logger.From(ctx).Warn("session role does not match token",
							logger.SessionID(claims.SessionID))
					default:
						session = resumed
						ctx = WithSessionID(ctx, claims.SessionID)
						l := logger.From(ctx).With(
							logger.SessionID(claims.SessionID),
							logger.UserID(claims.Subject),
							logger.Role(claims.Role),
						)
						ctx = logger.ToContext(ctx, l)
					}
				}
			}

			ctx = rbac.WithSession(ctx, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request, cookieName string) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil {
			return c.Value
		}
	}
	return ""
}

// WithSessionID returns a copy of ctx carrying the stored session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, id)
}

// SessionIDFrom returns the stored session ID of an authenticated request.
func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}
