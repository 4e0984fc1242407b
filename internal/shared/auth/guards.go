package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	rbac "github.com/tides-platform/console/internal/auth"
	"github.com/tides-platform/console/internal/shared/logger"
	"github.com/tides-platform/console/internal/shared/metrics"
)

// Denial describes a request a guard turned away.
type Denial struct {
	Kind      string // "authenticated", "permission", "role" or "route"
	Required  []string
	Status    int
	Method    string
	Path      string
	SessionID string
	ActorID   string
	ActorRole string
}

// DenialRecorder receives guard denials, typically the activity log.
type DenialRecorder interface {
	RecordDenial(ctx context.Context, d Denial)
}

// Guards builds authorization middleware over the session in the request context.
type Guards struct {
	recorder DenialRecorder
}

// NewGuards returns guards reporting denials to recorder, which may be nil.
func NewGuards(recorder DenialRecorder) *Guards {
	return &Guards{recorder: recorder}
}

// RequireAuthenticated rejects requests without a principal.
func (g *Guards) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := rbac.FromContext(r.Context())
		allowed := s.IsAuthenticated()
		metrics.RecordAuthorizationDecision("authenticated", "", allowed)
		if !allowed {
			g.Deny(w, r, "authenticated", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission requires every listed permission.
func (g *Guards) RequirePermission(perms ...rbac.Permission) func(http.Handler) http.Handler {
	required := permissionStrings(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := rbac.FromContext(r.Context())
			allowed := len(perms) > 0
			for _, p := range perms {
				if !s.HasPermission(p) {
					allowed = false
					break
				}
			}
			metrics.RecordAuthorizationDecision("permission", strings.Join(required, ","), allowed)
			if !allowed {
				g.Deny(w, r, "permission", required)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission requires at least one of the listed permissions.
func (g *Guards) RequireAnyPermission(perms ...rbac.Permission) func(http.Handler) http.Handler {
	required := permissionStrings(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed := rbac.FromContext(r.Context()).HasAnyPermission(perms...)
			metrics.RecordAuthorizationDecision("permission", strings.Join(required, "|"), allowed)
			if !allowed {
				g.Deny(w, r, "permission", required)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole requires the principal's role to be one of roles.
func (g *Guards) RequireRole(roles ...rbac.Role) func(http.Handler) http.Handler {
	required := make([]string, len(roles))
	for i, r := range roles {
		required[i] = string(r)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed := rbac.FromContext(r.Context()).HasRole(roles...)
			metrics.RecordAuthorizationDecision("role", strings.Join(required, "|"), allowed)
			if !allowed {
				g.Deny(w, r, "role", required)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Deny writes 401 for callers without a principal and 403 otherwise, and
// reports the denial.
func (g *Guards) Deny(w http.ResponseWriter, r *http.Request, kind string, required []string) {
	ctx := r.Context()
	s := rbac.FromContext(ctx)

	status := http.StatusForbidden
	if !s.IsAuthenticated() {
		status = http.StatusUnauthorized
	}

	d := Denial{
		Kind:      kind,
		Required:  required,
		Status:    status,
		Method:    r.Method,
		Path:      r.URL.Path,
		SessionID: SessionIDFrom(ctx),
	}
	if p, ok := s.Principal(); ok {
		d.ActorID = p.ID
		d.ActorRole = string(p.Role)
	}

	logger.From(ctx).Info("access denied",
		logger.Path(d.Path),
		logger.Status(status),
		logger.Permission(strings.Join(required, ",")))

	if g != nil && g.recorder != nil {
		g.recorder.RecordDenial(ctx, d)
	}

	if status == http.StatusUnauthorized {
		writeError(w, status, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	writeError(w, status, "FORBIDDEN", "insufficient permissions", map[string]any{"required": required})
}

func permissionStrings(perms []rbac.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]any{
		"error": message,
		"code":  code,
	}
	if details != nil {
		resp["details"] = details
	}
	json.NewEncoder(w).Encode(resp)
}
