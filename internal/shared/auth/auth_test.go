package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rbac "github.com/tides-platform/console/internal/auth"
	"github.com/tides-platform/console/internal/shared/config"
)

func testIssuer() *TokenIssuer {
	return NewTokenIssuer(config.AuthConfig{
		JWTSecret:  "test-secret",
		Issuer:     "tides-console",
		SessionTTL: time.Hour,
	})
}

func principal(role rbac.Role) rbac.Principal {
	return rbac.Principal{ID: "7", Name: "Test", Email: "t@tides.example", Role: role}
}

type fakeResolver struct {
	sessions map[string]rbac.Principal
}

func (f *fakeResolver) Resume(ctx context.Context, sessionID string) (*rbac.Session, error) {
	p, ok := f.sessions[sessionID]
	if !ok {
		return rbac.NewSession(), nil
	}
	return rbac.RestoreSession(p)
}

type denialSink struct {
	denials []Denial
}

func (d *denialSink) RecordDenial(ctx context.Context, denial Denial) {
	d.denials = append(d.denials, denial)
}

// --- Tokens ---

func TestIssueAndParse(t *testing.T) {
	issuer := testIssuer()

	token, expiresAt, err := issuer.Issue("sess-1", principal(rbac.RoleEngineer))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "Engineer", claims.Role)
	assert.Equal(t, "7", claims.Subject)
}

func TestParseRejects(t *testing.T) {
	issuer := testIssuer()
	token, _, err := issuer.Issue("sess-1", principal(rbac.RoleViewer))
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenIssuer(config.AuthConfig{JWTSecret: "other", Issuer: "tides-console", SessionTTL: time.Hour})
		_, err := other.Parse(token)
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewTokenIssuer(config.AuthConfig{JWTSecret: "test-secret", Issuer: "someone-else", SessionTTL: time.Hour})
		_, err := other.Parse(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		late := testIssuer()
		late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := late.Parse(token)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Parse("not.a.token")
		assert.Error(t, err)
	})
}

// --- Middleware ---

func sessionProbe(got **rbac.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = rbac.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAttachesSession(t *testing.T) {
	issuer := testIssuer()
	resolver := &fakeResolver{sessions: map[string]rbac.Principal{"sess-1": principal(rbac.RolePlanner)}}
	token, _, _ := issuer.Issue("sess-1", principal(rbac.RolePlanner))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		authed bool
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, true},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "tides_session", Value: token}) }, true},
		{"no token", func(r *http.Request) {}, false},
		{"malformed header", func(r *http.Request) { r.Header.Set("Authorization", token) }, false},
		{"invalid token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *rbac.Session
			h := Middleware(issuer, resolver, "tides_session")(sessionProbe(&got))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			h.ServeHTTP(httptest.NewRecorder(), req)

			require.NotNil(t, got)
			assert.Equal(t, tt.authed, got.IsAuthenticated())
			if tt.authed {
				assert.True(t, got.HasPermission(rbac.PermReports))
			}
		})
	}
}

func TestMiddlewareDropsStaleSessions(t *testing.T) {
	issuer := testIssuer()

	t.Run("record deleted", func(t *testing.T) {
		token, _, _ := issuer.Issue("gone", principal(rbac.RoleAdmin))
		var got *rbac.Session
		h := Middleware(issuer, &fakeResolver{}, "")(sessionProbe(&got))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		h.ServeHTTP(httptest.NewRecorder(), req)

		assert.False(t, got.IsAuthenticated())
	})

	t.Run("role changed since token", func(t *testing.T) {
		token, _, _ := issuer.Issue("sess-1", principal(rbac.RoleAdmin))
		resolver := &fakeResolver{sessions: map[string]rbac.Principal{"sess-1": principal(rbac.RoleViewer)}}
		var got *rbac.Session
		h := Middleware(issuer, resolver, "")(sessionProbe(&got))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		h.ServeHTTP(httptest.NewRecorder(), req)

		assert.False(t, got.IsAuthenticated())
	})
}

// --- Guards ---

func serveWith(s *rbac.Session, h http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/activity-logs", nil)
	req = req.WithContext(rbac.WithSession(req.Context(), s))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequirePermission(t *testing.T) {
	sink := &denialSink{}
	guards := NewGuards(sink)
	h := guards.RequirePermission(rbac.PermActivityLogs)(okHandler)

	admin, _ := rbac.RestoreSession(principal(rbac.RoleAdmin))
	viewer, _ := rbac.RestoreSession(principal(rbac.RoleViewer))

	assert.Equal(t, http.StatusOK, serveWith(admin, h).Code)

	rec := serveWith(viewer, h)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "FORBIDDEN")

	rec = serveWith(rbac.NewSession(), h)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	require.Len(t, sink.denials, 2)
	assert.Equal(t, "Viewer", sink.denials[0].ActorRole)
	assert.Equal(t, []string{"activity_logs"}, sink.denials[0].Required)
	assert.Equal(t, http.StatusUnauthorized, sink.denials[1].Status)
}

func TestRequirePermissionNeedsAll(t *testing.T) {
	h := NewGuards(nil).RequirePermission(rbac.PermGISPlanning, rbac.PermReports)(okHandler)

	planner, _ := rbac.RestoreSession(principal(rbac.RolePlanner))
	engineer, _ := rbac.RestoreSession(principal(rbac.RoleEngineer))

	assert.Equal(t, http.StatusOK, serveWith(planner, h).Code)
	assert.Equal(t, http.StatusForbidden, serveWith(engineer, h).Code)
}

func TestRequirePermissionWithoutArgumentsDenies(t *testing.T) {
	h := NewGuards(nil).RequirePermission()(okHandler)
	admin, _ := rbac.RestoreSession(principal(rbac.RoleAdmin))
	assert.Equal(t, http.StatusForbidden, serveWith(admin, h).Code)
}

func TestRequireAnyPermission(t *testing.T) {
	h := NewGuards(nil).RequireAnyPermission(rbac.PermViewProjects, rbac.PermViewAllProjects)(okHandler)

	for _, role := range rbac.Roles() {
		s, _ := rbac.RestoreSession(principal(role))
		assert.Equal(t, http.StatusOK, serveWith(s, h).Code, role)
	}
	assert.Equal(t, http.StatusUnauthorized, serveWith(nil, h).Code)
}

func TestRequireRole(t *testing.T) {
	h := NewGuards(nil).RequireRole(rbac.RoleAdmin, rbac.RoleEngineer)(okHandler)

	tests := []struct {
		role rbac.Role
		want int
	}{
		{rbac.RoleAdmin, http.StatusOK},
		{rbac.RoleEngineer, http.StatusOK},
		{rbac.RolePlanner, http.StatusForbidden},
		{rbac.RoleViewer, http.StatusForbidden},
	}
	for _, tt := range tests {
		s, _ := rbac.RestoreSession(principal(tt.role))
		assert.Equal(t, tt.want, serveWith(s, h).Code, tt.role)
	}
}

func TestRequireAuthenticated(t *testing.T) {
	h := NewGuards(nil).RequireAuthenticated(okHandler)

	viewer, _ := rbac.RestoreSession(principal(rbac.RoleViewer))
	assert.Equal(t, http.StatusOK, serveWith(viewer, h).Code)

	viewer.Logout()
	assert.Equal(t, http.StatusUnauthorized, serveWith(viewer, h).Code)
}
