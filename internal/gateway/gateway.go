// Package gateway forwards console calls to the REST backend after checking
// the caller's permissions for the target resource.
package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tides-platform/console/internal/auth"
	sharedauth "github.com/tides-platform/console/internal/shared/auth"
	"github.com/tides-platform/console/internal/shared/errors"
	"github.com/tides-platform/console/internal/shared/logger"
	"github.com/tides-platform/console/internal/shared/metrics"
)

// Sessions gives the gateway access to stored sessions.
type Sessions interface {
	// BackendToken returns the backend token of an active session.
	BackendToken(ctx context.Context, sessionID string) (string, error)
	// ForceLogout ends a session the backend no longer accepts.
	ForceLogout(ctx context.Context, sessionID, reason string) error
}

// Authorizer sets backend credentials on an outgoing request.
type Authorizer interface {
	Authorize(req *http.Request, token string)
}

var errSessionExpired = stderrors.New("backend rejected session token")

type ctxKey struct{}

type proxyState struct {
	sessionID string
	start     time.Time
}

// Gateway is a permission-gated reverse proxy.
type Gateway struct {
	rules    []Rule
	sessions Sessions
	guards   *sharedauth.Guards
	proxy    *httputil.ReverseProxy
	log      *zap.Logger
}

// New builds a gateway forwarding to base.
func New(base *url.URL, rules []Rule, sessions Sessions, authz Authorizer, guards *sharedauth.Guards) *Gateway {
	g := &Gateway{
		rules:    rules,
		sessions: sessions,
		guards:   guards,
		log:      logger.Named("gateway"),
	}

	g.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetXForwarded()
			pr.Out.URL.Scheme = base.Scheme
			pr.Out.URL.Host = base.Host
			pr.Out.URL.Path = joinPath(base.Path, pr.In.URL.Path)
			pr.Out.URL.RawPath = ""
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
			pr.Out.Host = base.Host

			// console credentials never reach the backend
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")
			if token, ok := pr.In.Context().Value(tokenKey{}).(string); ok {
				authz.Authorize(pr.Out, token)
			}
		},
		ModifyResponse: g.modifyResponse,
		ErrorHandler:   g.errorHandler,
	}
	return g
}

type tokenKey struct{}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := auth.FromContext(ctx)

	if !s.IsAuthenticated() {
		g.guards.Deny(w, r, "authenticated", nil)
		return
	}

	target, err := upstreamPath(r)
	if err != nil {
		writeError(w, errors.BadRequest("malformed resource path"))
		return
	}
	rule, ok := matchRule(g.rules, target)
	if !ok {
		metrics.RecordAuthorizationDecision("route", "backend", false)
		writeError(w, errors.NotFound("backend resource", target))
		return
	}

	required := rule.Required(r.Method)
	allowed := s.HasAnyPermission(required...)
	metrics.RecordAuthorizationDecision("route", rule.Prefix, allowed)
	if !allowed {
		g.guards.Deny(w, r, "route", permissionStrings(required))
		return
	}

	sessionID := sharedauth.SessionIDFrom(ctx)
	token, err := g.sessions.BackendToken(ctx, sessionID)
	if err != nil || token == "" {
		writeError(w, errors.SessionExpired())
		return
	}

	ctx = context.WithValue(ctx, tokenKey{}, token)
	ctx = context.WithValue(ctx, ctxKey{}, &proxyState{sessionID: sessionID, start: time.Now()})

	out := r.Clone(ctx)
	out.URL.Path = target
	out.URL.RawPath = ""
	g.proxy.ServeHTTP(w, out)
}

// modifyResponse turns a backend 401 into a forced logout.
func (g *Gateway) modifyResponse(resp *http.Response) error {
	state, _ := resp.Request.Context().Value(ctxKey{}).(*proxyState)
	if state != nil {
		metrics.RecordBackendRequest("proxy", resp.StatusCode, time.Since(state.start))
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return nil
	}
	resp.Body.Close()

	if state != nil {
		// detached so the logout completes even if the client went away
		ctx := context.WithoutCancel(resp.Request.Context())
		if err := g.sessions.ForceLogout(ctx, state.sessionID, "backend_unauthorized"); err != nil {
			g.log.Warn("forced logout failed", logger.SessionID(state.sessionID), logger.Err(err))
		}
	}
	return errSessionExpired
}

func (g *Gateway) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if stderrors.Is(err, errSessionExpired) {
		writeError(w, errors.SessionExpired())
		return
	}
	if state, ok := r.Context().Value(ctxKey{}).(*proxyState); ok {
		metrics.RecordBackendRequest("proxy", 0, time.Since(state.start))
	}
	logger.From(r.Context()).Warn("backend proxy failed", logger.Path(r.URL.Path), logger.Err(err))
	writeError(w, errors.BadGateway("backend unavailable", err))
}

// upstreamPath is the decoded, cleaned part of the request path after the
// gateway mount point. chi matches on RawPath when it is set, so the wildcard
// is unescaped in that case.
func upstreamPath(r *http.Request) (string, error) {
	p := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if wildcard := rctx.URLParam("*"); wildcard != "" || strings.HasSuffix(rctx.RoutePattern(), "/*") {
			p = wildcard
			if r.URL.RawPath != "" {
				decoded, err := url.PathUnescape(wildcard)
				if err != nil {
					return "", err
				}
				p = decoded
			}
		}
	}
	trailing := strings.HasSuffix(p, "/")
	p = path.Clean("/" + p)
	if trailing && p != "/" {
		p += "/"
	}
	return p, nil
}

func joinPath(base, p string) string {
	return strings.TrimRight(base, "/") + p
}

func permissionStrings(perms []auth.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func writeError(w http.ResponseWriter, err *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"error":   err.Message,
		"code":    err.Code,
		"details": err.Details,
	})
}
