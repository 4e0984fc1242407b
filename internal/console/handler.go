package console

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tides-platform/console/internal/activity"
	"github.com/tides-platform/console/internal/auth"
	"github.com/tides-platform/console/internal/navigation"
	sharedauth "github.com/tides-platform/console/internal/shared/auth"
	"github.com/tides-platform/console/internal/shared/errors"
	"github.com/tides-platform/console/internal/shared/logger"
	"github.com/tides-platform/console/internal/shared/middleware"
)

// HandlerConfig wires the HTTP layer to its collaborators.
type HandlerConfig struct {
	Issuer   *sharedauth.TokenIssuer
	Guards   *sharedauth.Guards
	Activity activity.Log
	// Gateway serves /backend/*; nil disables the proxy.
	Gateway      http.Handler
	LoginLimiter *middleware.IPRateLimiter
	CookieName   string
	SecureCookie bool
}

// Handler serves the console API.
type Handler struct {
	service *Service
	cfg     HandlerConfig
}

func NewHandler(service *Service, cfg HandlerConfig) *Handler {
	return &Handler{service: service, cfg: cfg}
}

// Routes returns the console API router. Every route sees the caller's
// session in its context.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(sharedauth.Middleware(h.cfg.Issuer, h.service, h.cfg.CookieName))

	guards := h.cfg.Guards

	r.Route("/auth", func(r chi.Router) {
		login := r.With()
		if h.cfg.LoginLimiter != nil {
			login = r.With(h.cfg.LoginLimiter.Middleware)
		}
		login.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Post("/check", h.Check)
		r.With(guards.RequireAuthenticated).Get("/me", h.Me)
		r.With(guards.RequireAuthenticated).Post("/refresh", h.Refresh)
	})

	r.Get("/routes/check", h.CheckRoute)

	r.Group(func(r chi.Router) {
		r.Use(guards.RequireAuthenticated)
		r.Get("/navigation", h.Navigation)
		r.Get("/dashboard", h.Dashboard)
		r.Get("/settings", h.Settings)
	})

	r.With(guards.RequirePermission(auth.PermUserManagement)).Get("/roles", h.Roles)

	if h.cfg.Activity != nil {
		r.With(guards.RequirePermission(auth.PermActivityLogs)).
			Mount("/activity-logs", activity.NewHandler(h.cfg.Activity).Routes())
	}

	if h.cfg.Gateway != nil {
		r.Handle("/backend/*", h.cfg.Gateway)
	}

	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse describes the caller's session.
type sessionResponse struct {
	Authenticated bool              `json:"authenticated"`
	State         string            `json:"state"`
	User          *auth.Principal   `json:"user,omitempty"`
	Role          auth.Role         `json:"role,omitempty"`
	Permissions   []auth.Permission `json:"permissions"`
	Dashboard     string            `json:"dashboard,omitempty"`
	Settings      string            `json:"settings,omitempty"`
}

func describe(s *auth.Session) sessionResponse {
	resp := sessionResponse{
		Authenticated: s.IsAuthenticated(),
		State:         s.State().String(),
		Permissions:   s.Permissions(),
	}
	if resp.Permissions == nil {
		resp.Permissions = []auth.Permission{}
	}
	if p, ok := s.Principal(); ok {
		resp.User = &p
		resp.Role = p.Role
		resp.Dashboard = navigation.DashboardFor(s)
		resp.Settings = navigation.SettingsFor(s)
	}
	return resp
}

// Login handles POST /auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	res, err := h.service.Login(r.Context(), req.Email, req.Password, Meta{
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.setCookie(w, res.Token, res.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      res.Token,
		"expires_at": res.ExpiresAt,
		"session":    describe(res.Session),
	})
}

// Logout handles POST /auth/logout. It always clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), sharedauth.SessionIDFrom(r.Context())); err != nil {
		logger.From(r.Context()).Error("logout failed", logger.Err(err))
		writeError(w, err)
		return
	}
	h.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, describe(auth.FromContext(r.Context())))
}

// Refresh handles POST /auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Refresh(r.Context(), sharedauth.SessionIDFrom(r.Context()))
	if err != nil {
		if appErr, ok := errors.As(err); ok && appErr.Code == "SESSION_EXPIRED" {
			h.clearCookie(w)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(session))
}

type checkRequest struct {
	Permission string   `json:"permission,omitempty"`
	Roles      []string `json:"roles,omitempty"`
}

// Check handles POST /auth/check. When both a permission and roles are
// given, both must hold.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.Permission == "" && len(req.Roles) == 0 {
		writeError(w, errors.Validation("nothing to check", map[string]string{
			"permission": "permission or roles required",
		}))
		return
	}

	s := auth.FromContext(r.Context())
	allowed := true
	if req.Permission != "" {
		allowed = s.HasPermission(auth.Permission(req.Permission))
	}
	if len(req.Roles) > 0 {
		roles := make([]auth.Role, len(req.Roles))
		for i, role := range req.Roles {
			roles[i] = auth.Role(role)
		}
		allowed = allowed && s.HasRole(roles...)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":       allowed,
		"authenticated": s.IsAuthenticated(),
	})
}

// CheckRoute handles GET /routes/check?path=
func (h *Handler) CheckRoute(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeError(w, errors.Validation("path is required", map[string]string{"path": "required"}))
		return
	}
	writeJSON(w, http.StatusOK, navigation.Guard(auth.FromContext(r.Context()), p))
}

// Navigation handles GET /navigation
func (h *Handler) Navigation(w http.ResponseWriter, r *http.Request) {
	items := navigation.Menu(auth.FromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// Dashboard handles GET /dashboard
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"dashboard": navigation.DashboardFor(auth.FromContext(r.Context())),
	})
}

// Settings handles GET /settings
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"panel": navigation.SettingsFor(auth.FromContext(r.Context())),
	})
}

type roleEntry struct {
	Role        auth.Role         `json:"role"`
	Permissions []auth.Permission `json:"permissions"`
}

// Roles handles GET /roles
func (h *Handler) Roles(w http.ResponseWriter, r *http.Request) {
	roles := auth.Roles()
	out := make([]roleEntry, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleEntry{Role: role, Permissions: auth.PermissionsFor(role)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *Handler) setCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.Internal(err)
	}
	writeJSON(w, appErr.HTTPStatus, map[string]any{
		"error":   appErr.Message,
		"code":    appErr.Code,
		"details": appErr.Details,
	})
}
