// Package console runs the principal lifecycle of the admin console:
// login, resume, logout, forced logout and profile refresh.
package console

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tides-platform/console/internal/activity"
	"github.com/tides-platform/console/internal/auth"
	"github.com/tides-platform/console/internal/backend"
	"github.com/tides-platform/console/internal/sessionstore"
	sharedauth "github.com/tides-platform/console/internal/shared/auth"
	"github.com/tides-platform/console/internal/shared/errors"
	"github.com/tides-platform/console/internal/shared/logger"
	"github.com/tides-platform/console/internal/shared/metrics"
	"github.com/tides-platform/console/internal/shared/types"
)

// Backend is the part of the REST backend the console needs.
type Backend interface {
	Login(ctx context.Context, email, password string) (*backend.LoginResult, error)
	Profile(ctx context.Context, token string) (*backend.User, error)
	Logout(ctx context.Context, token string) error
}

// Forced logout reasons.
const (
	ReasonBackendUnauthorized = "backend_unauthorized"
	ReasonRoleChanged         = "role_changed"
	ReasonInvalidRole         = "invalid_role"
)

// Meta describes the client of a login.
type Meta struct {
	IP        string
	UserAgent string
}

// LoginResult is handed to the client after a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	SessionID string
	Session   *auth.Session
}

// Service owns session records and their transitions.
type Service struct {
	backend  Backend
	store    sessionstore.Store
	issuer   *sharedauth.TokenIssuer
	activity activity.Log
	now      func() time.Time
	log      *zap.Logger
}

func NewService(b Backend, store sessionstore.Store, issuer *sharedauth.TokenIssuer, log activity.Log) *Service {
	return &Service{
		backend:  b,
		store:    store,
		issuer:   issuer,
		activity: log,
		now:      time.Now,
		log:      logger.Named("console"),
	}
}

// Login authenticates against the backend and opens a session. A principal
// whose role is not one of the known roles is refused and nothing is stored.
func (s *Service) Login(ctx context.Context, email, password string, meta Meta) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, errors.Validation("email and password are required", map[string]string{
			"email":    "required",
			"password": "required",
		})
	}

	res, err := s.backend.Login(ctx, email, password)
	if err != nil {
		s.loginFailed(ctx, email, "backend_rejected", meta)
		if errors.Is(err, errors.ErrUnauthorized) || errors.Is(err, errors.ErrBadRequest) {
			return nil, errors.Unauthorized("invalid email or password")
		}
		return nil, err
	}

	user := res.User
	if user == nil {
		user, err = s.backend.Profile(ctx, res.Token)
		if err != nil {
			s.loginFailed(ctx, email, "profile_unavailable", meta)
			return nil, err
		}
	}

	principal := user.Principal()
	session := auth.NewSession()
	if err := session.Login(principal); err != nil {
		s.loginFailed(ctx, email, "unknown_role", meta)
		s.log.Warn("login refused for unknown role",
			logger.UserID(principal.ID), zap.String("role", string(principal.Role)))
		if err := s.backend.Logout(ctx, res.Token); err != nil {
			s.log.Debug("backend logout after refused login failed", logger.Err(err))
		}
		return nil, errors.Forbidden("account role is not recognised")
	}
	principal, _ = session.Principal()

	now := s.now()
	record := &sessionstore.Record{
		ID:           types.NewID().String(),
		Principal:    principal,
		BackendToken: res.Token,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.issuer.TTL()),
	}
	if err := s.store.Save(ctx, record); err != nil {
		return nil, errors.Internal(err)
	}

	token, expiresAt, err := s.issuer.Issue(record.ID, principal)
	if err != nil {
		_ = s.store.Delete(ctx, record.ID)
		return nil, errors.Internal(err)
	}

	entry := activity.NewEntry(activity.ActionLogin)
	entry.ActorID = principal.ID
	entry.ActorRole = string(principal.Role)
	entry.SessionID = record.ID
	entry.IP = meta.IP
	entry.Details = map[string]string{"user_agent": meta.UserAgent}
	s.record(ctx, entry)

	metrics.RecordSessionTransition("login", string(principal.Role))
	s.log.Info("session opened",
		logger.SessionID(record.ID), logger.UserID(principal.ID), logger.Role(string(principal.Role)))

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		SessionID: record.ID,
		Session:   session,
	}, nil
}

func (s *Service) loginFailed(ctx context.Context, email, reason string, meta Meta) {
	entry := activity.NewEntry(activity.ActionLoginFailed)
	entry.IP = meta.IP
	entry.Details = map[string]string{"email": email, "reason": reason}
	s.record(ctx, entry)
	metrics.RecordSessionTransition("login_failed", "")
}

// Resume rebuilds the session container for a stored session. Missing,
// expired or unparseable records yield an Unauthenticated session.
func (s *Service) Resume(ctx context.Context, sessionID string) (*auth.Session, error) {
	rec, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return auth.NewSession(), nil
	}
	if err != nil {
		return nil, err
	}

	session, err := rec.Session()
	if err != nil {
		_ = s.end(ctx, rec, activity.ActionForcedLogout, ReasonInvalidRole)
		return auth.NewSession(), nil
	}
	return session, nil
}

// BackendToken returns the backend token of an active session.
func (s *Service) BackendToken(ctx context.Context, sessionID string) (string, error) {
	rec, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return rec.BackendToken, nil
}

// Logout ends the session. The backend token is revoked on a best-effort
// basis. Logging out an unknown session is not an error.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	rec, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Internal(err)
	}

	if err := s.backend.Logout(ctx, rec.BackendToken); err != nil {
		s.log.Warn("backend logout failed", logger.SessionID(sessionID), logger.Err(err))
	}
	return s.end(ctx, rec, activity.ActionLogout, "")
}

// ForceLogout ends a session after the backend reported an authorization
// failure for it.
func (s *Service) ForceLogout(ctx context.Context, sessionID, reason string) error {
	rec, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Internal(err)
	}
	return s.end(ctx, rec, activity.ActionForcedLogout, reason)
}

// Refresh re-reads the principal from the backend. A changed role is never
// applied in place: the session ends and the user has to log in again.
func (s *Service) Refresh(ctx context.Context, sessionID string) (*auth.Session, error) {
	rec, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return nil, errors.SessionExpired()
	}
	if err != nil {
		return nil, errors.Internal(err)
	}

	user, err := s.backend.Profile(ctx, rec.BackendToken)
	if errors.Is(err, errors.ErrUnauthorized) {
		_ = s.end(ctx, rec, activity.ActionForcedLogout, ReasonBackendUnauthorized)
		return nil, errors.SessionExpired()
	}
	if err != nil {
		return nil, err
	}

	principal := user.Principal()
	if principal.Role != rec.Principal.Role {
		_ = s.end(ctx, rec, activity.ActionForcedLogout, ReasonRoleChanged)
		return nil, errors.SessionExpired()
	}

	session, err := auth.RestoreSession(principal)
	if err != nil {
		_ = s.end(ctx, rec, activity.ActionForcedLogout, ReasonInvalidRole)
		return nil, errors.SessionExpired()
	}

	rec.Principal = principal
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, errors.Internal(err)
	}
	return session, nil
}

// end deletes the record and logs the transition.
func (s *Service) end(ctx context.Context, rec *sessionstore.Record, action, reason string) error {
	if err := s.store.Delete(ctx, rec.ID); err != nil {
		return errors.Internal(err)
	}

	entry := activity.NewEntry(action)
	entry.ActorID = rec.Principal.ID
	entry.ActorRole = string(rec.Principal.Role)
	entry.SessionID = rec.ID
	if reason != "" {
		entry.Details = map[string]string{"reason": reason}
	}
	s.record(ctx, entry)

	transition := "logout"
	if action == activity.ActionForcedLogout {
		transition = "forced_logout"
	}
	metrics.RecordSessionTransition(transition, string(rec.Principal.Role))
	s.log.Info("session closed",
		logger.SessionID(rec.ID), zap.String("transition", transition), zap.String("reason", reason))
	return nil
}

func (s *Service) record(ctx context.Context, e activity.Entry) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Record(ctx, e); err != nil {
		s.log.Warn("failed to record activity", zap.String("action", e.Action), logger.Err(err))
	}
}
