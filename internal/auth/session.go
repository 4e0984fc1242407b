package auth

import (
	"errors"
	"sync"
)

// ErrNilSession is returned by Login on a nil *Session, which has nowhere
// to hold a principal and stays Unauthenticated.
var ErrNilSession = errors.New("login on nil session")

// Principal represents the authenticated user of a session.
type Principal struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Avatar string `json:"avatar,omitempty"`

	RequiresPasswordChange bool `json:"requires_password_change,omitempty"`
}

// State is the authorization-relevant lifecycle state of a session.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
)

func (s State) String() string {
	if s == StateAuthenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Session holds the current principal and answers capability checks.
//
// The zero value and a nil *Session are both valid Unauthenticated sessions:
// every check on them returns false. A Session is safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	principal *Principal
}

// NewSession returns an Unauthenticated session.
func NewSession() *Session {
	return &Session{}
}

// RestoreSession builds an Authenticated session for a previously stored
// principal. It fails with ErrInvalidRole exactly like Login.
func RestoreSession(p Principal) (*Session, error) {
	s := NewSession()
	if err := s.Login(p); err != nil {
		return s, err
	}
	return s, nil
}

// Login moves the session to Authenticated with p as principal.
//
// The role is re-parsed against the closed role set. An unrecognised role
// leaves the session Unauthenticated (any previous principal is dropped) and
// returns ErrInvalidRole. Logging in over an existing principal replaces it.
// A nil session cannot be logged into and returns ErrNilSession.
func (s *Session) Login(p Principal) error {
	if s == nil {
		return ErrNilSession
	}

	role, err := ParseRole(string(p.Role))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.principal = nil
		return err
	}

	p.Role = role
	s.principal = &p
	return nil
}

// Logout moves the session to Unauthenticated. It is also the transition
// taken when a backend call reports an authorization failure.
func (s *Session) Logout() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.principal = nil
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	if s.current() == nil {
		return StateUnauthenticated
	}
	return StateAuthenticated
}

// IsAuthenticated reports whether a principal is present.
func (s *Session) IsAuthenticated() bool {
	return s.current() != nil
}

// Principal returns a copy of the current principal.
func (s *Session) Principal() (Principal, bool) {
	p := s.current()
	if p == nil {
		return Principal{}, false
	}
	return *p, true
}

// Role returns the principal's role, or "" when Unauthenticated.
func (s *Session) Role() Role {
	p := s.current()
	if p == nil {
		return ""
	}
	return p.Role
}

// HasPermission reports whether the principal's role grants perm.
// Matching is exact and case-sensitive. No principal means false.
func (s *Session) HasPermission(perm Permission) bool {
	p := s.current()
	if p == nil {
		return false
	}
	return RoleHasPermission(p.Role, perm)
}

// HasAnyPermission reports whether at least one of perms is granted.
func (s *Session) HasAnyPermission(perms ...Permission) bool {
	for _, perm := range perms {
		if s.HasPermission(perm) {
			return true
		}
	}
	return false
}

// HasRole reports whether the principal's role equals one of roles.
// No principal, or no roles given, means false.
func (s *Session) HasRole(roles ...Role) bool {
	p := s.current()
	if p == nil {
		return false
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// Permissions returns the ordered permission list of the principal's role.
func (s *Session) Permissions() []Permission {
	p := s.current()
	if p == nil {
		return nil
	}
	return PermissionsFor(p.Role)
}

func (s *Session) current() *Principal {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal
}
