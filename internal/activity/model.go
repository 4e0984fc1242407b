package activity

import (
	"time"

	"github.com/tides-platform/console/internal/shared/types"
)

// Actions recorded by the console.
const (
	ActionLogin        = "auth.login"
	ActionLoginFailed  = "auth.login_failed"
	ActionLogout       = "auth.logout"
	ActionForcedLogout = "auth.forced_logout"
	ActionDenied       = "authz.denied"
)

// Entry is one line of the activity log.
type Entry struct {
	ID        types.ID          `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	ActorID   string            `json:"actor_id,omitempty"`
	ActorRole string            `json:"actor_role,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// NewEntry creates an entry with a fresh ID and the current time.
func NewEntry(action string) Entry {
	return Entry{
		ID:        types.NewID(),
		Timestamp: time.Now().UTC(),
		Action:    action,
	}
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	ActorID string     `json:"actor_id,omitempty"`
	Action  string     `json:"action,omitempty"`
	Since   *time.Time `json:"since,omitempty"`
	Until   *time.Time `json:"until,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	default:
		return f.Limit
	}
}

func (f Filter) matches(e Entry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}
