// Package sessionstore keeps authenticated console sessions between requests.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tides-platform/console/internal/auth"
)

var (
	// ErrNotFound is returned for unknown and expired sessions alike.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidRecord is returned by Save for records that cannot be stored.
	ErrInvalidRecord = errors.New("invalid session record")
)

// Record is a stored session.
type Record struct {
	ID        string         `json:"id"`
	Principal auth.Principal `json:"principal"`
	// BackendToken authenticates the session's calls to the REST backend.
	BackendToken string `json:"backend_token,omitempty"`
	// Token is the console token; only client-side stores keep it.
	Token     string    `json:"token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record is past its expiry at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Session rebuilds the session container for the record. A principal whose
// role no longer parses yields an Unauthenticated session and ErrInvalidRole.
func (r *Record) Session() (*auth.Session, error) {
	return auth.RestoreSession(r.Principal)
}

// Store persists session records.
type Store interface {
	Save(ctx context.Context, r *Record) error
	// Load returns ErrNotFound for unknown or expired sessions.
	Load(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// Sweeper is implemented by stores that need expired records removed explicitly.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

func validate(r *Record, now time.Time) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if r.ExpiresAt.IsZero() || r.Expired(now) {
		return fmt.Errorf("%w: already expired", ErrInvalidRecord)
	}
	return nil
}

func encode(r *Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &r, nil
}
