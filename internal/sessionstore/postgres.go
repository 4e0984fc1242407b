package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tides-platform/console/internal/auth"
	"github.com/tides-platform/console/internal/shared/metrics"
)

// Postgres stores sessions in console.sessions.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, now: time.Now}
}

func (s *Postgres) Save(ctx context.Context, r *Record) error {
	if err := validate(r, s.now()); err != nil {
		return err
	}

	principal, err := json.Marshal(r.Principal)
	if err != nil {
		return fmt.Errorf("failed to encode principal: %w", err)
	}

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	start := time.Now()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO console.sessions (id, user_id, role, principal, backend_token, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			role = EXCLUDED.role,
			principal = EXCLUDED.principal,
			backend_token = EXCLUDED.backend_token,
			expires_at = EXCLUDED.expires_at
	`, r.ID, r.Principal.ID, string(r.Principal.Role), principal, r.BackendToken, createdAt, r.ExpiresAt)
	metrics.RecordDBQuery("session_save", time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *Postgres) Load(ctx context.Context, id string) (*Record, error) {
	var (
		r         Record
		principal []byte
	)

	start := time.Now()
	err := s.pool.QueryRow(ctx, `
		SELECT id, principal, backend_token, created_at, expires_at
		FROM console.sessions
		WHERE id = $1 AND expires_at > $2
	`, id, s.now()).Scan(&r.ID, &principal, &r.BackendToken, &r.CreatedAt, &r.ExpiresAt)
	metrics.RecordDBQuery("session_load", time.Since(start))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var p auth.Principal
	if err := json.Unmarshal(principal, &p); err != nil {
		return nil, fmt.Errorf("failed to decode principal: %w", err)
	}
	r.Principal = p
	return &r, nil
}

func (s *Postgres) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM console.sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry and returns how many went.
func (s *Postgres) DeleteExpired(ctx context.Context) (int64, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `DELETE FROM console.sessions WHERE expires_at <= $1`, s.now())
	metrics.RecordDBQuery("session_sweep", time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool belongs to the caller.
func (s *Postgres) Close() error { return nil }
