package sessionstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tides-platform/console/internal/auth"
	"github.com/tides-platform/console/internal/shared/config"
	"github.com/tides-platform/console/internal/shared/database"
)

func newRecord(role auth.Role, ttl time.Duration) *Record {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Record{
		ID: uuid.NewString(),
		Principal: auth.Principal{
			ID:    "42",
			Name:  "Ada Engineer",
			Email: "ada@tides.example",
			Role:  role,
		},
		BackendToken: "backend-token",
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
}

// exerciseStore runs the behaviour every driver must share.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("save and load", func(t *testing.T) {
		r := newRecord(auth.RoleEngineer, time.Hour)
		require.NoError(t, s.Save(ctx, r))

		got, err := s.Load(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.Principal, got.Principal)
		assert.Equal(t, r.BackendToken, got.BackendToken)
		assert.True(t, r.ExpiresAt.Equal(got.ExpiresAt))

		session, err := got.Session()
		require.NoError(t, err)
		assert.True(t, session.HasPermission(auth.PermBOQBuilder))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.Load(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		r := newRecord(auth.RoleViewer, time.Hour)
		require.NoError(t, s.Save(ctx, r))
		require.NoError(t, s.Delete(ctx, r.ID))

		_, err := s.Load(ctx, r.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		// deleting twice is fine
		assert.NoError(t, s.Delete(ctx, r.ID))
	})

	t.Run("rejects expired and anonymous records", func(t *testing.T) {
		expired := newRecord(auth.RoleAdmin, -time.Minute)
		assert.ErrorIs(t, s.Save(ctx, expired), ErrInvalidRecord)

		anonymous := newRecord(auth.RoleAdmin, time.Hour)
		anonymous.ID = ""
		assert.ErrorIs(t, s.Save(ctx, anonymous), ErrInvalidRecord)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory(time.Minute)
	defer s.Close()
	exerciseStore(t, s)
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemory(time.Minute)
	r := newRecord(auth.RolePlanner, time.Hour)
	require.NoError(t, s.Save(context.Background(), r))

	s.now = func() time.Time { return r.ExpiresAt.Add(time.Second) }
	_, err := s.Load(context.Background(), r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStoreIsolatesRecords(t *testing.T) {
	s := NewMemory(time.Minute)
	r := newRecord(auth.RoleViewer, time.Hour)
	require.NoError(t, s.Save(context.Background(), r))

	r.Principal.Role = auth.RoleAdmin

	got, err := s.Load(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleViewer, got.Principal.Role)
}

func TestFileStore(t *testing.T) {
	s := NewFile(filepath.Join(t.TempDir(), "tides", "session.json"))
	exerciseStore(t, s)
}

func TestFileStoreKeepsOneSession(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	s := NewFile(path)

	first := newRecord(auth.RoleAdmin, time.Hour)
	second := newRecord(auth.RoleViewer, time.Hour)
	second.Token = "console-token"
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))

	_, err := s.Load(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	current, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
	assert.Equal(t, "console-token", current.Token)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// a stale id does not clear someone else's session
	require.NoError(t, s.Delete(ctx, first.ID))
	_, err = s.Current(ctx)
	assert.NoError(t, err)

	require.NoError(t, s.Delete(ctx, ""))
	_, err = s.Current(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreExpired(t *testing.T) {
	ctx := context.Background()
	s := NewFile(filepath.Join(t.TempDir(), "session.json"))
	r := newRecord(auth.RoleEngineer, time.Hour)
	require.NoError(t, s.Save(ctx, r))

	s.now = func() time.Time { return r.ExpiresAt }
	_, err := s.Current(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFile(path).Current(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRecordSessionRejectsUnknownRole(t *testing.T) {
	r := newRecord("Superuser", time.Hour)
	s, err := r.Session()
	assert.ErrorIs(t, err, auth.ErrInvalidRole)
	assert.False(t, s.IsAuthenticated())
}

func TestFactory(t *testing.T) {
	cfg := &config.Config{Session: config.SessionConfig{Driver: "memory"}}
	s, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	cfg.Session.Driver = "postgres"
	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg.Session.Driver = "floppy"
	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

// Runs against a live Redis when REDIS_TEST_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	s := NewRedisWithClient(client, "test:session:"+uuid.NewString())
	defer s.Close()

	exerciseStore(t, s)

	r := newRecord(auth.RoleViewer, time.Hour)
	require.NoError(t, s.Save(context.Background(), r))
	ttl, err := client.TTL(context.Background(), s.key(r.ID)).Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 5)
}

// Runs against a live Postgres when DATABASE_TEST_DSN is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_TEST_DSN")
	if dsn == "" {
		t.Skip("DATABASE_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, database.Migrate(ctx, pool))

	s := NewPostgres(pool)
	exerciseStore(t, s)

	r := newRecord(auth.RolePlanner, time.Hour)
	require.NoError(t, s.Save(ctx, r))
	s.now = func() time.Time { return r.ExpiresAt.Add(time.Minute) }

	n, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}
