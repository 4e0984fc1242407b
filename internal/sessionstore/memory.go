package sessionstore

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory keeps sessions in process memory. Sessions are lost on restart.
type Memory struct {
	c   *gocache.Cache
	now func() time.Time
}

func NewMemory(cleanupInterval time.Duration) *Memory {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &Memory{
		c:   gocache.New(gocache.NoExpiration, cleanupInterval),
		now: time.Now,
	}
}

func (m *Memory) Save(ctx context.Context, r *Record) error {
	now := m.now()
	if err := validate(r, now); err != nil {
		return err
	}
	// stored encoded so callers cannot mutate the stored record
	data, err := encode(r)
	if err != nil {
		return err
	}
	m.c.Set(r.ID, data, r.ExpiresAt.Sub(now))
	return nil
}

func (m *Memory) Load(ctx context.Context, id string) (*Record, error) {
	v, ok := m.c.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	data, _ := v.([]byte)
	r, err := decode(data)
	if err != nil {
		return nil, err
	}
	if r.Expired(m.now()) {
		m.c.Delete(id)
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.c.Delete(id)
	return nil
}

// Len returns the number of stored sessions, expired ones included until swept.
func (m *Memory) Len() int {
	return m.c.ItemCount()
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
