package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tides-platform/console/internal/shared/config"
)

// Redis stores sessions as JSON values whose key TTL matches the session expiry.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg config.RedisConfig, prefix string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("sessionstore: redis ping failed: %w", err)
	}

	return NewRedisWithClient(rdb, prefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (s *Redis) key(id string) string {
	if s.prefix == "" {
		return id
	}
	return s.prefix + ":" + id
}

func (s *Redis) Save(ctx context.Context, r *Record) error {
	now := s.now()
	if err := validate(r, now); err != nil {
		return err
	}
	data, err := encode(r)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(r.ID), data, r.ExpiresAt.Sub(now)).Err()
}

func (s *Redis) Load(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessionstore: redis get: %w", err)
	}

	r, err := decode(data)
	if err != nil {
		return nil, err
	}
	if r.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *Redis) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Redis) Close() error {
	return s.client.Close()
}
