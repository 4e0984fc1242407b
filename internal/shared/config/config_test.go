package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Session.Driver)
	assert.Equal(t, 8*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, "tides_session", cfg.Auth.CookieName)
	assert.False(t, cfg.KurrentDB.Enabled)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SESSION_DRIVER", "redis")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("BACKEND_URL", "http://backend:8000/api/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Session.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Auth.SessionTTL)
	assert.Equal(t, "http://backend:8000/api", cfg.Backend.BaseURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("SESSION_TTL", "forever")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8*time.Hour, cfg.Auth.SessionTTL)
}

func TestValidate(t *testing.T) {
	t.Run("unknown session driver", func(t *testing.T) {
		t.Setenv("SESSION_DRIVER", "etcd")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("production requires secret", func(t *testing.T) {
		t.Setenv("ENV", "production")
		_, err := Load()
		assert.Error(t, err)

		t.Setenv("JWT_SECRET", "a-real-secret")
		_, err = Load()
		assert.NoError(t, err)
	})

	t.Run("trusted proxies", func(t *testing.T) {
		t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.7")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.7"}, cfg.Server.TrustedProxies)

		t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,not-an-ip")
		_, err = Load()
		assert.Error(t, err)
	})
}

func TestRedisAddr(t *testing.T) {
	r := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", r.Addr())
}
