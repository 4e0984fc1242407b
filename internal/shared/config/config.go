package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// DevJWTSecret is the signing secret used when JWT_SECRET is not set.
const DevJWTSecret = "dev-secret-change-in-prod"

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Backend   BackendConfig
	Auth      AuthConfig
	Session   SessionConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	KurrentDB KurrentDBConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// TrustedProxies lists the addresses or CIDRs allowed to set X-Forwarded-For
	TrustedProxies []string
}

// IsProduction reports whether the server runs with production settings.
func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

type LogConfig struct {
	// Level: debug, info, warn, error
	Level string
	// Format: "dev" for colored console, "prod" for JSON
	Format string
}

// BackendConfig points at the upstream REST backend that owns users,
// projects and catalogs.
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
	// TokenScheme prefixes the backend token in the Authorization header
	TokenScheme string
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	// SessionTTL bounds both the console token and the stored session record
	SessionTTL time.Duration
	// CookieName carries the token for browser clients
	CookieName   string
	SecureCookie bool
}

// SessionConfig selects where authenticated sessions are kept.
type SessionConfig struct {
	// Driver: "memory", "redis" or "postgres"
	Driver          string
	KeyPrefix       string
	CleanupInterval time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB), which
// backs the activity log when enabled.
type KurrentDBConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
}

type RateLimitConfig struct {
	// LoginRPS and LoginBurst apply per client IP on the login endpoint
	LoginRPS   int
	LoginBurst int
}

type CORSConfig struct {
	AllowedOrigins []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),

			TrustedProxies: getEnvSlice("TRUSTED_PROXIES", nil),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "dev"),
		},
		Backend: BackendConfig{
			BaseURL:     strings.TrimRight(getEnv("BACKEND_URL", "http://127.0.0.1:8000/api"), "/"),
			Timeout:     getEnvDuration("BACKEND_TIMEOUT", 15*time.Second),
			TokenScheme: getEnv("BACKEND_TOKEN_SCHEME", "Bearer"),
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", DevJWTSecret),
			Issuer:       getEnv("JWT_ISSUER", "tides-console"),
			SessionTTL:   getEnvDuration("SESSION_TTL", 8*time.Hour),
			CookieName:   getEnv("SESSION_COOKIE", "tides_session"),
			SecureCookie: getEnvBool("SESSION_COOKIE_SECURE", false),
		},
		Session: SessionConfig{
			Driver:          getEnv("SESSION_DRIVER", "memory"),
			KeyPrefix:       getEnv("SESSION_KEY_PREFIX", "tides:session"),
			CleanupInterval: getEnvDuration("SESSION_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "tides"),
			Password: getEnv("DB_PASSWORD", "tides"),
			Database: getEnv("DB_NAME", "tides"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		KurrentDB: KurrentDBConfig{
			Enabled:  getEnvBool("KURRENTDB_ENABLED", false),
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		RateLimit: RateLimitConfig{
			LoginRPS:   getEnvInt("LOGIN_RATE_RPS", 1),
			LoginBurst: getEnvInt("LOGIN_RATE_BURST", 5),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run safely.
func (c *Config) Validate() error {
	switch c.Session.Driver {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown SESSION_DRIVER %q", c.Session.Driver)
	}

	if c.Server.IsProduction() && c.Auth.JWTSecret == DevJWTSecret {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}

	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}

	for _, p := range c.Server.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			return fmt.Errorf("invalid TRUSTED_PROXIES entry %q", p)
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
