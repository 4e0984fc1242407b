package sessionstore

import (
	"context"
	"fmt"

	"github.com/tides-platform/console/internal/shared/config"
	"github.com/tides-platform/console/internal/shared/database"
)

// New selects the store named by cfg.Session.Driver. db is required only for
// the postgres driver.
func New(ctx context.Context, cfg *config.Config, db *database.DB) (Store, error) {
	switch cfg.Session.Driver {
	case "", "memory":
		return NewMemory(cfg.Session.CleanupInterval), nil
	case "redis":
		return NewRedis(ctx, cfg.Redis, cfg.Session.KeyPrefix)
	case "postgres":
		if db == nil || db.Pool == nil {
			return nil, fmt.Errorf("sessionstore: postgres driver needs a database")
		}
		return NewPostgres(db.Pool), nil
	default:
		return nil, fmt.Errorf("sessionstore: unknown driver %q", cfg.Session.Driver)
	}
}
