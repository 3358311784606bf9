package store

import (
	"fmt"

	"github.com/ashureev/rolecall/internal/config"
)

// Open returns the repository selected by STORE_BACKEND.
func Open(cfg *config.Config) (Repository, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		return NewRedis(RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	case config.BackendSQLite, "":
		return NewSQLite(cfg.DBPath, RetryPolicy{
			MaxAttempts: cfg.DBMaxRetries,
			BaseDelay:   cfg.DBRetryBaseDelay,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
