// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	GRPCPort string `env:"GRPC_PORT" envDefault:"9090"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	DBPath       string `env:"DB_PATH" envDefault:"./data/rolecall.db"`
	Redis        RedisConfig

	CatalogPath string `env:"CATALOG_PATH"`

	// AdminID is the chat user allowed to manage moderators and chats.
	AdminID  int64  `env:"ADMIN_ID"`
	APIToken string `env:"API_TOKEN"`

	JoinWindow time.Duration `env:"JOIN_WINDOW" envDefault:"60s"`
	MinPlayers int           `env:"MIN_PLAYERS" envDefault:"2"`

	AllowedOrigin string `env:"ALLOWED_ORIGIN"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	DBMaxRetries     int           `env:"DB_MAX_RETRIES" envDefault:"3"`
	DBRetryBaseDelay time.Duration `env:"DB_RETRY_BASE_DELAY" envDefault:"50ms"`

	HealthInterval  time.Duration `env:"HEALTH_INTERVAL" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// RedisConfig configures the redis store backend.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Prefix   string `env:"REDIS_PREFIX" envDefault:"rolecall"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.GRPCPort == "" {
		return fmt.Errorf("GRPC_PORT cannot be empty")
	}
	switch c.StoreBackend {
	case BackendSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.JoinWindow <= 0 {
		return fmt.Errorf("JOIN_WINDOW must be > 0")
	}
	if c.MinPlayers < 1 {
		return fmt.Errorf("MIN_PLAYERS must be >= 1")
	}
	if c.DBMaxRetries < 1 {
		return fmt.Errorf("DB_MAX_RETRIES must be >= 1")
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("HEALTH_INTERVAL must be > 0")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
