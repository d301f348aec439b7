package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	HTTPAddr    string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath      string     `env:"DB_PATH" envDefault:"data/stamprally.db"`
	LogLevel    slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	SPADir      string     `env:"SPA_DIR" envDefault:"../web/dist"`
	CatalogPath string     `env:"CATALOG_PATH" envDefault:"data/spots.json"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	SampleCount      int           `env:"SAMPLE_COUNT" envDefault:"3"`
	SampleInterval   time.Duration `env:"SAMPLE_INTERVAL" envDefault:"1200ms"`
	AttemptTimeout   time.Duration `env:"ATTEMPT_TIMEOUT" envDefault:"10s"`
	AttemptGrace     time.Duration `env:"ATTEMPT_GRACE" envDefault:"2s"`
	StrictPermission bool          `env:"STRICT_PERMISSION_CHECK" envDefault:"false"`

	// Zero keeps every player loaded until shutdown.
	PlayerIdleTTL time.Duration `env:"PLAYER_IDLE_TTL" envDefault:"30m"`
}

// Load reads .env when present, then the process environment. Variables
// already set in the environment win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.StoreBackend != BackendSQLite && c.StoreBackend != BackendRedis {
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendSQLite, BackendRedis, c.StoreBackend))
	}
	if c.SampleCount < 1 {
		errs = append(errs, fmt.Errorf("SAMPLE_COUNT must be at least 1, got %d", c.SampleCount))
	}
	if c.SampleInterval < 0 {
		errs = append(errs, fmt.Errorf("SAMPLE_INTERVAL must not be negative"))
	}
	if c.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ATTEMPT_TIMEOUT must be positive"))
	}
	if c.AttemptGrace < 0 {
		errs = append(errs, fmt.Errorf("ATTEMPT_GRACE must not be negative"))
	}
	if c.PlayerIdleTTL < 0 {
		errs = append(errs, fmt.Errorf("PLAYER_IDLE_TTL must not be negative"))
	}
	return errors.Join(errs...)
}
