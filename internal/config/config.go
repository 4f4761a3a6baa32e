package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string `env:"PORT"         envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	NumWorkers  int    `env:"NUM_WORKERS"  envDefault:"8"`

	// MatcherCatalog points at a YAML file of extra order-reference matchers.
	MatcherCatalog string `env:"MATCHER_CATALOG"`

	RetryMaxAttempts     uint          `env:"RETRY_MAX_ATTEMPTS"     envDefault:"5"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"100ms"`
	RetryMaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL"     envDefault:"5s"`

	// IngestRateLimit is events per second per source; 0 disables limiting.
	IngestRateLimit int `env:"INGEST_RATE_LIMIT" envDefault:"0"`

	RequireTerminalDelivery bool `env:"REQUIRE_TERMINAL_DELIVERY" envDefault:"false"`

	// PipelineInterval schedules Refresh in the server; 0 means on demand only.
	PipelineInterval time.Duration `env:"PIPELINE_INTERVAL" envDefault:"0s"`

	LiveEventsDir string `env:"LIVE_EVENTS_DIR" envDefault:"data/live_events"`
	BootstrapDir  string `env:"BOOTSTRAP_DIR"   envDefault:"data/bootstrap"`
}

// Load reads configuration from environment variables. DATABASE_URL is
// required.
func Load() (*Config, error) {
	cfg, err := LoadLocal()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return cfg, nil
}

// LoadLocal is Load without the database requirement, for local runs that
// fall back to the in-memory store.
func LoadLocal() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.NumWorkers < 1 {
		return nil, fmt.Errorf("NUM_WORKERS must be positive, got %d", cfg.NumWorkers)
	}
	if cfg.IngestRateLimit < 0 {
		return nil, fmt.Errorf("INGEST_RATE_LIMIT must not be negative, got %d", cfg.IngestRateLimit)
	}
	return &cfg, nil
}
