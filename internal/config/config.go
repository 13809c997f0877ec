package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/mercurydesk.db"`

	// Sync
	FetchTimeout   time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	SyncMaxItems   int           `env:"SYNC_MAX_ITEMS" envDefault:"200"`
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"5m"`
	WorkerPoolSize int           `env:"WORKER_POOL_SIZE" envDefault:"4"`
	JobRetention   time.Duration `env:"JOB_RETENTION" envDefault:"6h"`
	// InlineJobs runs sync jobs synchronously inside Enqueue. Meant for
	// single-connection backends that are unsafe to share across goroutines.
	InlineJobs bool `env:"INLINE_JOBS" envDefault:"false"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.SyncMaxItems <= 0 {
		return nil, fmt.Errorf("SYNC_MAX_ITEMS must be positive, got %d", cfg.SyncMaxItems)
	}
	if cfg.WorkerPoolSize <= 0 {
		return nil, fmt.Errorf("WORKER_POOL_SIZE must be positive, got %d", cfg.WorkerPoolSize)
	}

	return cfg, nil
}
