package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
	LockBackendMemory   = "memory"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"NEWSAI_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"NEWSAI_DB_MAX_CONNS" default:"8"`

	// Static pipeline defaults. Runtime overrides from news_ai_settings win over these.
	Enabled        bool   `envconfig:"NEWS_AI_ENABLED" default:"true"`
	ProvidersFile  string `envconfig:"NEWS_AI_PROVIDERS_FILE" default:""`
	Strategy       string `envconfig:"NEWS_AI_STRATEGY" default:"priority"`
	ResponseFormat string `envconfig:"NEWS_AI_RESPONSE_FORMAT" default:"json_object"`
	MaxAttempts    int    `envconfig:"NEWS_AI_MAX_ATTEMPTS" default:"3"`
	BatchSize      int    `envconfig:"NEWS_AI_BATCH_SIZE" default:"50"`
	Categories     string `envconfig:"NEWS_AI_CATEGORIES" default:""`

	Workers          int           `envconfig:"NEWS_AI_WORKERS" default:"4"`
	Interval         time.Duration `envconfig:"NEWS_AI_INTERVAL" default:"1m"`
	RequestTimeout   time.Duration `envconfig:"NEWS_AI_REQUEST_TIMEOUT" default:"30s"`
	MaxResponseBytes int64         `envconfig:"NEWS_AI_MAX_RESPONSE_BYTES" default:"1048576"`
	ErrorLogSize     int           `envconfig:"NEWS_AI_ERROR_LOG_SIZE" default:"50"`

	LockBackend string        `envconfig:"NEWS_AI_LOCK_BACKEND" default:"postgres"`
	LockName    string        `envconfig:"NEWS_AI_LOCK_NAME" default:"news_ai_annotate"`
	LockTTL     time.Duration `envconfig:"NEWS_AI_LOCK_TTL" default:"5m"`
	RedisURL    string        `envconfig:"REDIS_URL" default:""`

	AdminTokenHash string `envconfig:"ADMIN_TOKEN_HASH" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("NEWSAI_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("NEWSAI_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("NEWSAI_DB_MIN_CONNS (%d) cannot exceed NEWSAI_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("NEWS_AI_MAX_ATTEMPTS must be >= 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("NEWS_AI_BATCH_SIZE must be >= 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("NEWS_AI_WORKERS must be >= 1")
	}
	if c.Interval < time.Second {
		return fmt.Errorf("NEWS_AI_INTERVAL must be >= 1s")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("NEWS_AI_REQUEST_TIMEOUT must be > 0")
	}
	if c.MaxResponseBytes < 1024 {
		return fmt.Errorf("NEWS_AI_MAX_RESPONSE_BYTES must be >= 1024")
	}
	if c.ErrorLogSize < 1 {
		return fmt.Errorf("NEWS_AI_ERROR_LOG_SIZE must be >= 1")
	}
	if c.LockTTL < time.Second {
		return fmt.Errorf("NEWS_AI_LOCK_TTL must be >= 1s")
	}
	if strings.TrimSpace(c.LockName) == "" {
		return fmt.Errorf("NEWS_AI_LOCK_NAME is required")
	}
	switch c.NormalizedLockBackend() {
	case LockBackendPostgres, LockBackendMemory:
	case LockBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when NEWS_AI_LOCK_BACKEND=redis")
		}
	default:
		return fmt.Errorf("NEWS_AI_LOCK_BACKEND must be one of postgres, redis, memory")
	}
	return nil
}

// Tier is the environment suffix used to pick tier-specific overrides.
func (c *Config) Tier() string {
	if c == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(c.Environment))
}

func (c *Config) NormalizedLockBackend() string {
	if c == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(c.LockBackend))
}

func (c *Config) CategoryList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.Categories, ",")
	categories := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		category := strings.TrimSpace(part)
		if category == "" {
			continue
		}
		if _, exists := seen[category]; exists {
			continue
		}
		seen[category] = struct{}{}
		categories = append(categories, category)
	}
	return categories
}
