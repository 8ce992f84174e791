package config

import (
	"reflect"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Environment:      "local",
		LogLevel:         "info",
		DatabaseURL:      "postgres://localhost/newsai",
		DBMinConns:       1,
		DBMaxConns:       4,
		Strategy:         "priority",
		ResponseFormat:   "json_object",
		MaxAttempts:      3,
		BatchSize:        50,
		Workers:          4,
		Interval:         time.Minute,
		RequestTimeout:   30 * time.Second,
		MaxResponseBytes: 1 << 20,
		ErrorLogSize:     50,
		LockBackend:      LockBackendPostgres,
		LockName:         "news_ai_annotate",
		LockTTL:          5 * time.Minute,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRequiresRedisURLForRedisLocks(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.LockBackend = "Redis"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected redis backend without REDIS_URL to fail")
	}

	cfg.RedisURL = "redis://localhost:6379/0"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate with redis url: %v", err)
	}
}

func TestValidateRejectsBadBounds(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"attempts":    func(c *Config) { c.MaxAttempts = 0 },
		"batch":       func(c *Config) { c.BatchSize = 0 },
		"workers":     func(c *Config) { c.Workers = 0 },
		"conns":       func(c *Config) { c.DBMinConns = 9 },
		"lock ttl":    func(c *Config) { c.LockTTL = time.Millisecond },
		"lock engine": func(c *Config) { c.LockBackend = "etcd" },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestCategoryListTrimsAndDedupes(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Categories = " law, policy ,law,,"
	got := cfg.CategoryList()
	want := []string{"law", "policy"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected categories: got %v want %v", got, want)
	}
}
