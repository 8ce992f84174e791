// Package runlock provides the time-bounded exclusive lease that keeps
// overlapping annotation ticks, in one process or across replicas, from
// running at the same time.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"horse.fit/newsai/internal/config"
	"horse.fit/newsai/internal/db"
)

var ErrLockHeld = errors.New("run lock held by another owner")

// Locker grants a named lease to one owner at a time. Acquire by the current
// owner extends the lease. A lease not renewed within its ttl is free again.
type Locker interface {
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) (bool, error)
	Close() error
}

// NewOwnerID returns an id unique to this process instance.
func NewOwnerID() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "newsai"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
}

// New builds the locker selected by NEWS_AI_LOCK_BACKEND.
func New(cfg *config.Config, pool *db.Pool) (Locker, error) {
	switch backend := cfg.NormalizedLockBackend(); backend {
	case config.LockBackendPostgres:
		if pool == nil {
			return nil, fmt.Errorf("postgres lock backend requires a database pool")
		}
		return NewPostgresLocker(pool), nil
	case config.LockBackendRedis:
		return NewRedisLocker(cfg.RedisURL)
	case config.LockBackendMemory:
		return NewMemoryLocker(), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend %q", backend)
	}
}
