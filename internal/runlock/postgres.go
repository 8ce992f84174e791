package runlock

import (
	"context"
	"time"
)

type leaseStore interface {
	AcquireRunLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, name, owner string) (bool, error)
}

// PostgresLocker keeps leases in news_ai_run_locks so every replica sharing
// the database sees the same holder.
type PostgresLocker struct {
	store leaseStore
}

func NewPostgresLocker(store leaseStore) *PostgresLocker {
	return &PostgresLocker{store: store}
}

func (l *PostgresLocker) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	return l.store.AcquireRunLock(ctx, name, owner, ttl)
}

func (l *PostgresLocker) Release(ctx context.Context, name, owner string) (bool, error) {
	return l.store.ReleaseRunLock(ctx, name, owner)
}

func (l *PostgresLocker) Close() error {
	return nil
}
