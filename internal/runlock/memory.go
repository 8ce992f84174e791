package runlock

import (
	"context"
	"sync"
	"time"

	"horse.fit/newsai/internal/globaltime"
)

type lease struct {
	owner     string
	expiresAt time.Time
}

// MemoryLocker is a process-local Locker for single-instance deployments
// and tests.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]lease),
		now:    globaltime.Now,
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if current, ok := l.leases[name]; ok && current.owner != owner && now.Before(current.expiresAt) {
		return false, nil
	}
	l.leases[name] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, name, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.leases[name]
	if !ok || current.owner != owner {
		return false, nil
	}
	delete(l.leases, name)
	return true, nil
}

func (l *MemoryLocker) Close() error {
	return nil
}
