package db

import (
	"context"
	"fmt"
	"time"
)

// AcquireRunLock takes the named lease for owner, or extends it when owner
// already holds it. Expiry is evaluated on the database clock so replicas with
// skewed clocks agree.
func (p *Pool) AcquireRunLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	const q = `
INSERT INTO news_ai_run_locks (name, owner, acquired_at, expires_at)
VALUES ($1, $2, now(), now() + make_interval(secs => $3::double precision))
ON CONFLICT (name) DO UPDATE
SET
	owner = EXCLUDED.owner,
	acquired_at = CASE
		WHEN news_ai_run_locks.owner = EXCLUDED.owner THEN news_ai_run_locks.acquired_at
		ELSE EXCLUDED.acquired_at
	END,
	expires_at = EXCLUDED.expires_at
WHERE news_ai_run_locks.expires_at <= now()
   OR news_ai_run_locks.owner = EXCLUDED.owner
`
	tag, err := p.Exec(ctx, q, name, owner, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("acquire run lock %s: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseRunLock drops the lease if owner still holds it.
func (p *Pool) ReleaseRunLock(ctx context.Context, name, owner string) (bool, error) {
	tag, err := p.Exec(ctx, `DELETE FROM news_ai_run_locks WHERE name = $1 AND owner = $2`, name, owner)
	if err != nil {
		return false, fmt.Errorf("release run lock %s: %w", name, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RunLockHolder returns the current holder and expiry of a lease, if any.
func (p *Pool) RunLockHolder(ctx context.Context, name string) (string, time.Time, bool, error) {
	var (
		owner     string
		expiresAt time.Time
	)
	err := p.QueryRow(ctx, `
SELECT owner, expires_at
FROM news_ai_run_locks
WHERE name = $1
  AND expires_at > now()
`, name).Scan(&owner, &expiresAt)
	if err != nil {
		if IsNoRows(err) {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, fmt.Errorf("query run lock %s: %w", name, err)
	}
	return owner, expiresAt, true, nil
}
