package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "newsai:lock:"

var acquireScript = redis.NewScript(`
local holder = redis.call("GET", KEYS[1])
if not holder or holder == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker stores leases as keys with a PX expiry. Ownership checks run
// inside Lua scripts so check-and-set is atomic.
type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(redisURL string) (*RedisLocker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return &RedisLocker{client: redis.NewClient(opt)}, nil
}

func NewRedisLockerWithClient(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	n, err := acquireScript.Run(ctx, l.client, []string{redisKey(name)}, owner, ms).Int()
	if err != nil {
		return false, fmt.Errorf("acquire run lock %s: %w", name, err)
	}
	return n == 1, nil
}

func (l *RedisLocker) Release(ctx context.Context, name, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{redisKey(name)}, owner).Int()
	if err != nil {
		return false, fmt.Errorf("release run lock %s: %w", name, err)
	}
	return n > 0, nil
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func redisKey(name string) string {
	return redisKeyPrefix + name
}
