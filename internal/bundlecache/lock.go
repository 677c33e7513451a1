package bundlecache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker is the minimal distributed-lock surface this package needs,
// trimmed from internal/common/cache's LockOps (the hash/set/list/zset
// operations on that interface have no caller in the judging core: there
// is no leaderboard or session state here, only the single-fetch race
// below).
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// RedisLocker implements Locker directly against go-redis, grounded on
// internal/common/cache/redis.go's identical TryLock/Unlock pair
// (SetNX/Del), without carrying the rest of that file's generic cache
// surface along.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, "1", ttl).Result()
}

func (l *RedisLocker) Unlock(ctx context.Context, key string) error {
	return l.client.Del(ctx, key).Err()
}
