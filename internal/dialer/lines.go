package dialer

import (
	"context"
	"time"

	"power-dialer/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// LineLimiter caps how many legs a rep has up at once across all API nodes.
type LineLimiter interface {
	// Acquire takes up to n slots and returns how many it got.
	Acquire(ctx context.Context, repID string, n int) (int, error)
	Release(ctx context.Context, repID string, n int) error
}

// RedisLineLimiter keeps a per-rep counter in Redis. The key TTL bounds leaks
// from crashed nodes.
type RedisLineLimiter struct {
	rdb    *redis.Client
	limit  int
	ttl    time.Duration
	prefix string
}

func NewRedisLineLimiter(rdb *redis.Client, limit int, ttl time.Duration) *RedisLineLimiter {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLineLimiter{rdb: rdb, limit: limit, ttl: ttl, prefix: "dialer:lines:"}
}

func (l *RedisLineLimiter) key(repID string) string { return l.prefix + repID }

func (l *RedisLineLimiter) Acquire(ctx context.Context, repID string, n int) (int, error) {
	var got int
	for i := 0; i < n; i++ {
		ok, err := utils.AcquireConcurrencyCap(ctx, l.rdb, l.key(repID), l.limit, l.ttl)
		if err != nil {
			_ = l.Release(ctx, repID, got)
			return 0, err
		}
		if !ok {
			break
		}
		got++
	}
	return got, nil
}

func (l *RedisLineLimiter) Release(ctx context.Context, repID string, n int) error {
	for i := 0; i < n; i++ {
		if err := utils.ReleaseConcurrencyCap(ctx, l.rdb, l.key(repID)); err != nil {
			return err
		}
	}
	return nil
}

// NoLineLimit grants every request. Used when Redis is not configured.
type NoLineLimit struct{}

func (NoLineLimit) Acquire(ctx context.Context, repID string, n int) (int, error) { return n, nil }
func (NoLineLimit) Release(ctx context.Context, repID string, n int) error        { return nil }
