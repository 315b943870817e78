package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts attempts per key within a window.
type Limiter interface {
	// Check fails with ErrRateLimited when key already has max attempts in
	// the current window. It does not count an attempt.
	Check(ctx context.Context, key string, max int, window time.Duration) error
	// Hit counts one attempt and fails with ErrRateLimited when that attempt
	// exceeds max.
	Hit(ctx context.Context, key string, max int, window time.Duration) error
	// Reset forgets all attempts of key.
	Reset(ctx context.Context, key string) error
}

// Redis is a fixed-window Limiter shared across processes.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedis creates a Redis limiter. Keys are stored as prefix + key.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "idrl:"
	}
	return &Redis{redis: client, prefix: prefix}
}

func (l *Redis) Check(ctx context.Context, key string, max int, _ time.Duration) error {
	count, err := l.redis.Get(ctx, l.prefix+key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(max) {
		return ErrRateLimited
	}
	return nil
}

func (l *Redis) Hit(ctx context.Context, key string, max int, window time.Duration) error {
	count, err := l.incrementWithTTL(ctx, l.prefix+key, window)
	if err != nil {
		return err
	}
	if count > int64(max) {
		return ErrRateLimited
	}
	return nil
}

func (l *Redis) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// incrementWithTTL runs INCR and EXPIRE NX in one MULTI so the counter never
// outlives its window. NX keeps the first hit's deadline, which gives fixed
// windows, and still repairs a counter that somehow lost its TTL.
func (l *Redis) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return incr.Val(), nil
}
