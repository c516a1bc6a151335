package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultCounterPrefix = "gatehouse:throttle:"

// RedisCounter keeps window counters in Redis so all service instances
// share one view of each key.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// RedisCounterOption configures a RedisCounter.
type RedisCounterOption func(*RedisCounter)

// WithCounterPrefix overrides the key prefix.
func WithCounterPrefix(prefix string) RedisCounterOption {
	return func(c *RedisCounter) {
		c.prefix = prefix
	}
}

// NewRedisCounter wraps an existing client.
func NewRedisCounter(client *redis.Client, opts ...RedisCounterOption) *RedisCounter {
	c := &RedisCounter{
		client: client,
		prefix: defaultCounterPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DialRedisCounter connects to the given Redis URL and verifies the
// connection before returning a counter.
func DialRedisCounter(ctx context.Context, redisURL string, opts ...RedisCounterOption) (*RedisCounter, error) {
	cfg, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	cfg.DialTimeout = 5 * time.Second
	cfg.ReadTimeout = 3 * time.Second
	cfg.WriteTimeout = 3 * time.Second

	client := redis.NewClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisCounter(client, opts...), nil
}

// Incr bumps the key and returns the in-window count plus time to reset.
// INCR and PTTL run in one pipeline round trip. The expiry is set only on
// the first hit of a window, so later hits never stretch it.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	full := c.prefix + key

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, full)
	pttl := pipe.PTTL(ctx, full)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("throttle incr %s: %w", key, err)
	}

	count := incr.Val()
	remaining := pttl.Val()
	if count == 1 || remaining < 0 {
		if err := c.client.PExpire(ctx, full, window).Err(); err != nil {
			return count, window, fmt.Errorf("throttle expire %s: %w", key, err)
		}
		remaining = window
	}
	return count, remaining, nil
}

// Get reads the current count without touching the window.
func (c *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	count, err := c.client.Get(ctx, c.prefix+key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("throttle get %s: %w", key, err)
	}
	return count, nil
}

// Reset clears the window for key.
func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("throttle reset %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection.
func (c *RedisCounter) Close() error {
	return c.client.Close()
}
