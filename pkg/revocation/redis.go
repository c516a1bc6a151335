package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultCallTimeout = 2 * time.Second

// RedisStore is a revocation store shared across deployment replicas.
type RedisStore struct {
	client      *redis.Client
	prefix      string
	callTimeout time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix overrides the key prefix (default "revoked").
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithCallTimeout bounds each store call. Lookups that exceed it fail, and
// the caller fails closed.
func WithCallTimeout(timeout time.Duration) RedisOption {
	return func(s *RedisStore) {
		if timeout > 0 {
			s.callTimeout = timeout
		}
	}
}

// NewRedisStore connects to Redis and verifies connectivity.
func NewRedisStore(url string, opts ...RedisOption) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	options.DialTimeout = 5 * time.Second
	options.ReadTimeout = 3 * time.Second
	options.WriteTimeout = 3 * time.Second

	store := &RedisStore{
		client:      redis.NewClient(options),
		prefix:      "revoked",
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(store)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return store, nil
}

func (s *RedisStore) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key(id), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revocation write: %w", err)
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("revocation lookup: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}
