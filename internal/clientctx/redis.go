package clientctx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "voicerelay:ctx:"

// kv is the subset of *redis.Client used by the cache.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisCache fronts another Source with a TTL cache. Cache failures fall
// through to the wrapped source.
type RedisCache struct {
	client kv
	next   Source
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration, next Source, logger *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisCache(client, ttl, next, logger), nil
}

func newRedisCache(client kv, ttl time.Duration, next Source, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, next: next, ttl: ttl, prefix: defaultKeyPrefix, logger: logger}
}

func (c *RedisCache) Lookup(ctx context.Context, ref Reference) (string, error) {
	if ref.Empty() {
		return "", nil
	}
	key := c.prefix + ref.key()

	text, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return text, nil
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("context cache read failed", zap.Error(err))
	}

	text, err = c.next.Lookup(ctx, ref)
	if err != nil {
		return "", err
	}
	if err := c.client.Set(ctx, key, text, c.ttl).Err(); err != nil {
		c.logger.Warn("context cache write failed", zap.Error(err))
	}
	return text, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return c.next.Ping(ctx)
}

func (c *RedisCache) Close() error {
	return errors.Join(c.client.Close(), c.next.Close())
}
