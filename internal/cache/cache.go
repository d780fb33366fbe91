// Package cache holds the Redis-backed caches: completed job results and the
// fixed-window counters behind HTTP rate limiting.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/adlens/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Cache is the caching interface. Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements Cache on go-redis. Every key is stored under the
// configured prefix so several deployments can share one Redis.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache connects lazily; call Ping to verify the server is reachable.
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "parse redis URL")
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	return NewRedisCacheWithClient(redis.NewClient(opts), cfg.KeyPrefix), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Client exposes the connection so the work queue can share it.
func (c *RedisCache) Client() redis.UniversalClient { return c.client }

// Key returns name inside this cache's namespace.
func (c *RedisCache) Key(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + ":" + name
}

func (c *RedisCache) Close() error { return c.client.Close() }

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return eris.Wrap(err, "redis ping")
	}
	return nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.Key(key), value, ttl).Err(); err != nil {
		return eris.Wrapf(err, "redis set %s", key)
	}
	return nil
}

// Get reports found=false on a miss rather than an error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.Key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, eris.Wrapf(err, "redis get %s", key)
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.Key(key)).Err(); err != nil {
		return eris.Wrapf(err, "redis del %s", key)
	}
	return nil
}

// IncrWithExpiry counts one hit in a fixed window. The expiry is only set when
// the window opens, so later hits do not extend it.
func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	k := c.Key(key)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, eris.Wrapf(err, "redis incr %s", key)
	}
	return incr.Val(), nil
}
