package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaurya/behave/config"
)

// RedisAdapter implements Cache using Redis.
type RedisAdapter struct {
	Client *redis.Client
	prefix string
}

// NewRedisAdapter creates a new Redis-backed cache adapter.
func NewRedisAdapter(cfg config.RedisConfig, prefix string) (*RedisAdapter, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid redis url %s: %w", cfg.URL, err)
	}

	if cfg.Pool > 0 {
		opts.PoolSize = cfg.Pool
	}
	opts.DB = cfg.DB

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("cache: cannot connect to redis at %s: %w", cfg.URL, err)
	}

	return NewRedisAdapterFromClient(client, prefix), nil
}

// NewRedisAdapterFromClient wraps an existing client.
func NewRedisAdapterFromClient(client *redis.Client, prefix string) *RedisAdapter {
	return &RedisAdapter{Client: client, prefix: prefix}
}

func (r *RedisAdapter) key(k string) string {
	return r.prefix + k
}

func (r *RedisAdapter) Get(ctx context.Context, key string) (string, error) {
	val, err := r.Client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrMiss, key)
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (r *RedisAdapter) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return r.Client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisAdapter) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.key(k)
	}
	return r.Client.Del(ctx, prefixed...).Err()
}

func (r *RedisAdapter) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.Client.Exists(ctx, r.key(key)).Result()
	return n > 0, err
}

func (r *RedisAdapter) GetOrSet(ctx context.Context, key string, ttl time.Duration, fn func() (any, error)) (string, error) {
	val, err := r.Get(ctx, key)
	if err == nil {
		return val, nil
	}

	res, err := fn()
	if err != nil {
		return "", err
	}

	err = r.Set(ctx, key, res, ttl)
	if err != nil {
		return "", err
	}

	return toString(res), nil
}

// Flush removes every key under the adapter prefix, or the whole database
// when the adapter has no prefix.
func (r *RedisAdapter) Flush(ctx context.Context) error {
	if r.prefix == "" {
		return r.Client.FlushDB(ctx).Err()
	}
	iter := r.Client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.Client.Del(ctx, keys...).Err()
}

// Close closes the underlying client.
func (r *RedisAdapter) Close() error {
	return r.Client.Close()
}
