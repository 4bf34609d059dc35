package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/quotecore/internal/metrics"
)

// Redis stores entries in Redis with SET EX. Keys are namespaced by prefix.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Get returns the value for key. Backend errors are reported as misses;
// use Lookup to tell them apart.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.Lookup(ctx, key)
	if err != nil || data == nil {
		return nil, false
	}
	return data, true
}

// Lookup returns (nil, nil) on a miss and a non-nil error on backend failure.
func (r *Redis) Lookup(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheRequests.WithLabelValues("redis", "miss").Inc()
			return nil, nil
		}
		metrics.CacheErrors.WithLabelValues("redis").Inc()
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	metrics.CacheRequests.WithLabelValues("redis", "hit").Inc()
	return data, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLShort
	}
	if err := r.client.SetEx(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues("redis").Inc()
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *Redis) HealthCheck(ctx context.Context) bool {
	return r.client.Ping(ctx).Err() == nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
