package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/quotecore/internal/config"
)

const connectTimeout = 2 * time.Second

// Fallback serves from Redis and switches to memory for any operation where
// Redis errors. A Redis miss is a miss; memory is not consulted.
type Fallback struct {
	primary   *Redis
	secondary *Memory
	logger    *slog.Logger

	degraded atomic.Bool
}

// NewFallback combines a Redis primary with a memory secondary.
func NewFallback(primary *Redis, secondary *Memory, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := f.primary.Lookup(ctx, key)
	if err != nil {
		f.markDegraded(err)
		return f.secondary.Get(ctx, key)
	}
	f.markHealthy()
	if data == nil {
		return nil, false
	}
	return data, true
}

func (f *Fallback) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.primary.Set(ctx, key, value, ttl); err != nil {
		f.markDegraded(err)
		return f.secondary.Set(ctx, key, value, ttl)
	}
	f.markHealthy()
	return nil
}

func (f *Fallback) Delete(ctx context.Context, key string) error {
	_ = f.secondary.Delete(ctx, key)
	if err := f.primary.Delete(ctx, key); err != nil {
		f.markDegraded(err)
	}
	return nil
}

// HealthCheck reports Redis reachability. The memory secondary keeps the
// cache usable either way.
func (f *Fallback) HealthCheck(ctx context.Context) bool {
	ok := f.primary.HealthCheck(ctx)
	if ok {
		f.markHealthy()
	}
	return ok
}

// Degraded reports whether the last Redis operation failed.
func (f *Fallback) Degraded() bool {
	return f.degraded.Load()
}

func (f *Fallback) Close() error {
	err := f.primary.Close()
	_ = f.secondary.Close()
	return err
}

func (f *Fallback) markDegraded(err error) {
	if f.degraded.CompareAndSwap(false, true) {
		f.logger.Warn("redis unavailable, serving cache from memory", "error", err)
	}
}

func (f *Fallback) markHealthy() {
	if f.degraded.CompareAndSwap(true, false) {
		f.logger.Info("redis recovered")
	}
}

// New builds the configured cache. Without a Redis address, or when Redis
// does not answer a ping, the memory cache is returned.
func New(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) Cache {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cache")

	mem := NewMemory(DefaultJanitorInterval)
	if cfg.RedisAddr == "" {
		logger.Info("redis not configured, using memory cache")
		return mem
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: connectTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, using memory cache", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return mem
	}

	logger.Info("redis cache connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return NewFallback(NewRedis(client, cfg.KeyPrefix), mem, logger)
}

// Backend names the active backend of c.
func Backend(c Cache) string {
	switch v := c.(type) {
	case *Fallback:
		if v.Degraded() {
			return "redis (degraded, memory)"
		}
		return "redis"
	case *Redis:
		return "redis"
	case *Memory:
		return "memory"
	default:
		return "custom"
	}
}
