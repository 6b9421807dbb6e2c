package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New builds the cache named by cfg.Type. A redis cache is fronted by a local
// LRU when two-phase caching is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewLayeredCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

const defaultLocalTTL = 5 * time.Minute

// LayeredCache reads through a process-local LRU into a shared backing cache.
// Local entries live no longer than localTTL so other replicas' evictions
// become visible within that window.
type LayeredCache struct {
	local    *LRUCache
	shared   domain.Cache
	localTTL time.Duration
}

// NewLayeredCache connects to Redis and fronts it with an LRU.
func NewLayeredCache(cfg domain.CacheConfig) (*LayeredCache, error) {
	shared, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("shared cache: %w", err)
	}
	return newLayered(NewLRUCache(cfg.LocalMaxSize), shared, cfg.LocalTTL), nil
}

func newLayered(local *LRUCache, shared domain.Cache, localTTL time.Duration) *LayeredCache {
	if localTTL <= 0 {
		localTTL = defaultLocalTTL
	}
	return &LayeredCache{local: local, shared: shared, localTTL: localTTL}
}

func (c *LayeredCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.shared.Get(ctx, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = c.local.Set(ctx, key, val, c.localTTL)
	return val, nil
}

func (c *LayeredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	localTTL := c.localTTL
	if ttl > 0 && ttl < localTTL {
		localTTL = ttl
	}
	if err := c.local.Set(ctx, key, value, localTTL); err != nil {
		return err
	}
	return c.shared.Set(ctx, key, value, ttl)
}

func (c *LayeredCache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return c.shared.Delete(ctx, key)
}

// Ping reports the shared layer's health; the local layer cannot fail.
func (c *LayeredCache) Ping(ctx context.Context) error {
	if err := c.shared.Ping(ctx); err != nil {
		return fmt.Errorf("shared cache: %w", err)
	}
	return nil
}

func (c *LayeredCache) Close() error {
	return errors.Join(c.local.Close(), c.shared.Close())
}

// Stats reports the local layer's size and capacity.
func (c *LayeredCache) Stats() (size, capacity int) {
	return c.local.Stats()
}
