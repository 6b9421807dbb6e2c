package domain

import (
	"context"
	"time"
)

// Cache is a byte-oriented key/value store with per-entry expiry. Get reports
// a miss as nil, nil.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and tunes the detail cache.
type CacheConfig struct {
	Type string `mapstructure:"type"` // "memory" or "redis"

	// LocalMaxSize and LocalTTL bound the in-process LRU layer.
	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// EnableTwoPhase fronts Redis with the local LRU.
	EnableTwoPhase bool `mapstructure:"enable_two_phase"`

	// DetailTTL bounds how long a rendered transaction detail stays cached.
	DetailTTL time.Duration `mapstructure:"detail_ttl"`
}
