package domain

import (
	"context"
	"time"
)

// Cache defines the interface for point-lookup caching.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// Reporting views are never cached; only point lookups (customer rows,
// latest model run) go through here.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Cache key prefixes for the point lookups that are cached.
const (
	CacheKeyCustomer = "customer:"     // + customer ID
	CacheKeyModelRun = "model:latest:" // + model name
)

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
