package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetScore retrieves a cached score snapshot for a user.
	GetScore(ctx context.Context, tenantID, userID string) (*ScoreCache, error)

	// SetScore caches a score snapshot for a user.
	SetScore(ctx context.Context, tenantID, userID string, snap *ScoreCache, ttl time.Duration) error

	// InvalidateScore drops the cached snapshot after a re-score.
	InvalidateScore(ctx context.Context, tenantID, userID string) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for signal-velocity checks (event count in a time window).
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ScoreCache is the cached score snapshot for a user.
type ScoreCache struct {
	UserID       string         `json:"userId"`
	Score        float64        `json:"score"`
	Tier         RiskTier       `json:"tier"`
	Trend        TrendDirection `json:"trend"`
	ModelVersion string         `json:"modelVersion"`
	ComputedAt   time.Time      `json:"computedAt"`
}

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
