// Package cache provides the multi-tier response cache: a bounded in-process
// tier backed by an optional Redis tier. Distributed-tier failures are
// absorbed and only degrade the hit rate, never the caller.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Tier names reported with every hit.
const (
	TierMemory = "memory"
	TierRedis  = "redis"
)

// Entry is a cached value with its storage timestamp.
type Entry struct {
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"stored_at"`
}

// Hit describes where a cached value came from and how long the lookup took.
type Hit struct {
	Value   json.RawMessage
	Tier    string
	Latency time.Duration
}

// Stats are cumulative counters for cache observability.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Evictions     uint64 `json:"evictions"`
	Sets          uint64 `json:"sets"`
	Invalidations uint64 `json:"invalidations"`
	RedisHits     uint64 `json:"redis_hits"`
	RedisErrors   uint64 `json:"redis_errors"`
	LocalEntries  int    `json:"local_entries"`
}

// Cache is the contract the orchestrator and reconciliation engine consume.
type Cache interface {
	// Get returns a hit and true, or a zero Hit and false on a miss at every
	// tier. A miss leaves population to the caller.
	Get(ctx context.Context, key string) (Hit, bool)

	// Set stores value in all configured tiers. A zero ttl uses each tier's
	// configured default. Writes are best-effort.
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration)

	// Invalidate removes key from all tiers.
	Invalidate(ctx context.Context, key string)

	// Clear drops every entry from the local tier.
	Clear(ctx context.Context)

	Stats() Stats
}
