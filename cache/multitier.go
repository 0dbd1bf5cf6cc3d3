package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// MultiTier composes the local tier with an optional Redis tier. A Redis hit
// is promoted back into the local tier before returning so repeated lookups
// stay in-process.
type MultiTier struct {
	local *Local
	redis *RedisTier // nil when the distributed tier is not configured
	log   zerolog.Logger

	sets          uint64
	invalidations uint64
}

// New builds a multi-tier cache. redis may be nil for local-only operation.
func New(local *Local, redis *RedisTier, log zerolog.Logger) *MultiTier {
	return &MultiTier{local: local, redis: redis, log: log}
}

// Get checks the local tier first, then Redis. A miss at both tiers returns
// false; the caller populates the cache after hitting the origin.
func (c *MultiTier) Get(ctx context.Context, key string) (Hit, bool) {
	start := time.Now()

	if value, ok := c.local.Get(key); ok {
		return Hit{Value: value, Tier: TierMemory, Latency: time.Since(start)}, true
	}
	if c.redis != nil {
		if value, ok := c.redis.Get(ctx, key); ok {
			// Promote so the next lookup never leaves the process.
			c.local.Set(key, value)
			return Hit{Value: value, Tier: TierRedis, Latency: time.Since(start)}, true
		}
	}
	return Hit{}, false
}

// Set writes value into every configured tier; a non-zero ttl overrides both
// tier defaults for this entry. The Redis write is best-effort; its failure
// is already logged inside the tier.
func (c *MultiTier) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) {
	atomic.AddUint64(&c.sets, 1)
	c.local.SetWithTTL(key, value, ttl)
	if c.redis != nil {
		c.redis.Set(ctx, key, value, ttl)
	}
}

// Invalidate removes key from all tiers.
func (c *MultiTier) Invalidate(ctx context.Context, key string) {
	atomic.AddUint64(&c.invalidations, 1)
	c.local.Invalidate(key)
	if c.redis != nil {
		c.redis.Invalidate(ctx, key)
	}
}

// Clear drops the local tier. Redis entries are left to expire by TTL.
func (c *MultiTier) Clear(ctx context.Context) {
	c.local.Clear()
}

// Stats returns a snapshot of the cumulative counters.
func (c *MultiTier) Stats() Stats {
	hits, misses, evictions := c.local.counters()
	s := Stats{
		Hits:          hits,
		Misses:        misses,
		Evictions:     evictions,
		Sets:          atomic.LoadUint64(&c.sets),
		Invalidations: atomic.LoadUint64(&c.invalidations),
		LocalEntries:  c.local.Len(),
	}
	if c.redis != nil {
		s.RedisHits, s.RedisErrors = c.redis.counters()
	}
	return s
}

// Healthy reports distributed-tier reachability; a local-only cache is
// always healthy.
func (c *MultiTier) Healthy(ctx context.Context) bool {
	if c.redis == nil {
		return true
	}
	return c.redis.Ping(ctx) == nil
}
