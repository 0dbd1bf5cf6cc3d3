package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisTier is the optional distributed tier. Every error here is logged and
// reported as a miss; the tier must never fail or block a caller. Expirations
// are stored with seconds granularity on the wire (SET EX), unlike the local
// tier's in-process millisecond clock.
type RedisTier struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger

	hits   uint64
	errors uint64
}

// NewRedisTier wraps an existing Redis client as the distributed tier.
func NewRedisTier(client *redis.Client, ttl time.Duration, log zerolog.Logger) *RedisTier {
	return &RedisTier{client: client, ttl: ttl, log: log}
}

// Get returns the cached entry, or false on miss or any Redis failure.
func (r *RedisTier) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			atomic.AddUint64(&r.errors, 1)
			r.log.Warn().Err(err).Str("key", key).Msg("redis get failed, degrading to local-only")
		}
		return nil, false
	}
	var ent Entry
	if err := json.Unmarshal(data, &ent); err != nil {
		atomic.AddUint64(&r.errors, 1)
		r.log.Warn().Err(err).Str("key", key).Msg("redis entry corrupt, treating as miss")
		return nil, false
	}
	atomic.AddUint64(&r.hits, 1)
	return ent.Value, true
}

// Set stores the entry best-effort. ttl zero uses the tier default.
func (r *RedisTier) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	data, err := json.Marshal(Entry{Value: value, StoredAt: time.Now()})
	if err != nil {
		atomic.AddUint64(&r.errors, 1)
		return
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		atomic.AddUint64(&r.errors, 1)
		r.log.Warn().Err(err).Str("key", key).Msg("redis set failed, entry kept local-only")
	}
}

// Invalidate deletes key best-effort.
func (r *RedisTier) Invalidate(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		atomic.AddUint64(&r.errors, 1)
		r.log.Warn().Err(err).Str("key", key).Msg("redis delete failed")
	}
}

// Ping reports distributed-tier connectivity for health checks.
func (r *RedisTier) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisTier) counters() (hits, errs uint64) {
	return atomic.LoadUint64(&r.hits), atomic.LoadUint64(&r.errors)
}
