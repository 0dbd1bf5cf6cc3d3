// Package proxy is the orchestrator: it validates input, consults the
// multi-tier cache, and on a miss issues an authenticated, breaker-protected
// call to the right upstream before writing the result back.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/docufort/ragproxy/cache"
	"github.com/docufort/ragproxy/internal/breaker"
	"github.com/docufort/ragproxy/internal/upstream"
)

// Orchestrator fronts the retrieval engines with caching and fault isolation.
type Orchestrator struct {
	cache     cache.Cache
	upstreams *Registry
	log       zerolog.Logger
}

// New creates an orchestrator over the given cache and upstream registry.
func New(c cache.Cache, reg *Registry, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{cache: c, upstreams: reg, log: log}
}

// QueryOptions are the caller-supplied knobs for Search and QueryWithAnswer.
// Pointer fields distinguish "absent" from zero.
type QueryOptions struct {
	MaxResults     *float64
	Collection     string
	ScoreThreshold *float64
}

// Search serves a cached or fresh search against the query engine.
func (o *Orchestrator) Search(ctx context.Context, rawQuery string, opts QueryOptions) (map[string]any, error) {
	query, err := ValidateQuery(rawQuery)
	if err != nil {
		return nil, err
	}
	maxResults := NormalizeMaxResults(opts.MaxResults)
	threshold := NormalizeScoreThreshold(opts.ScoreThreshold)

	return o.cachedCall(ctx, query, maxResults, opts.Collection, UpstreamQuery,
		func(ctx context.Context, c *upstream.Client) (json.RawMessage, error) {
			return c.Search(ctx, query, maxResults, opts.Collection, threshold)
		})
}

// QueryWithAnswer serves a cached or fresh answer-with-sources query.
func (o *Orchestrator) QueryWithAnswer(ctx context.Context, rawQuery string, opts QueryOptions) (map[string]any, error) {
	query, err := ValidateQuery(rawQuery)
	if err != nil {
		return nil, err
	}
	maxResults := NormalizeMaxResults(opts.MaxResults)
	threshold := NormalizeScoreThreshold(opts.ScoreThreshold)

	return o.cachedCall(ctx, "answer:"+query, maxResults, opts.Collection, UpstreamQuery,
		func(ctx context.Context, c *upstream.Client) (json.RawMessage, error) {
			return c.Query(ctx, upstream.QueryRequest{
				Query:          query,
				MaxResults:     maxResults,
				Collection:     opts.Collection,
				ScoreThreshold: threshold,
			})
		})
}

// QueryCollections passes a query through to the collections engine. No
// caching: the collections engine maintains its own, and responses there are
// already cheap.
func (o *Orchestrator) QueryCollections(ctx context.Context, rawQuery string, opts QueryOptions) (map[string]any, error) {
	query, err := ValidateQuery(rawQuery)
	if err != nil {
		return nil, err
	}
	maxResults := NormalizeMaxResults(opts.MaxResults)
	threshold := NormalizeScoreThreshold(opts.ScoreThreshold)

	raw, err := o.protectedCall(ctx, UpstreamCollections,
		func(ctx context.Context, c *upstream.Client) (json.RawMessage, error) {
			return c.Query(ctx, upstream.QueryRequest{
				Query:          query,
				MaxResults:     maxResults,
				Collection:     opts.Collection,
				ScoreThreshold: threshold,
			})
		})
	if err != nil {
		return nil, err
	}
	return decodePayload(raw)
}

// GPUPolicy fetches the query engine's GPU scheduling policy.
func (o *Orchestrator) GPUPolicy(ctx context.Context) (map[string]any, error) {
	raw, err := o.protectedCall(ctx, UpstreamQuery,
		func(ctx context.Context, c *upstream.Client) (json.RawMessage, error) {
			return c.GPUPolicy(ctx)
		})
	if err != nil {
		return nil, err
	}
	policy, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "policy": policy}, nil
}

// Health is the orchestrator's view of its own components and upstreams.
type Health struct {
	OK              bool                        `json:"ok"`
	Status          string                      `json:"status"`
	Message         string                      `json:"message,omitempty"`
	Upstreams       map[string]string           `json:"upstreams"`
	CircuitBreakers map[string]breaker.Snapshot `json:"circuit_breakers"`
	Cache           cache.Stats                 `json:"cache"`
}

// CheckHealth probes every upstream directly. The probes deliberately bypass
// the breakers: a health check must neither trip a breaker nor be blocked by
// one, but the report still includes each breaker's current state.
func (o *Orchestrator) CheckHealth(ctx context.Context) Health {
	h := Health{
		OK:              true,
		Status:          "healthy",
		Upstreams:       make(map[string]string),
		CircuitBreakers: make(map[string]breaker.Snapshot),
		Cache:           o.cache.Stats(),
	}
	for _, up := range o.upstreams.All() {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := up.Client.Health(probeCtx)
		cancel()
		if err != nil {
			h.Upstreams[up.Name] = "unreachable"
			h.OK = false
			h.Status = "degraded"
			h.Message = up.Name + " health probe failed"
		} else {
			h.Upstreams[up.Name] = "healthy"
		}
		h.CircuitBreakers[up.Name] = up.Breaker.Stats()
	}
	return h
}

// BreakerSnapshots returns the current breaker state per upstream.
func (o *Orchestrator) BreakerSnapshots() map[string]breaker.Snapshot {
	out := make(map[string]breaker.Snapshot)
	for _, up := range o.upstreams.All() {
		out[up.Name] = up.Breaker.Stats()
	}
	return out
}

// CacheStats exposes cache counters for the health surface.
func (o *Orchestrator) CacheStats() cache.Stats {
	return o.cache.Stats()
}

// cachedCall is the shared miss path for Search and QueryWithAnswer: cache
// lookup, breaker-protected upstream call, best-effort cache write.
func (o *Orchestrator) cachedCall(ctx context.Context, keyQuery string, maxResults int, collection, upstreamName string,
	call func(context.Context, *upstream.Client) (json.RawMessage, error)) (map[string]any, error) {

	key := cache.GenerateKey(keyQuery, maxResults, collection)

	if hit, ok := o.cache.Get(ctx, key); ok {
		payload, err := decodePayload(hit.Value)
		if err == nil {
			payload["_cacheHit"] = true
			payload["_cacheSource"] = "proxy"
			payload["_cacheTier"] = hit.Tier
			payload["_cacheLatency"] = hit.Latency.Milliseconds()
			return payload, nil
		}
		// Corrupt entry: drop it and fall through to the origin.
		o.cache.Invalidate(ctx, key)
		o.log.Warn().Err(err).Str("key", key).Msg("corrupt cache entry dropped")
	}

	raw, err := o.protectedCall(ctx, upstreamName, call)
	if err != nil {
		return nil, err
	}

	// Cache write failures must never surface; the tiers log internally.
	o.cache.Set(ctx, key, raw, 0)

	payload, err := decodePayload(raw)
	if err != nil {
		return nil, &ExternalError{Service: upstreamName, Message: "invalid JSON response: " + err.Error()}
	}
	payload["_cacheHit"] = false
	return payload, nil
}

// protectedCall routes one call through the named upstream's breaker and
// maps the outcome into the error taxonomy.
func (o *Orchestrator) protectedCall(ctx context.Context, name string,
	call func(context.Context, *upstream.Client) (json.RawMessage, error)) (json.RawMessage, error) {

	up, err := o.upstreams.Get(name)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	out := up.Breaker.Do(ctx, func(callCtx context.Context) error {
		var callErr error
		raw, callErr = call(callCtx, up.Client)
		return callErr
	})

	switch out.Kind {
	case breaker.Succeeded:
		return raw, nil
	case breaker.Failed:
		var statusErr *upstream.StatusError
		if errors.As(out.Err, &statusErr) {
			return nil, &ExternalError{Service: name, StatusCode: statusErr.StatusCode, Message: statusErr.Body}
		}
		return nil, &ExternalError{Service: name, Message: out.Err.Error()}
	default:
		return nil, fromOutcome(name, out)
	}
}

func decodePayload(raw json.RawMessage) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
