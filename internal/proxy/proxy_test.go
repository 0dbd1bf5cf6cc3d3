package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/docufort/ragproxy/cache"
	"github.com/docufort/ragproxy/internal/breaker"
	"github.com/docufort/ragproxy/internal/upstream"
)

func testBreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: 50,
		MinVolume:        3,
		Window:           time.Second,
		Buckets:          4,
		ResetInterval:    time.Minute,
		CallTimeout:      2 * time.Second,
	}
}

func newOrchestrator(t *testing.T, queryURL string) *Orchestrator {
	t.Helper()
	client, err := upstream.New(UpstreamQuery, queryURL, "ragproxy-test")
	require.NoError(t, err)

	reg := NewRegistry()
	reg.Register(&Upstream{
		Name:    UpstreamQuery,
		Client:  client,
		Breaker: breaker.New(UpstreamQuery, testBreakerConfig(), zerolog.Nop()),
	})

	c := cache.New(cache.NewLocal(32, time.Minute), nil, zerolog.Nop())
	return New(c, reg, zerolog.Nop())
}

func TestSearchMissThenHit(t *testing.T) {
	var calls int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "ragproxy-test", r.Header.Get(upstream.ServiceHeader))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"results": []string{"doc1"},
		})
	}))
	defer ts.Close()

	o := newOrchestrator(t, ts.URL)
	ctx := context.Background()

	first, err := o.Search(ctx, "  Hello World  ", QueryOptions{})
	require.NoError(t, err)
	require.Equal(t, false, first["_cacheHit"])
	require.Equal(t, int64(1), atomic.LoadInt64(&calls))

	// Any case/whitespace variant of the same query hits the cache and
	// issues no upstream call.
	second, err := o.Search(ctx, "hello world", QueryOptions{})
	require.NoError(t, err)
	require.Equal(t, true, second["_cacheHit"])
	require.Equal(t, cache.TierMemory, second["_cacheTier"])
	require.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestSearchValidation(t *testing.T) {
	o := newOrchestrator(t, "http://localhost:1")

	_, err := o.Search(context.Background(), "   ", QueryOptions{})
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestSearchUpstreamFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index corrupted", http.StatusInternalServerError)
	}))
	defer ts.Close()

	o := newOrchestrator(t, ts.URL)

	_, err := o.Search(context.Background(), "query one", QueryOptions{})
	var extErr *ExternalError
	require.ErrorAs(t, err, &extErr)
	require.Equal(t, http.StatusInternalServerError, extErr.StatusCode)
	require.Equal(t, UpstreamQuery, extErr.Service)
}

func TestSearchBreakerOpens(t *testing.T) {
	var calls int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer ts.Close()

	o := newOrchestrator(t, ts.URL)
	ctx := context.Background()

	// Distinct queries so the cache never short-circuits the upstream.
	for i, q := range []string{"a", "b", "c"} {
		_, err := o.Search(ctx, q+" query", QueryOptions{})
		var extErr *ExternalError
		require.ErrorAs(t, err, &extErr, "call %d", i)
	}

	_, err := o.Search(ctx, "d query", QueryOptions{})
	var unavail *UnavailableError
	require.ErrorAs(t, err, &unavail)
	require.Equal(t, "circuit_open", unavail.Reason)
	require.Greater(t, unavail.RetryAfter, time.Duration(0))
	// The rejected call never reached the upstream.
	require.Equal(t, int64(3), atomic.LoadInt64(&calls))
}

func TestQueryWithAnswerCachesSeparatelyFromSearch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "results": []string{}})
		case "/query":
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "answer": "42", "confidence": 0.9})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	o := newOrchestrator(t, ts.URL)
	ctx := context.Background()

	_, err := o.Search(ctx, "same question", QueryOptions{})
	require.NoError(t, err)

	res, err := o.QueryWithAnswer(ctx, "same question", QueryOptions{})
	require.NoError(t, err)
	require.Equal(t, false, res["_cacheHit"], "answer query must not reuse the search cache entry")
	require.Equal(t, "42", res["answer"])
}

func TestGPUPolicy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gpu/policy", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"scheduler": "fifo", "max_batch": 8})
	}))
	defer ts.Close()

	o := newOrchestrator(t, ts.URL)

	res, err := o.GPUPolicy(context.Background())
	require.NoError(t, err)
	require.Equal(t, true, res["success"])
	policy, ok := res["policy"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "fifo", policy["scheduler"])
}

func TestCheckHealthBypassesOpenBreaker(t *testing.T) {
	var healthCalls int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			atomic.AddInt64(&healthCalls, 1)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
			return
		}
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer ts.Close()

	o := newOrchestrator(t, ts.URL)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		_, _ = o.Search(ctx, q+" query", QueryOptions{})
	}
	up, err := o.upstreams.Get(UpstreamQuery)
	require.NoError(t, err)
	require.Equal(t, breaker.Open, up.Breaker.State())

	h := o.CheckHealth(ctx)
	require.True(t, h.OK, "health probe must not be blocked by the open breaker")
	require.Equal(t, int64(1), atomic.LoadInt64(&healthCalls))
	require.Equal(t, "open", h.CircuitBreakers[UpstreamQuery].State)
}

func TestRegistryUnknownUpstream(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("nope")
	require.Error(t, err)
}
