package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestRedisTier(t *testing.T, ttl time.Duration) (*RedisTier, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return NewRedisTier(client, ttl, zerolog.Nop()), srv
}

func TestRedisTierRoundTrip(t *testing.T) {
	r, srv := newTestRedisTier(t, 10*time.Minute)
	ctx := context.Background()

	r.Set(ctx, "k", json.RawMessage(`{"ok":true}`), 0)

	v, ok := r.Get(ctx, "k")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(v) != `{"ok":true}` {
		t.Errorf("value = %s", v)
	}
	// Zero ttl stores the tier default expiration on the wire.
	if got := srv.TTL("k"); got != 10*time.Minute {
		t.Errorf("ttl = %s, want 10m", got)
	}
}

func TestRedisTierPerCallTTL(t *testing.T) {
	r, srv := newTestRedisTier(t, 10*time.Minute)
	r.Set(context.Background(), "k", json.RawMessage(`1`), 2*time.Minute)

	if got := srv.TTL("k"); got != 2*time.Minute {
		t.Errorf("ttl = %s, want 2m", got)
	}
}

func TestRedisTierExpiry(t *testing.T) {
	r, srv := newTestRedisTier(t, time.Minute)
	ctx := context.Background()

	r.Set(ctx, "k", json.RawMessage(`1`), 0)
	srv.FastForward(time.Minute + time.Second)

	if _, ok := r.Get(ctx, "k"); ok {
		t.Error("expired entry should miss")
	}
}

func TestRedisTierCorruptEntry(t *testing.T) {
	r, srv := newTestRedisTier(t, time.Minute)
	if err := srv.Set("k", "not json"); err != nil {
		t.Fatal(err)
	}

	if _, ok := r.Get(context.Background(), "k"); ok {
		t.Error("corrupt entry should read as a miss")
	}
	if _, errs := r.counters(); errs != 1 {
		t.Errorf("errors = %d, want 1", errs)
	}
}

func TestRedisTierAbsorbsFailures(t *testing.T) {
	r, srv := newTestRedisTier(t, time.Minute)
	ctx := context.Background()
	srv.Close()

	// Every operation degrades to a miss instead of surfacing the error.
	if _, ok := r.Get(ctx, "k"); ok {
		t.Error("get against a dead server should miss")
	}
	r.Set(ctx, "k", json.RawMessage(`1`), 0)
	r.Invalidate(ctx, "k")

	if _, errs := r.counters(); errs < 3 {
		t.Errorf("errors = %d, want one per failed operation", errs)
	}
	if err := r.Ping(ctx); err == nil {
		t.Error("ping against a dead server should fail")
	}
}
