// Package breaker implements the fault isolation wrapper: a per-upstream
// circuit breaker with a rolling bucketed failure window, bounded call
// timeouts, and explicit outcomes instead of fallback callbacks.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the breaker's position in the closed/open/half-open cycle.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Config tunes one breaker instance.
type Config struct {
	// FailureThreshold is the failure percentage over the rolling window
	// that opens the breaker, once MinVolume calls have been observed.
	FailureThreshold float64
	MinVolume        int
	Window           time.Duration
	Buckets          int
	// ResetInterval is how long an open breaker waits before admitting a
	// half-open probe.
	ResetInterval time.Duration
	// CallTimeout bounds each invocation; exceeding it is a failure.
	CallTimeout time.Duration
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 50,
		MinVolume:        10,
		Window:           10 * time.Second,
		Buckets:          10,
		ResetInterval:    30 * time.Second,
		CallTimeout:      8 * time.Second,
	}
}

// Snapshot is a point-in-time view of the breaker for health reporting and
// service-unavailable errors.
type Snapshot struct {
	Name       string        `json:"name"`
	State      string        `json:"state"`
	Fires      uint64        `json:"fires"`
	Successes  uint64        `json:"successes"`
	Failures   uint64        `json:"failures"`
	Rejects    uint64        `json:"rejects"`
	Timeouts   uint64        `json:"timeouts"`
	Fallbacks  uint64        `json:"fallbacks"`
	MeanMs     float64       `json:"mean_latency_ms"`
	RetryAfter time.Duration `json:"-"`
}

// OutcomeKind classifies what happened to one protected call.
type OutcomeKind int

const (
	// Succeeded: the wrapped operation completed without error.
	Succeeded OutcomeKind = iota
	// Failed: the operation returned an error; Err carries it.
	Failed
	// Rejected: the breaker was open and the operation was never invoked.
	Rejected
	// TimedOut: the operation exceeded the call timeout.
	TimedOut
)

// Outcome is the explicit result of a protected call. Rejected and TimedOut
// carry a breaker snapshot including the retry-after hint; the caller decides
// how to surface it rather than a fallback callback raising on its own.
type Outcome struct {
	Kind     OutcomeKind
	Err      error
	Snapshot Snapshot
}

type bucket struct {
	start     time.Time
	fires     int
	successes int
	failures  int
}

// Breaker guards one upstream service. All calls to that service share the
// instance, so failure statistics aggregate across requests.
type Breaker struct {
	name string
	cfg  Config
	log  zerolog.Logger

	mu       sync.Mutex
	state    State
	openedAt time.Time
	probing  bool
	buckets  []bucket

	// lifetime counters
	fires     uint64
	successes uint64
	failures  uint64
	rejects   uint64
	timeouts  uint64
	fallbacks uint64

	latencies [32]time.Duration
	latencyN  int
}

// New creates a closed breaker named after the upstream it guards.
func New(name string, cfg Config, log zerolog.Logger) *Breaker {
	if cfg.Buckets <= 0 {
		cfg.Buckets = 10
	}
	return &Breaker{
		name:    name,
		cfg:     cfg,
		log:     log.With().Str("breaker", name).Logger(),
		buckets: make([]bucket, 0, cfg.Buckets),
	}
}

// Do runs op under the breaker. The returned Outcome is Rejected without
// invoking op while the breaker is open; TimedOut when op exceeds the call
// timeout; Failed or Succeeded otherwise.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) Outcome {
	if !b.allow() {
		b.mu.Lock()
		b.fires++
		b.rejects++
		b.fallbacks++
		snap := b.snapshotLocked()
		b.mu.Unlock()
		return Outcome{Kind: Rejected, Snapshot: snap}
	}

	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if b.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
	}
	defer cancel()

	start := time.Now()
	err := op(callCtx)
	elapsed := time.Since(start)

	timedOut := callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
	b.record(err == nil && !timedOut, timedOut, elapsed)

	switch {
	case timedOut:
		b.mu.Lock()
		b.fallbacks++
		snap := b.snapshotLocked()
		b.mu.Unlock()
		return Outcome{Kind: TimedOut, Err: err, Snapshot: snap}
	case err != nil:
		return Outcome{Kind: Failed, Err: err}
	default:
		return Outcome{Kind: Succeeded}
	}
}

// State reports the current state, accounting for reset-interval expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.ResetInterval {
		return HalfOpen
	}
	return b.state
}

// Stats returns a snapshot of the lifetime counters.
func (b *Breaker) Stats() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// allow decides whether a call may proceed, transitioning open -> half-open
// after the reset interval. In half-open exactly one probe is admitted.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) < b.cfg.ResetInterval {
			return false
		}
		b.state = HalfOpen
		b.probing = true
		b.log.Info().Msg("breaker half-open, admitting probe")
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

func (b *Breaker) record(success, timedOut bool, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bk := b.currentBucketLocked()
	bk.fires++
	b.fires++
	b.latencies[b.latencyN%len(b.latencies)] = elapsed
	b.latencyN++

	if success {
		bk.successes++
		b.successes++
	} else {
		bk.failures++
		b.failures++
		if timedOut {
			b.timeouts++
		}
	}

	switch b.state {
	case HalfOpen:
		b.probing = false
		if success {
			b.state = Closed
			b.buckets = b.buckets[:0]
			b.log.Info().Msg("probe succeeded, breaker closed")
		} else {
			b.state = Open
			b.openedAt = time.Now()
			b.log.Warn().Msg("probe failed, breaker re-opened")
		}
	case Closed:
		fires, failures := b.windowTotalsLocked()
		if fires >= b.cfg.MinVolume && fires > 0 {
			rate := float64(failures) / float64(fires) * 100
			if rate >= b.cfg.FailureThreshold {
				b.state = Open
				b.openedAt = time.Now()
				b.log.Warn().
					Float64("failure_rate", rate).
					Int("window_calls", fires).
					Msg("failure threshold exceeded, breaker opened")
			}
		}
	}
}

func (b *Breaker) currentBucketLocked() *bucket {
	now := time.Now()
	span := b.cfg.Window / time.Duration(b.cfg.Buckets)
	if span <= 0 {
		span = time.Second
	}

	// Drop buckets that fell out of the window.
	cutoff := now.Add(-b.cfg.Window)
	trimmed := b.buckets[:0]
	for i := range b.buckets {
		if b.buckets[i].start.After(cutoff) {
			trimmed = append(trimmed, b.buckets[i])
		}
	}
	b.buckets = trimmed

	if n := len(b.buckets); n > 0 && now.Sub(b.buckets[n-1].start) < span {
		return &b.buckets[n-1]
	}
	b.buckets = append(b.buckets, bucket{start: now})
	return &b.buckets[len(b.buckets)-1]
}

func (b *Breaker) windowTotalsLocked() (fires, failures int) {
	cutoff := time.Now().Add(-b.cfg.Window)
	for i := range b.buckets {
		if b.buckets[i].start.After(cutoff) {
			fires += b.buckets[i].fires
			failures += b.buckets[i].failures
		}
	}
	return fires, failures
}

func (b *Breaker) snapshotLocked() Snapshot {
	snap := Snapshot{
		Name:      b.name,
		State:     b.state.String(),
		Fires:     b.fires,
		Successes: b.successes,
		Failures:  b.failures,
		Rejects:   b.rejects,
		Timeouts:  b.timeouts,
		Fallbacks: b.fallbacks,
	}
	if b.state == Open {
		remaining := b.cfg.ResetInterval - time.Since(b.openedAt)
		if remaining < time.Second {
			remaining = time.Second
		}
		snap.RetryAfter = remaining
	} else {
		snap.RetryAfter = b.cfg.ResetInterval
	}

	n := b.latencyN
	if n > len(b.latencies) {
		n = len(b.latencies)
	}
	if n > 0 {
		var total time.Duration
		for i := 0; i < n; i++ {
			total += b.latencies[i]
		}
		snap.MeanMs = float64(total.Milliseconds()) / float64(n)
	}
	return snap
}
