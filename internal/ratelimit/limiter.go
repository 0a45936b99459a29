// Package ratelimit implements fixed-window rate limiting over the shared
// counter store, plus the path-prefix policy resolver that decides which
// window applies to a request.
//
// Fixed-window counting is intentionally permissive at window boundaries:
// concurrent requests straddling the boundary may each be admitted up to the
// limit. That trade-off (simplicity over the precision of a sliding window)
// is deliberate and documented, not a bug.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"assetgate/internal/counter"
)

// Window is one fixed-window configuration: at most Limit requests per
// WindowSeconds. Immutable once resolved for a request.
type Window struct {
	Limit         uint
	WindowSeconds uint
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return time.Duration(w.WindowSeconds) * time.Second
}

// Result is the decision for a single check. Produced fresh per call, never
// mutated after return.
type Result struct {
	Allowed    bool
	Limit      uint
	Remaining  uint
	ResetAt    time.Time
	RetryAfter time.Duration // meaningful only when denied
	// FailedOpen marks decisions made without the shared store (fallback
	// mode or a store error). Always allowed.
	FailedOpen bool
}

// ResetEpochMs returns the reset time as epoch milliseconds, the unit used
// in response bodies and X-RateLimit-Reset headers.
func (r Result) ResetEpochMs() uint64 {
	return uint64(r.ResetAt.UnixMilli())
}

// Limiter decides whether a request identified by a counting key may proceed.
type Limiter interface {
	Check(ctx context.Context, identity string, w Window) Result
}

// FixedWindowLimiter counts requests per identity in TTL-keyed windows: the
// counter key's expiry defines the window boundary, armed on the first
// increment. Safe for concurrent use; all state lives in the counter store.
type FixedWindowLimiter struct {
	store counter.Store
}

// NewFixedWindowLimiter creates a limiter over the given counter store. The
// store is injected so tests can substitute an in-memory fake.
func NewFixedWindowLimiter(store counter.Store) *FixedWindowLimiter {
	return &FixedWindowLimiter{store: store}
}

// Check increments the identity's counter and compares it to the window
// limit. In fallback mode, or when the shared store errors, the decision
// fails open: allowed with remaining = limit-1.
func (l *FixedWindowLimiter) Check(ctx context.Context, identity string, w Window) Result {
	if l.store.Fallback() {
		// Count locally anyway so fallback pressure stays observable, but
		// never deny on per-instance numbers.
		_, _ = l.store.Increment(ctx, counterKey(identity), w.Duration())
		return failOpen(w)
	}

	incr, err := l.store.Increment(ctx, counterKey(identity), w.Duration())
	if err != nil {
		slog.Warn("counter store unavailable, failing open",
			"identity", identity,
			"error", err,
		)
		return failOpen(w)
	}

	res := Result{
		Allowed: incr.Count <= uint64(w.Limit),
		Limit:   w.Limit,
		ResetAt: time.Now().Add(incr.ExpiresIn),
	}
	if incr.Count < uint64(w.Limit) {
		res.Remaining = w.Limit - uint(incr.Count)
	}
	if !res.Allowed {
		res.RetryAfter = incr.ExpiresIn
	}
	return res
}

func failOpen(w Window) Result {
	remaining := uint(0)
	if w.Limit > 0 {
		remaining = w.Limit - 1
	}
	return Result{
		Allowed:    true,
		Limit:      w.Limit,
		Remaining:  remaining,
		ResetAt:    time.Now().Add(w.Duration()),
		FailedOpen: true,
	}
}

func counterKey(identity string) string {
	return "ratelimit:" + identity
}
