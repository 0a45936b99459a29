// Package counter abstracts the shared atomic counter/lock service that
// rate-limit state lives in. Two implementations exist: RedisStore talks to
// the shared service, FallbackStore keeps per-process counters for
// deployments where the service is not configured. The choice is made once
// at startup; callers only see the Store interface.
//
// Failure semantics: when the backing service is unreachable, operations
// return ErrUnavailable and callers are expected to fail open (treat the
// request as allowed). Availability is prioritized over strict quota
// enforcement when the shared store is down.
package counter

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing counter service could not be reached.
// Callers must not fail requests because of it.
var ErrUnavailable = errors.New("counter store unavailable")

// IncrResult is the outcome of one atomic increment.
type IncrResult struct {
	// Count is the post-increment value within the current window.
	Count uint64
	// ExpiresIn is the remaining lifetime of the key. The window boundary is
	// defined by the key's expiry: the TTL is set only on the first increment.
	ExpiresIn time.Duration
}

// Store is the counter/lock contract. Implementations must be safe for
// concurrent use and must bound every operation by the supplied context.
type Store interface {
	// Increment atomically increments key, setting its TTL to ttl if this is
	// the first increment of the window, and returns the new count together
	// with the key's remaining lifetime.
	Increment(ctx context.Context, key string, ttl time.Duration) (IncrResult, error)

	// Get returns the current value of key, reporting absence via ok=false.
	Get(ctx context.Context, key string) (value uint64, ok bool, err error)

	// SetNX sets key to value with a TTL only if the key does not exist.
	// Used for short-lived locks.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Ping reports whether the backing service is reachable.
	Ping(ctx context.Context) error

	// Fallback reports whether this store is the in-process fallback.
	// Rate-limit decisions fail open when it is.
	Fallback() bool

	// Close releases resources and stops background goroutines.
	Close() error
}
