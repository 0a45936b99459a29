package counter

import (
	"context"
	"sync"
	"time"
)

// FallbackStore is the in-process Store used when no shared counter service
// is configured. Counters are local to one process, so in a multi-instance
// deployment quotas degrade to per-instance accounting; consumers see
// Fallback() == true and fail open on decisions. This is an accepted,
// documented limitation of running without the shared store, not a bug.
//
// A background goroutine evicts expired windows so abandoned identities do
// not accumulate.
type FallbackStore struct {
	mu      sync.Mutex
	entries map[string]*fallbackEntry
	done    chan struct{}
	closed  bool

	now func() time.Time // overridable in tests
}

type fallbackEntry struct {
	count     uint64
	value     string // for SetNX entries
	expiresAt time.Time
}

const fallbackCleanupInterval = time.Minute

// NewFallbackStore creates the in-process store and starts its eviction
// goroutine.
func NewFallbackStore() *FallbackStore {
	fs := &FallbackStore{
		entries: make(map[string]*fallbackEntry),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go fs.cleanup()
	return fs
}

// Increment bumps the counter for key, starting a fresh window when the
// previous one has expired. Never fails.
func (fs *FallbackStore) Increment(_ context.Context, key string, ttl time.Duration) (IncrResult, error) {
	now := fs.now()

	fs.mu.Lock()
	defer fs.mu.Unlock()

	e := fs.entries[key]
	if e == nil || !e.expiresAt.After(now) {
		e = &fallbackEntry{expiresAt: now.Add(ttl)}
		fs.entries[key] = e
	}
	e.count++

	return IncrResult{Count: e.count, ExpiresIn: e.expiresAt.Sub(now)}, nil
}

// Get returns the live count for key, if any.
func (fs *FallbackStore) Get(_ context.Context, key string) (uint64, bool, error) {
	now := fs.now()

	fs.mu.Lock()
	defer fs.mu.Unlock()

	e := fs.entries[key]
	if e == nil || !e.expiresAt.After(now) {
		return 0, false, nil
	}
	return e.count, true, nil
}

// SetNX stores value under key only when no live entry exists.
func (fs *FallbackStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := fs.now()

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if e := fs.entries[key]; e != nil && e.expiresAt.After(now) {
		return false, nil
	}
	fs.entries[key] = &fallbackEntry{value: value, expiresAt: now.Add(ttl)}
	return true, nil
}

// Ping always succeeds; there is nothing remote to reach.
func (fs *FallbackStore) Ping(context.Context) error { return nil }

// Fallback reports true; decisions built on this store must fail open.
func (fs *FallbackStore) Fallback() bool { return true }

// Close stops the eviction goroutine. Safe to call more than once.
func (fs *FallbackStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.closed {
		fs.closed = true
		close(fs.done)
	}
	return nil
}

func (fs *FallbackStore) cleanup() {
	ticker := time.NewTicker(fallbackCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-fs.done:
			return
		case <-ticker.C:
			fs.evictExpired()
		}
	}
}

func (fs *FallbackStore) evictExpired() {
	now := fs.now()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for key, e := range fs.entries {
		if !e.expiresAt.After(now) {
			delete(fs.entries, key)
		}
	}
}
