package counter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*FallbackStore, *time.Time) {
	t.Helper()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fs := NewFallbackStore()
	fs.now = func() time.Time { return current }
	t.Cleanup(func() { fs.Close() })
	return fs, &current
}

func TestFallbackStoreIncrement(t *testing.T) {
	fs, _ := newTestStore(t)
	ctx := context.Background()

	res, err := fs.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Count)
	assert.Equal(t, time.Minute, res.ExpiresIn)

	res, err = fs.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Count)

	// Independent keys count separately.
	res, err = fs.Increment(ctx, "other", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Count)
}

func TestFallbackStoreWindowExpiry(t *testing.T) {
	fs, current := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := fs.Increment(ctx, "k", time.Minute)
		require.NoError(t, err)
	}

	count, ok, err := fs.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), count)

	// Past the window boundary the old count is gone and a fresh window
	// starts with its own TTL.
	*current = current.Add(61 * time.Second)

	_, ok, err = fs.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := fs.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Count)
	assert.Equal(t, time.Minute, res.ExpiresIn)
}

func TestFallbackStoreTTLCountdown(t *testing.T) {
	fs, current := newTestStore(t)
	ctx := context.Background()

	_, err := fs.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)

	*current = current.Add(40 * time.Second)

	res, err := fs.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Count)
	assert.Equal(t, 20*time.Second, res.ExpiresIn, "TTL is armed on first increment only")
}

func TestFallbackStoreSetNX(t *testing.T) {
	fs, current := newTestStore(t)
	ctx := context.Background()

	ok, err := fs.SetNX(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fs.SetNX(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "live entry must not be overwritten")

	*current = current.Add(2 * time.Minute)

	ok, err = fs.SetNX(ctx, "lock", "c", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired entry is free to claim")
}

func TestFallbackStoreEviction(t *testing.T) {
	fs, current := newTestStore(t)
	ctx := context.Background()

	_, err := fs.Increment(ctx, "stale", time.Second)
	require.NoError(t, err)
	_, err = fs.Increment(ctx, "live", time.Hour)
	require.NoError(t, err)

	*current = current.Add(time.Minute)
	fs.evictExpired()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.NotContains(t, fs.entries, "stale")
	assert.Contains(t, fs.entries, "live")
}

func TestFallbackStoreMode(t *testing.T) {
	fs, _ := newTestStore(t)

	assert.True(t, fs.Fallback())
	assert.NoError(t, fs.Ping(context.Background()))

	assert.NoError(t, fs.Close())
	assert.NoError(t, fs.Close(), "Close must be idempotent")
}
