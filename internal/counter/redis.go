package counter

import (
	"context"
	"fmt"
	"time"

	"assetgate/internal/models"

	"github.com/redis/go-redis/v9"
)

// incrScript increments a key, arms its TTL on the first increment of the
// window, and returns both the count and the remaining lifetime in one
// round trip. Atomicity comes from Redis executing the script serially.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// RedisStore implements Store against a shared Redis-compatible service.
// Increments are atomic server-side, so concurrent instances never
// under-count for the same identity.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisStore connects using the two opaque connection parameters from
// configuration (URL + token). All operations carry bounded timeouts; the
// constructor does not require the service to be up.
func NewRedisStore(cfg models.CounterStoreConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse counter store url: %w", err)
	}
	if cfg.Token != "" {
		opts.Password = cfg.Token
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	opts.DialTimeout = timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout

	return &RedisStore{
		client:  redis.NewClient(opts),
		timeout: timeout,
	}, nil
}

func (rs *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, rs.timeout)
}

// Increment atomically increments key and returns count plus remaining TTL.
func (rs *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (IncrResult, error) {
	ctx, cancel := rs.withTimeout(ctx)
	defer cancel()

	raw, err := incrScript.Run(ctx, rs.client, []string{key}, ttl.Milliseconds()).Result()
	if err != nil {
		return IncrResult{}, fmt.Errorf("%w: increment %s: %v", ErrUnavailable, key, err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 2 {
		return IncrResult{}, fmt.Errorf("%w: unexpected increment reply %T", ErrUnavailable, raw)
	}
	count, _ := vals[0].(int64)
	pttl, _ := vals[1].(int64)

	res := IncrResult{Count: uint64(count)}
	if pttl > 0 {
		res.ExpiresIn = time.Duration(pttl) * time.Millisecond
	} else {
		res.ExpiresIn = ttl
	}
	return res, nil
}

// Get returns the current value of key.
func (rs *RedisStore) Get(ctx context.Context, key string) (uint64, bool, error) {
	ctx, cancel := rs.withTimeout(ctx)
	defer cancel()

	val, err := rs.client.Get(ctx, key).Uint64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return val, true, nil
}

// SetNX sets key only if it does not exist, with a TTL.
func (rs *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := rs.withTimeout(ctx)
	defer cancel()

	ok, err := rs.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrUnavailable, key, err)
	}
	return ok, nil
}

// Ping reports whether the service is reachable.
func (rs *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := rs.withTimeout(ctx)
	defer cancel()

	if err := rs.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return nil
}

// Fallback always reports false for the remote store.
func (rs *RedisStore) Fallback() bool { return false }

// Close releases the underlying connection pool.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
