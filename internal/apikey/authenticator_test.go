package apikey

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"assetgate/internal/models"
	"assetgate/internal/ratelimit"
	"assetgate/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLimiter returns a canned decision for every check.
type stubLimiter struct {
	result  ratelimit.Result
	lastKey string
	calls   int
}

func (s *stubLimiter) Check(_ context.Context, identity string, _ ratelimit.Window) ratelimit.Result {
	s.lastKey = identity
	s.calls++
	return s.result
}

func seedKey(t *testing.T, store storage.Storage, mutate func(*models.APIKey)) (string, *models.APIKey) {
	t.Helper()
	raw, err := models.GenerateAPIKey()
	require.NoError(t, err)

	key := models.NewAPIKey(models.NewKeyID(), "tenant-1", "user-1", "test key",
		raw, []string{"assets:read"}, map[string][]string{"assets": {"read"}})
	if mutate != nil {
		mutate(key)
	}
	require.NoError(t, store.CreateAPIKey(context.Background(), key))
	return raw, key
}

func authRequest(raw string) *http.Request {
	req := httptest.NewRequest("GET", "/api/v1/assets", nil)
	if raw != "" {
		req.Header.Set("Authorization", "Bearer "+raw)
	}
	return req
}

func TestAuthenticateMissingKey(t *testing.T) {
	a := NewAuthenticator(storage.NewMemoryStorage(), nil, nil)

	res := a.Authenticate(authRequest(""), Options{})
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, "API key required", res.Message)
}

func TestAuthenticateUnknownKey(t *testing.T) {
	a := NewAuthenticator(storage.NewMemoryStorage(), nil, nil)

	res := a.Authenticate(authRequest("ak_does-not-exist"), Options{})
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, "Invalid API key", res.Message)
}

func TestAuthenticateRevokedKey(t *testing.T) {
	store := storage.NewMemoryStorage()
	raw, _ := seedKey(t, store, func(k *models.APIKey) {
		now := time.Now()
		k.RevokedAt = &now
		k.RevokedReason = "compromised"
	})
	a := NewAuthenticator(store, nil, nil)

	res := a.Authenticate(authRequest(raw), Options{})
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	// Same message as an unknown key so revocation state cannot be probed.
	assert.Equal(t, "Invalid API key", res.Message)
}

func TestAuthenticateExpiredKey(t *testing.T) {
	store := storage.NewMemoryStorage()
	raw, _ := seedKey(t, store, func(k *models.APIKey) {
		past := time.Now().Add(-time.Minute)
		k.ExpiresAt = &past
	})
	a := NewAuthenticator(store, nil, nil)

	res := a.Authenticate(authRequest(raw), Options{})
	assert.False(t, res.OK)
	assert.Equal(t, "Invalid API key", res.Message)
}

func TestAuthenticateIPAllowlist(t *testing.T) {
	store := storage.NewMemoryStorage()
	raw, _ := seedKey(t, store, func(k *models.APIKey) {
		k.AllowedIPs = []string{"10.0.0.0/8"}
	})
	a := NewAuthenticator(store, nil, nil)

	req := authRequest(raw)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	res := a.Authenticate(req, Options{})
	assert.False(t, res.OK)
	assert.Equal(t, "Invalid API key", res.Message)

	req = authRequest(raw)
	req.Header.Set("X-Forwarded-For", "10.1.2.3, 203.0.113.9")
	res = a.Authenticate(req, Options{})
	assert.True(t, res.OK)
}

func TestAuthenticatePerKeyRateLimit(t *testing.T) {
	store := storage.NewMemoryStorage()
	raw, key := seedKey(t, store, func(k *models.APIKey) {
		k.RateLimit = 100
		k.RateLimitSecs = 60
	})
	limiter := &stubLimiter{result: ratelimit.Result{
		Allowed:    false,
		Limit:      100,
		RetryAfter: 30 * time.Second,
	}}
	a := NewAuthenticator(store, limiter, nil)

	res := a.Authenticate(authRequest(raw), Options{})
	assert.False(t, res.OK)
	assert.True(t, res.RateLimitExceeded)
	assert.Equal(t, http.StatusTooManyRequests, res.Status)
	require.NotNil(t, res.RateLimit)
	assert.Equal(t, uint(100), res.RateLimit.Limit)
	assert.Equal(t, "apikey:"+key.ID, limiter.lastKey)
}

func TestAuthenticateSkipsLimiterWithoutOverride(t *testing.T) {
	store := storage.NewMemoryStorage()
	raw, _ := seedKey(t, store, nil) // no per-key limit configured
	limiter := &stubLimiter{result: ratelimit.Result{Allowed: false}}
	a := NewAuthenticator(store, limiter, nil)

	res := a.Authenticate(authRequest(raw), Options{})
	assert.True(t, res.OK)
	assert.Zero(t, limiter.calls)
}

func TestAuthenticateScopeAndPermission(t *testing.T) {
	store := storage.NewMemoryStorage()
	raw, _ := seedKey(t, store, nil)
	a := NewAuthenticator(store, nil, nil)

	res := a.Authenticate(authRequest(raw), Options{Scopes: []string{"keys:manage"}})
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, "Insufficient permissions", res.Message)

	res = a.Authenticate(authRequest(raw), Options{Permission: "assets:write"})
	assert.False(t, res.OK)

	res = a.Authenticate(authRequest(raw), Options{Scopes: []string{"assets:read"}, Permission: "assets:read"})
	assert.True(t, res.OK)
}

func TestAuthenticateSuccess(t *testing.T) {
	store := storage.NewMemoryStorage()
	raw, key := seedKey(t, store, nil)
	a := NewAuthenticator(store, nil, nil)

	req := authRequest(raw)
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	res := a.Authenticate(req, Options{})

	require.True(t, res.OK)
	require.NotNil(t, res.Context)
	assert.Equal(t, "tenant-1", res.Context.TenantID)
	assert.Equal(t, "user-1", res.Context.UserID)
	assert.Equal(t, key.ID, res.Context.APIKey.ID)

	// Usage recording is asynchronous and best-effort.
	assert.Eventually(t, func() bool {
		return len(store.UsageRecords()) == 1
	}, time.Second, 10*time.Millisecond)

	usage := store.UsageRecords()[0]
	assert.Equal(t, key.ID, usage.APIKeyID)
	assert.Equal(t, "/api/v1/assets", usage.Endpoint)
	assert.Equal(t, "GET", usage.Method)
	assert.Equal(t, "198.51.100.7", usage.IPAddress)
	assert.Equal(t, models.UsageAllowed, usage.Outcome)
}

func TestAuthenticateAuditsDeniedAttempts(t *testing.T) {
	// Denials on a known key leave an audit trail too, with the denial
	// reason, even though the caller only ever sees the generic message.
	t.Run("revoked", func(t *testing.T) {
		store := storage.NewMemoryStorage()
		raw, key := seedKey(t, store, func(k *models.APIKey) {
			now := time.Now()
			k.RevokedAt = &now
		})
		a := NewAuthenticator(store, nil, nil)

		res := a.Authenticate(authRequest(raw), Options{})
		assert.False(t, res.OK)

		require.Eventually(t, func() bool {
			return len(store.UsageRecords()) == 1
		}, time.Second, 10*time.Millisecond)
		usage := store.UsageRecords()[0]
		assert.Equal(t, key.ID, usage.APIKeyID)
		assert.Equal(t, models.UsageDeniedRevoked, usage.Outcome)
	})

	t.Run("expired", func(t *testing.T) {
		store := storage.NewMemoryStorage()
		raw, _ := seedKey(t, store, func(k *models.APIKey) {
			past := time.Now().Add(-time.Minute)
			k.ExpiresAt = &past
		})
		a := NewAuthenticator(store, nil, nil)

		a.Authenticate(authRequest(raw), Options{})

		require.Eventually(t, func() bool {
			return len(store.UsageRecords()) == 1
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, models.UsageDeniedExpired, store.UsageRecords()[0].Outcome)
	})

	t.Run("insufficient permissions", func(t *testing.T) {
		store := storage.NewMemoryStorage()
		raw, _ := seedKey(t, store, nil)
		a := NewAuthenticator(store, nil, nil)

		a.Authenticate(authRequest(raw), Options{Scopes: []string{"keys:manage"}})

		require.Eventually(t, func() bool {
			return len(store.UsageRecords()) == 1
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, models.UsageDeniedPerms, store.UsageRecords()[0].Outcome)
	})

	t.Run("unknown key leaves no record", func(t *testing.T) {
		store := storage.NewMemoryStorage()
		a := NewAuthenticator(store, nil, nil)

		a.Authenticate(authRequest("ak_does-not-exist"), Options{})

		time.Sleep(50 * time.Millisecond)
		assert.Empty(t, store.UsageRecords())
	})
}

func TestAuthenticateTenantFromProfile(t *testing.T) {
	store := storage.NewMemoryStorage()
	raw, _ := seedKey(t, store, func(k *models.APIKey) {
		k.TenantID = ""
	})
	require.NoError(t, store.SaveProfile(context.Background(), "user-1", "tenant-from-profile"))
	a := NewAuthenticator(store, nil, nil)

	res := a.Authenticate(authRequest(raw), Options{})
	require.True(t, res.OK)
	assert.Equal(t, "tenant-from-profile", res.Context.TenantID)
}

func TestExtractKey(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"bearer", "Bearer ak_abc123", "ak_abc123"},
		{"apikey scheme", "ApiKey ak_abc123", "ak_abc123"},
		{"bare key", "ak_abc123", "ak_abc123"},
		{"case insensitive scheme", "bearer ak_abc123", "ak_abc123"},
		{"no header", "", ""},
		{"unrelated bare value", "some-token", ""},
		{"basic auth", "Basic dXNlcjpwYXNz", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			assert.Equal(t, tc.want, ExtractKey(req))
		})
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "127.0.0.1", ClientIP(req))

	req.Header.Set("X-Real-IP", "203.0.113.4")
	assert.Equal(t, "203.0.113.4", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.1, 203.0.113.4")
	assert.Equal(t, "198.51.100.1", ClientIP(req), "first forwarded entry wins")
}
