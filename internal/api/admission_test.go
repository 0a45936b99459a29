package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"assetgate/internal/apikey"
	"assetgate/internal/counter"
	"assetgate/internal/models"
	"assetgate/internal/ratelimit"
	"assetgate/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCounter is a shared-store stand-in: it counts deterministically and
// reports Fallback() == false so limits actually deny.
type memCounter struct {
	counts map[string]uint64
	ttl    map[string]time.Duration
}

func newMemCounter() *memCounter {
	return &memCounter{counts: make(map[string]uint64), ttl: make(map[string]time.Duration)}
}

func (m *memCounter) Increment(_ context.Context, key string, ttl time.Duration) (counter.IncrResult, error) {
	m.counts[key]++
	if m.counts[key] == 1 {
		m.ttl[key] = ttl
	}
	return counter.IncrResult{Count: m.counts[key], ExpiresIn: m.ttl[key]}, nil
}

func (m *memCounter) Get(_ context.Context, key string) (uint64, bool, error) {
	c, ok := m.counts[key]
	return c, ok, nil
}

func (m *memCounter) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}

func (m *memCounter) Ping(context.Context) error { return nil }
func (m *memCounter) Fallback() bool             { return false }
func (m *memCounter) Close() error               { return nil }

type testEnv struct {
	router   http.Handler
	store    *storage.MemoryStorage
	adminRaw string
}

func newTestEnv(t *testing.T, cs counter.Store, mutateCfg func(*models.Config)) *testEnv {
	t.Helper()

	cfg := models.NewDefaultConfig()
	cfg.RateLimit.Policies = []models.RateLimitPolicy{
		{PathPrefix: "/api/test-rate-limit", Limit: 10, WindowSeconds: 60},
		{PathPrefix: "/api", Limit: 100, WindowSeconds: 60},
	}
	if mutateCfg != nil {
		mutateCfg(cfg)
	}

	store := storage.NewMemoryStorage()

	adminRaw, err := models.GenerateAPIKey()
	require.NoError(t, err)
	adminKey := models.NewAPIKey(models.NewKeyID(), "tenant-1", "admin", "admin key",
		adminRaw, []string{"*"}, map[string][]string{"*": {"*"}})
	require.NoError(t, store.CreateAPIKey(context.Background(), adminKey))

	limiter := ratelimit.NewFixedWindowLimiter(cs)
	resolver := ratelimit.NewPolicyResolver(cfg.RateLimit.Policies)
	auth := apikey.NewAuthenticator(store, limiter, nil)
	admission := NewAdmission(resolver, limiter, auth, cfg, nil)
	handlers := NewHandlers(store, cs, nil)

	return &testEnv{
		router:   SetupRoutes(handlers, admission),
		store:    store,
		adminRaw: adminRaw,
	}
}

func (e *testEnv) do(method, path, body string, authorized bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authorized {
		req.Header.Set("Authorization", "Bearer "+e.adminRaw)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) doReq(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func TestAdmissionEnforcesWindowLimit(t *testing.T) {
	// test-rate-limit is anonymous: exhausting its window needs no
	// credential at all.
	env := newTestEnv(t, newMemCounter(), nil)

	for i := 1; i <= 10; i++ {
		rr := env.do("GET", "/api/test-rate-limit", "", false)
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i)
		assert.Equal(t, "10", rr.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(10-i), rr.Header().Get("X-RateLimit-Remaining"))
	}

	rr := env.do("GET", "/api/test-rate-limit", "", false)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	var body models.RateLimitErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Rate limit exceeded", body.Error)
	assert.Equal(t, models.ErrorCodeRateLimited, body.Code)
	assert.Equal(t, uint(60), body.RetryAfter)
	assert.Equal(t, uint(10), body.Limit)
	assert.Equal(t, uint(0), body.Remaining)
	assert.NotZero(t, body.Reset)
}

func TestAdmissionRequiresCredential(t *testing.T) {
	env := newTestEnv(t, newMemCounter(), nil)

	rr := env.do("GET", "/api/v1/assets", "", false)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "API key required", body.Message)
}

func TestAdmissionRateLimitsBeforeAuth(t *testing.T) {
	// Unauthenticated floods burn quota, not storage lookups: past the limit
	// even a request with no credential gets a 429, not a 401.
	env := newTestEnv(t, newMemCounter(), func(cfg *models.Config) {
		cfg.RateLimit.Policies = []models.RateLimitPolicy{
			{PathPrefix: "/api", Limit: 5, WindowSeconds: 60},
		}
	})

	for i := 0; i < 5; i++ {
		rr := env.do("GET", "/api/v1/assets", "", false)
		require.Equal(t, http.StatusUnauthorized, rr.Code, "request %d", i)
	}
	rr := env.do("GET", "/api/v1/assets", "", false)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestAdmissionFailsOpenInFallbackMode(t *testing.T) {
	fallback := counter.NewFallbackStore()
	defer fallback.Close()
	env := newTestEnv(t, fallback, nil)

	// Far more requests than the nominal limit all get through.
	for i := 0; i < 30; i++ {
		rr := env.do("GET", "/api/test-rate-limit", "", true)
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i)
		assert.Equal(t, "9", rr.Header().Get("X-RateLimit-Remaining"), "fail-open reports limit-1")
	}
}

func TestAdmissionDisabledStages(t *testing.T) {
	env := newTestEnv(t, newMemCounter(), func(cfg *models.Config) {
		cfg.Security.EnableAuth = false
		cfg.RateLimit.Enabled = false
	})

	// No credential, no limit.
	for i := 0; i < 15; i++ {
		rr := env.do("GET", "/api/test-rate-limit", "", false)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
	}
}

func TestHealthBypassesAdmission(t *testing.T) {
	env := newTestEnv(t, newMemCounter(), nil)

	rr := env.do("GET", "/health", "", false)
	assert.Equal(t, http.StatusOK, rr.Code)

	var body models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, models.StatusHealthy, body.Status)
	assert.Contains(t, body.Components, "storage")
	assert.Contains(t, body.Components, "counter_store")
}

func TestHealthDegradedInFallbackMode(t *testing.T) {
	fallback := counter.NewFallbackStore()
	defer fallback.Close()
	env := newTestEnv(t, fallback, nil)

	rr := env.do("GET", "/health", "", false)
	assert.Equal(t, http.StatusOK, rr.Code, "degraded is still serving")

	var body models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, models.StatusDegraded, body.Status)
	assert.Equal(t, models.StatusDegraded, body.Components["counter_store"].Status)
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	rr := httptest.NewRecorder()
	recoveryMiddleware(panicking).ServeHTTP(rr, httptest.NewRequest("GET", "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Internal server error", body.Message)
	assert.NotContains(t, rr.Body.String(), "boom", "panic detail never reaches the caller")
}
