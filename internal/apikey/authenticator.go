// Package apikey authenticates requests that present an API key credential.
//
// Validation is deliberately uninformative on failure: every credential
// problem (unknown key, revoked, expired, IP not allowed) produces the same
// generic 401 so the endpoint cannot be used as an oracle for probing key
// state. The single exception is the per-key rate limit, which is a 429.
package apikey

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"assetgate/internal/models"
	"assetgate/internal/ratelimit"
	"assetgate/internal/storage"

	"github.com/google/uuid"
)

const (
	msgKeyRequired      = "API key required"
	msgInvalidKey       = "Invalid API key"
	msgInsufficientPerm = "Insufficient permissions"
	msgRateLimited      = "Rate limit exceeded for this API key"

	usageRecordTimeout = 5 * time.Second
)

// Options narrows what a credential must carry for a particular route.
// Zero-value Options require only a valid key.
type Options struct {
	// Scopes the key must have (all of them). The "*" scope satisfies any.
	Scopes []string
	// Permission is a resource:action pair the key must be granted.
	Permission string
}

// Result is the outcome of one authentication attempt. When OK is false,
// Status and Message describe the response to send. RateLimit carries the
// per-key limiter decision when one was made, so callers can emit headers.
type Result struct {
	OK                bool
	Context           *models.AuthContext
	Status            int
	Message           string
	RateLimitExceeded bool
	RateLimit         *ratelimit.Result
}

// Authenticator validates API key credentials against storage and enforces
// per-key rate limits through the shared limiter.
type Authenticator struct {
	store   storage.Storage
	limiter ratelimit.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewAuthenticator creates an authenticator. limiter may be nil when per-key
// rate limiting is disabled.
func NewAuthenticator(store storage.Storage, limiter ratelimit.Limiter, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		store:   store,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
}

// ExtractKey pulls the API key credential from a request. Recognized forms,
// in order: "Authorization: Bearer <key>", "Authorization: ApiKey <key>", and
// a bare Authorization value starting with the key prefix. Returns "" when
// the request carries no credential.
func ExtractKey(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	for _, scheme := range []string{"Bearer ", "ApiKey "} {
		if len(header) > len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) {
			return strings.TrimSpace(header[len(scheme):])
		}
	}
	if strings.HasPrefix(header, models.KeyPrefix) {
		return header
	}
	return ""
}

// ClientIP derives the caller address: first entry of X-Forwarded-For, then
// X-Real-IP, then a loopback placeholder. The service is expected to sit
// behind a trusted proxy that sets these headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	return "127.0.0.1"
}

// Authenticate validates the request's credential and returns the verdict.
// Every presentation of a known key — allowed or denied — is recorded as an
// audit entry asynchronously; audit failures never change the verdict.
func (a *Authenticator) Authenticate(r *http.Request, opts Options) Result {
	ctx := r.Context()
	rawKey := ExtractKey(r)
	if rawKey == "" {
		return unauthorized(msgKeyRequired)
	}

	key, err := a.store.GetAPIKeyByHash(ctx, models.HashAPIKey(rawKey))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.logger.Error("api key lookup failed", "error", err)
		}
		return unauthorized(msgInvalidKey)
	}

	ip := ClientIP(r)
	audit := func(outcome string) {
		a.recordUsage(key, key.TenantID, r.URL.Path, r.Method, ip, outcome)
	}

	if key.IsRevoked() {
		a.logger.Info("revoked api key presented", "key_id", key.ID, "tenant_id", key.TenantID)
		audit(models.UsageDeniedRevoked)
		return unauthorized(msgInvalidKey)
	}
	if key.IsExpired(a.now()) {
		a.logger.Info("expired api key presented", "key_id", key.ID, "tenant_id", key.TenantID)
		audit(models.UsageDeniedExpired)
		return unauthorized(msgInvalidKey)
	}

	if !key.IPAllowed(ip) {
		a.logger.Warn("api key used from disallowed address",
			"key_id", key.ID,
			"tenant_id", key.TenantID,
			"ip", ip,
		)
		audit(models.UsageDeniedIPBlocked)
		return unauthorized(msgInvalidKey)
	}

	if a.limiter != nil && key.RateLimit > 0 && key.RateLimitSecs > 0 {
		res := a.limiter.Check(ctx, "apikey:"+key.ID, ratelimit.Window{
			Limit:         key.RateLimit,
			WindowSeconds: key.RateLimitSecs,
		})
		if !res.Allowed {
			audit(models.UsageDeniedRateLimit)
			return Result{
				Status:            http.StatusTooManyRequests,
				Message:           msgRateLimited,
				RateLimitExceeded: true,
				RateLimit:         &res,
			}
		}
	}

	for _, scope := range opts.Scopes {
		if !key.HasScope(scope) {
			audit(models.UsageDeniedPerms)
			return unauthorized(msgInsufficientPerm)
		}
	}
	if opts.Permission != "" && !key.HasPermission(opts.Permission) {
		audit(models.UsageDeniedPerms)
		return unauthorized(msgInsufficientPerm)
	}

	tenantID := key.TenantID
	if tenantID == "" {
		tenantID, err = a.store.GetProfileTenant(ctx, key.UserID)
		if err != nil {
			a.logger.Error("tenant resolution failed", "key_id", key.ID, "user_id", key.UserID, "error", err)
			return unauthorized(msgInvalidKey)
		}
	}

	a.recordUsage(key, tenantID, r.URL.Path, r.Method, ip, models.UsageAllowed)

	return Result{
		OK: true,
		Context: &models.AuthContext{
			APIKey:   key,
			TenantID: tenantID,
			UserID:   key.UserID,
		},
	}
}

// recordUsage writes the audit record off the request path. Best effort.
func (a *Authenticator) recordUsage(key *models.APIKey, tenantID, endpoint, method, ip, outcome string) {
	usage := &models.APIKeyUsage{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		APIKeyID:  key.ID,
		Endpoint:  endpoint,
		Method:    method,
		IPAddress: ip,
		Outcome:   outcome,
		CreatedAt: a.now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), usageRecordTimeout)
		defer cancel()
		if err := a.store.RecordAPIKeyUsage(ctx, usage); err != nil {
			a.logger.Warn("failed to record api key usage", "key_id", key.ID, "error", err)
		}
	}()
}

func unauthorized(message string) Result {
	return Result{Status: http.StatusUnauthorized, Message: message}
}
