package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"assetgate/internal/apikey"
	"assetgate/internal/models"
	"assetgate/internal/ratelimit"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var admissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "assetgate_admission_decisions_total",
	Help: "Admission verdicts by outcome.",
}, []string{"verdict"})

// Admission is the request gate: it resolves the rate-limit policy for the
// path, checks the caller's quota, then authenticates the credential. Order
// matters — rate limiting runs first so unauthenticated floods are shed
// before any storage lookup.
type Admission struct {
	resolver *ratelimit.PolicyResolver
	limiter  ratelimit.Limiter
	auth     *apikey.Authenticator

	rateLimitEnabled bool
	authEnabled      bool
	anonymous        map[string]struct{}

	logger *slog.Logger
}

// NewAdmission wires the admission gate from its three collaborators. Either
// stage can be switched off via configuration; a disabled stage is a
// pass-through.
func NewAdmission(resolver *ratelimit.PolicyResolver, limiter ratelimit.Limiter, auth *apikey.Authenticator, cfg *models.Config, logger *slog.Logger) *Admission {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admission{
		resolver:         resolver,
		limiter:          limiter,
		auth:             auth,
		rateLimitEnabled: cfg.RateLimit.Enabled,
		authEnabled:      cfg.Security.EnableAuth,
		anonymous:        make(map[string]struct{}),
		logger:           logger,
	}
}

// AllowAnonymous exempts exact request paths from the authentication stage.
// Exempted paths are still rate limited.
func (a *Admission) AllowAnonymous(paths ...string) {
	for _, p := range paths {
		a.anonymous[p] = struct{}{}
	}
}

// Middleware returns the admission gate as router middleware.
func (a *Admission) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.rateLimitEnabled {
				if window, prefix, ok := a.resolver.Resolve(r.URL.Path); ok {
					res := a.limiter.Check(r.Context(), "ip:"+apikey.ClientIP(r), window)
					setRateLimitHeaders(w, res)
					if !res.Allowed {
						a.logger.Info("request rate limited",
							"path", r.URL.Path,
							"policy", prefix,
							"limit", res.Limit,
						)
						admissionDecisions.WithLabelValues("rate_limited").Inc()
						writeRateLimitError(w, res, "Too many requests, please try again later")
						return
					}
				}
			}

			if _, anon := a.anonymous[r.URL.Path]; a.authEnabled && !anon {
				result := a.auth.Authenticate(r, apikey.Options{})
				if !result.OK {
					if result.RateLimitExceeded {
						admissionDecisions.WithLabelValues("key_rate_limited").Inc()
						if result.RateLimit != nil {
							setRateLimitHeaders(w, *result.RateLimit)
						}
						writeRateLimitError(w, derefResult(result.RateLimit), result.Message)
						return
					}
					admissionDecisions.WithLabelValues("unauthorized").Inc()
					writeMiddlewareError(w, result.Status, models.ErrorCodeUnauthorized, result.Message)
					return
				}
				r = r.WithContext(WithAuthContext(r.Context(), result.Context))
			}

			admissionDecisions.WithLabelValues("allowed").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatUint(uint64(res.Limit), 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatUint(uint64(res.Remaining), 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatUint(res.ResetEpochMs(), 10))
}

func writeRateLimitError(w http.ResponseWriter, res ratelimit.Result, message string) {
	retryAfter := retryAfterSeconds(res.RetryAfter)
	w.Header().Set("Retry-After", strconv.FormatUint(uint64(retryAfter), 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(models.RateLimitErrorResponse{
		Error:      "Rate limit exceeded",
		Message:    message,
		Code:       models.ErrorCodeRateLimited,
		RetryAfter: retryAfter,
		Limit:      res.Limit,
		Remaining:  res.Remaining,
		Reset:      res.ResetEpochMs(),
	})
}

// retryAfterSeconds rounds up so clients never retry inside the same window.
func retryAfterSeconds(d time.Duration) uint {
	if d <= 0 {
		return 1
	}
	secs := (d + time.Second - 1) / time.Second
	return uint(secs)
}

func derefResult(res *ratelimit.Result) ratelimit.Result {
	if res == nil {
		return ratelimit.Result{}
	}
	return *res
}
