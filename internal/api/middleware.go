package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"assetgate/internal/apikey"
	"assetgate/internal/models"

	"github.com/gorilla/mux"
)

type contextKey string

const authContextKey contextKey = "auth_context"

// WithAuthContext returns a request context carrying the authentication
// result for downstream handlers.
func WithAuthContext(ctx context.Context, ac *models.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// GetAuthContext extracts the authentication context from a request. Returns
// nil when the request was admitted without authentication (auth disabled).
func GetAuthContext(r *http.Request) *models.AuthContext {
	ac, _ := r.Context().Value(authContextKey).(*models.AuthContext)
	return ac
}

// RequireScope creates middleware that rejects requests whose key does not
// carry the named scope. Requests with no auth context at all (auth disabled)
// pass through.
func RequireScope(scope string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := GetAuthContext(r)
			if ac != nil && !ac.APIKey.HasScope(scope) {
				writeMiddlewareError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission creates middleware that enforces a resource:action grant.
func RequirePermission(permission string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := GetAuthContext(r)
			if ac != nil && !ac.APIKey.HasPermission(permission) {
				writeMiddlewareError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs each request with method, path, status and duration.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", apikey.ClientIP(r),
		)
	})
}

// recoveryMiddleware converts handler panics into a 500 response instead of
// tearing down the connection.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered in handler",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				)
				writeMiddlewareError(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func writeMiddlewareError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(models.NewErrorResponse(message, errorCode))
}
