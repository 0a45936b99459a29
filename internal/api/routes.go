package api

import (
	"encoding/json"
	"net/http"

	"assetgate/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// Scope and permission names enforced on management routes.
const (
	ScopeManageKeys       = "keys:manage"
	PermissionAssetsRead  = "assets:read"
	PermissionAssetsWrite = "assets:write"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" && r.URL.Path != "/metrics"
			}),
		))
	}
}

// SetupRoutes configures the HTTP routes for the service. Everything under
// /api goes through the admission gate; /health stays outside so probes are
// never rate limited or challenged for credentials.
func SetupRoutes(handlers *Handlers, admission *Admission, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(admission.Middleware())

	// test-rate-limit exercises the limiter and must work without a credential.
	admission.AllowAnonymous("/api/test-rate-limit")
	api.HandleFunc("/test-rate-limit", handlers.TestRateLimit).Methods("GET")

	v1 := api.PathPrefix("/v1").Subrouter()

	keys := v1.PathPrefix("/keys").Subrouter()
	keys.Use(RequireScope(ScopeManageKeys))
	keys.HandleFunc("", handlers.CreateKey).Methods("POST")
	keys.HandleFunc("", handlers.ListKeys).Methods("GET")
	keys.HandleFunc("/{id}", handlers.GetKey).Methods("GET")
	keys.HandleFunc("/{id}", handlers.UpdateKey).Methods("PATCH")
	keys.HandleFunc("/{id}", handlers.RevokeKey).Methods("DELETE")
	keys.HandleFunc("/{id}/rotate", handlers.RotateKey).Methods("POST")

	assets := v1.PathPrefix("/assets").Subrouter()
	readAssets := RequirePermission(PermissionAssetsRead)
	writeAssets := RequirePermission(PermissionAssetsWrite)
	assets.Handle("", readAssets(http.HandlerFunc(handlers.ListAssets))).Methods("GET")
	assets.Handle("", writeAssets(http.HandlerFunc(handlers.CreateAsset))).Methods("POST")
	assets.Handle("/{id}", readAssets(http.HandlerFunc(handlers.GetAsset))).Methods("GET")
	assets.Handle("/{id}", writeAssets(http.HandlerFunc(handlers.UpdateAsset))).Methods("PUT")
	assets.Handle("/{id}", writeAssets(http.HandlerFunc(handlers.DeleteAsset))).Methods("DELETE")

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_ = json.NewEncoder(w).Encode(models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest))
	})
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(models.NewErrorResponse("Resource not found", models.ErrorCodeNotFound))
	})

	return router
}
