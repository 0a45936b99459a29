package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"assetgate/internal/counter"
	"assetgate/internal/models"
	"assetgate/internal/storage"
	"assetgate/internal/version"
)

const healthCheckTimeout = 2 * time.Second

// Handlers contains the HTTP handlers for the service API
type Handlers struct {
	store        storage.Storage
	counterStore counter.Store
	logger       *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(store storage.Storage, counterStore counter.Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:        store,
		counterStore: counterStore,
		logger:       logger,
	}
}

// HealthCheck reports service health with per-component detail.
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.Version

	if err := h.store.Ping(ctx); err != nil {
		response.AddComponent("storage", models.StatusUnhealthy, err.Error())
	} else {
		response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
	}

	// A missing counter store degrades but never fails the service: admission
	// decisions fail open without it.
	if h.counterStore.Fallback() {
		response.AddComponent("counter_store", models.StatusDegraded, "Running in fallback mode; rate limits are per-instance only")
	} else if err := h.counterStore.Ping(ctx); err != nil {
		response.AddComponent("counter_store", models.StatusDegraded, "Counter store unreachable; rate limiting fails open")
	} else {
		response.AddComponent("counter_store", models.StatusHealthy, "Counter store is operational")
	}

	statusCode := http.StatusOK
	if response.Status == models.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, statusCode, response)
}

// TestRateLimit is a probe endpoint for exercising the admission layer. The
// admission middleware does the counting; the handler only confirms the
// request got through.
// GET /api/test-rate-limit
func (h *Handlers) TestRateLimit(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, map[string]string{
		"message": "request admitted",
	})
}

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing more to send.
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}
