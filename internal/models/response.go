// Package models - API response types and error handling.
// All denial responses are structured JSON; no stack traces or internal error
// detail ever reach the caller.
package models

import "time"

// ErrorResponse is the uniform error body for 4xx/5xx responses.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// RateLimitErrorResponse is the 429 body. Reset is epoch milliseconds,
// matching the X-RateLimit-Reset header.
type RateLimitErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	RetryAfter uint   `json:"retryAfter"` // seconds
	Limit      uint   `json:"limit"`
	Remaining  uint   `json:"remaining"`
	Reset      uint64 `json:"reset"` // epoch ms
}

// HealthCheckResponse reports overall and per-component status.
type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health status constants.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded" // e.g. counter store in fallback mode
	StatusUnhealthy = "unhealthy"
)

// Machine-readable error codes.
const (
	ErrorCodeNotFound          = "NOT_FOUND"
	ErrorCodeBadRequest        = "BAD_REQUEST"
	ErrorCodeInvalidRequest    = "INVALID_REQUEST"
	ErrorCodeInternalError     = "INTERNAL_ERROR"
	ErrorCodeUnauthorized      = "UNAUTHORIZED"
	ErrorCodeRateLimited       = "RATE_LIMIT_EXCEEDED"
	ErrorCodeConflict          = "CONFLICT"
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
	// Overall status degrades to the worst component.
	if status == StatusUnhealthy {
		h.Status = StatusUnhealthy
	} else if status == StatusDegraded && h.Status == StatusHealthy {
		h.Status = StatusDegraded
	}
}
