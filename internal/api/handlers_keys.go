package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"assetgate/internal/models"
	"assetgate/internal/storage"

	"github.com/gorilla/mux"
)

// defaultTenant is used when authentication is disabled and requests carry no
// tenant identity.
const defaultTenant = "default"

type createKeyRequest struct {
	Name                   string              `json:"name"`
	Scopes                 []string            `json:"scopes"`
	Permissions            map[string][]string `json:"permissions"`
	AllowedIPs             []string            `json:"allowed_ips"`
	RateLimitRequests      uint                `json:"rate_limit_requests"`
	RateLimitWindowSeconds uint                `json:"rate_limit_window_seconds"`
	ExpiresAt              *time.Time          `json:"expires_at"`
}

type updateKeyRequest struct {
	Name                   *string              `json:"name"`
	Scopes                 *[]string            `json:"scopes"`
	Permissions            *map[string][]string `json:"permissions"`
	AllowedIPs             *[]string            `json:"allowed_ips"`
	RateLimitRequests      *uint                `json:"rate_limit_requests"`
	RateLimitWindowSeconds *uint                `json:"rate_limit_window_seconds"`
	ExpiresAt              *time.Time           `json:"expires_at"`
}

type revokeKeyRequest struct {
	Reason string `json:"reason"`
}

// issuedKeyResponse carries the plaintext secret exactly once, at issue or
// rotation time. It is never retrievable afterwards.
type issuedKeyResponse struct {
	Key    string         `json:"key"`
	APIKey *models.APIKey `json:"api_key"`
}

// CreateKey issues a new API key for the caller's tenant.
// POST /api/v1/keys
func (h *Handlers) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if req.Name == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "name is required")
		return
	}

	tenantID, userID := callerIdentity(r)

	rawKey, err := models.GenerateAPIKey()
	if err != nil {
		h.logger.Error("key generation failed", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to generate key")
		return
	}

	key := models.NewAPIKey(models.NewKeyID(), tenantID, userID, req.Name, rawKey, req.Scopes, req.Permissions)
	if len(req.AllowedIPs) > 0 {
		key.AllowedIPs = req.AllowedIPs
	}
	key.RateLimit = req.RateLimitRequests
	key.RateLimitSecs = req.RateLimitWindowSeconds
	key.ExpiresAt = req.ExpiresAt

	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		h.logger.Error("failed to store api key", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to create key")
		return
	}

	h.logger.Info("api key issued", "key_id", key.ID, "tenant_id", tenantID, "name", key.Name)
	h.writeJSONResponse(w, http.StatusCreated, issuedKeyResponse{Key: rawKey, APIKey: key})
}

// ListKeys returns all keys for the caller's tenant, revoked keys included.
// GET /api/v1/keys
func (h *Handlers) ListKeys(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := callerIdentity(r)

	keys, err := h.store.ListAPIKeys(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to list api keys", "tenant_id", tenantID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to list keys")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"api_keys": keys})
}

// GetKey returns a single key record.
// GET /api/v1/keys/{id}
func (h *Handlers) GetKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.tenantKey(w, r)
	if !ok {
		return
	}
	h.writeJSONResponse(w, http.StatusOK, key)
}

// UpdateKey applies partial updates to a key's metadata and grants.
// PATCH /api/v1/keys/{id}
func (h *Handlers) UpdateKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.tenantKey(w, r)
	if !ok {
		return
	}

	var req updateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	if req.Name != nil {
		key.Name = *req.Name
	}
	if req.Scopes != nil {
		key.Scopes = *req.Scopes
	}
	if req.Permissions != nil {
		key.Permissions = *req.Permissions
	}
	if req.AllowedIPs != nil {
		key.AllowedIPs = *req.AllowedIPs
	}
	if req.RateLimitRequests != nil {
		key.RateLimit = *req.RateLimitRequests
	}
	if req.RateLimitWindowSeconds != nil {
		key.RateLimitSecs = *req.RateLimitWindowSeconds
	}
	if req.ExpiresAt != nil {
		key.ExpiresAt = req.ExpiresAt
	}
	key.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateAPIKey(r.Context(), key); err != nil {
		h.logger.Error("failed to update api key", "key_id", key.ID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to update key")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, key)
}

// RotateKey replaces a key's secret, invalidating the old one immediately.
// The new plaintext is returned once.
// POST /api/v1/keys/{id}/rotate
func (h *Handlers) RotateKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.tenantKey(w, r)
	if !ok {
		return
	}
	if key.IsRevoked() {
		h.writeErrorResponse(w, http.StatusConflict, models.ErrorCodeConflict, "Cannot rotate a revoked key")
		return
	}

	rawKey, err := models.GenerateAPIKey()
	if err != nil {
		h.logger.Error("key generation failed", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to generate key")
		return
	}

	key.KeyHash = models.HashAPIKey(rawKey)
	key.Prefix = rawKey[:8]
	key.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateAPIKey(r.Context(), key); err != nil {
		h.logger.Error("failed to rotate api key", "key_id", key.ID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to rotate key")
		return
	}

	h.logger.Info("api key rotated", "key_id", key.ID, "tenant_id", key.TenantID)
	h.writeJSONResponse(w, http.StatusOK, issuedKeyResponse{Key: rawKey, APIKey: key})
}

// RevokeKey soft-revokes a key. The record stays in storage so the usage
// audit trail is preserved; the credential stops working immediately.
// DELETE /api/v1/keys/{id}
func (h *Handlers) RevokeKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.tenantKey(w, r)
	if !ok {
		return
	}
	if key.IsRevoked() {
		h.writeJSONResponse(w, http.StatusOK, key)
		return
	}

	var req revokeKeyRequest
	// Body is optional for revocation.
	_ = json.NewDecoder(r.Body).Decode(&req)

	now := time.Now().UTC()
	key.RevokedAt = &now
	key.RevokedReason = req.Reason
	key.UpdatedAt = now

	if err := h.store.UpdateAPIKey(r.Context(), key); err != nil {
		h.logger.Error("failed to revoke api key", "key_id", key.ID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to revoke key")
		return
	}

	h.logger.Info("api key revoked", "key_id", key.ID, "tenant_id", key.TenantID, "reason", req.Reason)
	h.writeJSONResponse(w, http.StatusOK, key)
}

// tenantKey loads the key named in the route and verifies it belongs to the
// caller's tenant. Cross-tenant IDs are indistinguishable from missing ones.
func (h *Handlers) tenantKey(w http.ResponseWriter, r *http.Request) (*models.APIKey, bool) {
	id := mux.Vars(r)["id"]
	tenantID, _ := callerIdentity(r)

	key, err := h.store.GetAPIKeyByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "API key not found")
		} else {
			h.logger.Error("failed to load api key", "key_id", id, "error", err)
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to load key")
		}
		return nil, false
	}
	if key.TenantID != tenantID {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "API key not found")
		return nil, false
	}
	return key, true
}

func callerIdentity(r *http.Request) (tenantID, userID string) {
	if ac := GetAuthContext(r); ac != nil {
		return ac.TenantID, ac.UserID
	}
	return defaultTenant, "anonymous"
}
