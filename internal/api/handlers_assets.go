package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"assetgate/internal/models"
	"assetgate/internal/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type assetRequest struct {
	Name       string            `json:"name"`
	Category   string            `json:"category"`
	Status     string            `json:"status"`
	AssignedTo string            `json:"assigned_to"`
	Metadata   map[string]string `json:"metadata"`
}

// ListAssets returns the caller's tenant inventory.
// GET /api/v1/assets
func (h *Handlers) ListAssets(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := callerIdentity(r)

	assets, err := h.store.Assets(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to list assets", "tenant_id", tenantID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to list assets")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"assets": assets})
}

// GetAsset returns a single asset.
// GET /api/v1/assets/{id}
func (h *Handlers) GetAsset(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := callerIdentity(r)
	id := mux.Vars(r)["id"]

	asset, err := h.store.GetAsset(r.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "Asset not found")
		} else {
			h.logger.Error("failed to load asset", "asset_id", id, "error", err)
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to load asset")
		}
		return
	}
	h.writeJSONResponse(w, http.StatusOK, asset)
}

// CreateAsset registers a new asset in the caller's tenant.
// POST /api/v1/assets
func (h *Handlers) CreateAsset(w http.ResponseWriter, r *http.Request) {
	tenantID, userID := callerIdentity(r)

	var req assetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if req.Name == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "name is required")
		return
	}

	now := time.Now().UTC()
	asset := &models.Asset{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Name:       req.Name,
		Category:   req.Category,
		Status:     req.Status,
		AssignedTo: req.AssignedTo,
		Metadata:   req.Metadata,
		CreatedBy:  userID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.store.SaveAsset(r.Context(), asset); err != nil {
		h.logger.Error("failed to create asset", "tenant_id", tenantID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to create asset")
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, asset)
}

// UpdateAsset replaces an asset's mutable fields.
// PUT /api/v1/assets/{id}
func (h *Handlers) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := callerIdentity(r)
	id := mux.Vars(r)["id"]

	asset, err := h.store.GetAsset(r.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "Asset not found")
		} else {
			h.logger.Error("failed to load asset", "asset_id", id, "error", err)
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to load asset")
		}
		return
	}

	var req assetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if req.Name == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "name is required")
		return
	}

	asset.Name = req.Name
	asset.Category = req.Category
	asset.Status = req.Status
	asset.AssignedTo = req.AssignedTo
	asset.Metadata = req.Metadata
	asset.UpdatedAt = time.Now().UTC()

	if err := h.store.SaveAsset(r.Context(), asset); err != nil {
		h.logger.Error("failed to update asset", "asset_id", id, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to update asset")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, asset)
}

// DeleteAsset removes an asset from the tenant inventory.
// DELETE /api/v1/assets/{id}
func (h *Handlers) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := callerIdentity(r)
	id := mux.Vars(r)["id"]

	if err := h.store.DeleteAsset(r.Context(), tenantID, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "Asset not found")
		} else {
			h.logger.Error("failed to delete asset", "asset_id", id, "error", err)
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to delete asset")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
