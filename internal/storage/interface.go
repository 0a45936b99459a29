package storage

import (
	"context"
	"time"

	"assetgate/internal/models"
)

// Storage is the persistence collaborator consumed by the admission layer
// and the asset handlers. It can be backed by memory (tests/dev), SQLite, or
// PostgreSQL.
type Storage interface {
	// GetAPIKeyByHash retrieves a key by the SHA-256 hex digest of its
	// secret. Returns ErrNotFound when no key matches; callers must not
	// distinguish "absent" from "wrong secret" in anything user-visible.
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)

	// GetAPIKeyByID retrieves a key by its ID, revoked keys included.
	GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error)

	// ListAPIKeys returns all keys for a tenant, revoked keys included —
	// records are never physically deleted, to preserve the audit trail.
	ListAPIKeys(ctx context.Context, tenantID string) ([]*models.APIKey, error)

	// CreateAPIKey stores a new key record.
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	// UpdateAPIKey persists changes to an existing key (rotation, updates,
	// soft revocation).
	UpdateAPIKey(ctx context.Context, key *models.APIKey) error

	// RecordAPIKeyUsage appends a usage audit record and refreshes the key's
	// last-used timestamp. Callers treat failures as best-effort.
	RecordAPIKeyUsage(ctx context.Context, usage *models.APIKeyUsage) error

	// TouchAPIKey updates the key's last-used timestamp only.
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error

	// GetProfileTenant resolves a user to their tenant. Returns ErrNotFound
	// when the user has no profile.
	GetProfileTenant(ctx context.Context, userID string) (string, error)

	// SaveProfile stores or updates a user -> tenant mapping.
	SaveProfile(ctx context.Context, userID, tenantID string) error

	// Assets returns all assets for a tenant.
	Assets(ctx context.Context, tenantID string) ([]*models.Asset, error)

	// GetAsset retrieves a tenant's asset by ID.
	GetAsset(ctx context.Context, tenantID, id string) (*models.Asset, error)

	// SaveAsset stores or updates an asset.
	SaveAsset(ctx context.Context, asset *models.Asset) error

	// DeleteAsset removes a tenant's asset.
	DeleteAsset(ctx context.Context, tenantID, id string) error

	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources.
	Close() error
}
