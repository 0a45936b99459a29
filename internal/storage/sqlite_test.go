package storage

import (
	"context"
	"testing"
	"time"

	"assetgate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(models.DatabaseConfig{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStorageAPIKeyRoundTrip(t *testing.T) {
	store := newSQLiteTestStorage(t)
	ctx := context.Background()

	raw, err := models.GenerateAPIKey()
	require.NoError(t, err)
	key := models.NewAPIKey(models.NewKeyID(), "tenant-1", "user-1", "sqlite key",
		raw, []string{"assets:read", "keys:manage"}, map[string][]string{"assets": {"read", "write"}})
	key.AllowedIPs = []string{"10.0.0.0/8"}
	key.RateLimit = 50
	key.RateLimitSecs = 60
	expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	key.ExpiresAt = &expires

	require.NoError(t, store.CreateAPIKey(ctx, key))

	got, err := store.GetAPIKeyByHash(ctx, key.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.Equal(t, key.Scopes, got.Scopes)
	assert.Equal(t, key.Permissions, got.Permissions)
	assert.Equal(t, key.AllowedIPs, got.AllowedIPs)
	assert.Equal(t, uint(50), got.RateLimit)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(expires))

	_, err = store.GetAPIKeyByHash(ctx, models.HashAPIKey("ak_unknown"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStorageUpdateAndRevoke(t *testing.T) {
	store := newSQLiteTestStorage(t)
	ctx := context.Background()

	raw, err := models.GenerateAPIKey()
	require.NoError(t, err)
	key := models.NewAPIKey(models.NewKeyID(), "tenant-1", "user-1", "k", raw, nil, nil)
	require.NoError(t, store.CreateAPIKey(ctx, key))

	now := time.Now().UTC().Truncate(time.Second)
	key.RevokedAt = &now
	key.RevokedReason = "rotated out"
	key.UpdatedAt = now
	require.NoError(t, store.UpdateAPIKey(ctx, key))

	got, err := store.GetAPIKeyByID(ctx, key.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRevoked())
	assert.Equal(t, "rotated out", got.RevokedReason)

	ghost := models.NewAPIKey(models.NewKeyID(), "t", "u", "ghost", "ak_ghost", nil, nil)
	assert.ErrorIs(t, store.UpdateAPIKey(ctx, ghost), ErrNotFound)
}

func TestSQLiteStorageUsageAndProfiles(t *testing.T) {
	store := newSQLiteTestStorage(t)
	ctx := context.Background()

	raw, err := models.GenerateAPIKey()
	require.NoError(t, err)
	key := models.NewAPIKey(models.NewKeyID(), "tenant-1", "user-1", "k", raw, nil, nil)
	require.NoError(t, store.CreateAPIKey(ctx, key))

	usage := &models.APIKeyUsage{
		ID:        models.NewKeyID(),
		TenantID:  "tenant-1",
		APIKeyID:  key.ID,
		Endpoint:  "/api/v1/assets",
		Method:    "GET",
		IPAddress: "10.0.0.1",
		Outcome:   models.UsageAllowed,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.RecordAPIKeyUsage(ctx, usage))

	got, err := store.GetAPIKeyByID(ctx, key.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)

	require.NoError(t, store.SaveProfile(ctx, "user-1", "tenant-1"))
	require.NoError(t, store.SaveProfile(ctx, "user-1", "tenant-2")) // upsert
	tenantID, err := store.GetProfileTenant(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-2", tenantID)

	_, err = store.GetProfileTenant(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStorageAssets(t *testing.T) {
	store := newSQLiteTestStorage(t)
	ctx := context.Background()

	asset := &models.Asset{
		ID:        "a-1",
		TenantID:  "tenant-1",
		Name:      "rack server",
		Category:  "server",
		Status:    "active",
		Metadata:  map[string]string{"dc": "us-east-1"},
		CreatedBy: "user-1",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveAsset(ctx, asset))

	got, err := store.GetAsset(ctx, "tenant-1", "a-1")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", got.Metadata["dc"])

	asset.Status = "decommissioned"
	require.NoError(t, store.SaveAsset(ctx, asset)) // upsert

	assets, err := store.Assets(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "decommissioned", assets[0].Status)

	_, err = store.GetAsset(ctx, "tenant-2", "a-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.DeleteAsset(ctx, "tenant-1", "a-1"))
	assert.ErrorIs(t, store.DeleteAsset(ctx, "tenant-1", "a-1"), ErrNotFound)
}
