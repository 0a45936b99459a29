package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"assetgate/internal/models"

	"github.com/google/uuid"
)

// MemoryStorage implements the Storage interface using in-memory data
// structures. Ideal for development and testing; data is lost on restart.
type MemoryStorage struct {
	mu           sync.RWMutex
	apiKeys      map[string]*models.APIKey // keyed by ID
	apiKeyHashes map[string]string         // hash -> ID
	usage        []*models.APIKeyUsage
	profiles     map[string]string                  // userID -> tenantID
	assets       map[string]map[string]*models.Asset // tenantID -> assetID -> asset
}

// NewMemoryStorage creates a new memory-based storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		apiKeys:      make(map[string]*models.APIKey),
		apiKeyHashes: make(map[string]string),
		profiles:     make(map[string]string),
		assets:       make(map[string]map[string]*models.Asset),
	}
}

// GetAPIKeyByHash retrieves a key by its secret's digest.
func (m *MemoryStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.apiKeyHashes[hash]
	if !exists {
		return nil, ErrNotFound
	}
	keyCopy := *m.apiKeys[id]
	return &keyCopy, nil
}

// GetAPIKeyByID retrieves a key by its ID.
func (m *MemoryStorage) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, exists := m.apiKeys[id]
	if !exists {
		return nil, ErrNotFound
	}
	keyCopy := *key
	return &keyCopy, nil
}

// ListAPIKeys returns all keys for a tenant, newest first.
func (m *MemoryStorage) ListAPIKeys(ctx context.Context, tenantID string) ([]*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]*models.APIKey, 0)
	for _, key := range m.apiKeys {
		if key.TenantID != tenantID {
			continue
		}
		keyCopy := *key
		keys = append(keys, &keyCopy)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[j].CreatedAt.Before(keys[i].CreatedAt)
	})
	return keys, nil
}

// CreateAPIKey stores a new key record.
func (m *MemoryStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keyCopy := *key
	m.apiKeys[key.ID] = &keyCopy
	m.apiKeyHashes[key.KeyHash] = key.ID
	return nil
}

// UpdateAPIKey persists changes to an existing key. Rotation changes the
// hash, so the hash index is rebuilt for the record.
func (m *MemoryStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, exists := m.apiKeys[key.ID]
	if !exists {
		return ErrNotFound
	}
	if old.KeyHash != key.KeyHash {
		delete(m.apiKeyHashes, old.KeyHash)
		m.apiKeyHashes[key.KeyHash] = key.ID
	}
	keyCopy := *key
	m.apiKeys[key.ID] = &keyCopy
	return nil
}

// RecordAPIKeyUsage appends a usage record and refreshes last-used.
func (m *MemoryStorage) RecordAPIKeyUsage(ctx context.Context, usage *models.APIKeyUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	usageCopy := *usage
	if usageCopy.ID == "" {
		usageCopy.ID = uuid.New().String()
	}
	m.usage = append(m.usage, &usageCopy)

	if key, exists := m.apiKeys[usage.APIKeyID]; exists {
		at := usageCopy.CreatedAt
		key.LastUsedAt = &at
	}
	return nil
}

// TouchAPIKey updates the key's last-used timestamp.
func (m *MemoryStorage) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, exists := m.apiKeys[id]
	if !exists {
		return ErrNotFound
	}
	key.LastUsedAt = &usedAt
	return nil
}

// UsageRecords returns a snapshot of recorded usage. Test helper.
func (m *MemoryStorage) UsageRecords() []*models.APIKeyUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.APIKeyUsage, len(m.usage))
	for i, u := range m.usage {
		uCopy := *u
		out[i] = &uCopy
	}
	return out
}

// GetProfileTenant resolves a user to their tenant.
func (m *MemoryStorage) GetProfileTenant(ctx context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenantID, exists := m.profiles[userID]
	if !exists {
		return "", ErrNotFound
	}
	return tenantID, nil
}

// SaveProfile stores a user -> tenant mapping.
func (m *MemoryStorage) SaveProfile(ctx context.Context, userID, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profiles[userID] = tenantID
	return nil
}

// Assets returns all assets for a tenant, newest first.
func (m *MemoryStorage) Assets(ctx context.Context, tenantID string) ([]*models.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	assets := make([]*models.Asset, 0)
	for _, asset := range m.assets[tenantID] {
		assetCopy := *asset
		assets = append(assets, &assetCopy)
	}
	sort.Slice(assets, func(i, j int) bool {
		return assets[j].CreatedAt.Before(assets[i].CreatedAt)
	})
	return assets, nil
}

// GetAsset retrieves a tenant's asset by ID.
func (m *MemoryStorage) GetAsset(ctx context.Context, tenantID, id string) (*models.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	asset, exists := m.assets[tenantID][id]
	if !exists {
		return nil, ErrNotFound
	}
	assetCopy := *asset
	return &assetCopy, nil
}

// SaveAsset stores or updates an asset.
func (m *MemoryStorage) SaveAsset(ctx context.Context, asset *models.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.assets[asset.TenantID] == nil {
		m.assets[asset.TenantID] = make(map[string]*models.Asset)
	}
	assetCopy := *asset
	m.assets[asset.TenantID][asset.ID] = &assetCopy
	return nil
}

// DeleteAsset removes a tenant's asset.
func (m *MemoryStorage) DeleteAsset(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.assets[tenantID][id]; !exists {
		return ErrNotFound
	}
	delete(m.assets[tenantID], id)
	return nil
}

// Ping always succeeds for memory storage.
func (m *MemoryStorage) Ping(ctx context.Context) error { return nil }

// Close is a no-op for memory storage.
func (m *MemoryStorage) Close() error { return nil }
