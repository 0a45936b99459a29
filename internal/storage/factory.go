package storage

import (
	"fmt"

	"assetgate/internal/models"
)

// Factory provides a centralized way to create storage instances based on
// configuration. This allows provider swapping without code changes.
type Factory struct{}

// NewFactory creates a new storage factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a storage provider based on the provided configuration.
// Supported providers:
//   - memory: In-memory storage (for testing/development)
//   - sqlite: SQLite database storage (single-instance deployments)
//   - postgres: PostgreSQL database storage (production-ready)
func (f *Factory) Create(config models.StorageConfig) (Storage, error) {
	switch config.Type {
	case models.StorageTypeMemory:
		return NewMemoryStorage(), nil
	case models.StorageTypeSQLite:
		return NewSQLiteStorage(config.Database)
	case models.StorageTypePostgres:
		return NewPostgresStorage(config.Database)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}

// GetSupportedProviders returns a list of all supported storage provider types
func (f *Factory) GetSupportedProviders() []string {
	return []string{models.StorageTypeMemory, models.StorageTypeSQLite, models.StorageTypePostgres}
}
