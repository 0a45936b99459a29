package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"assetgate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, models.StorageTypeMemory, cfg.Storage.Type)
	assert.True(t, cfg.Security.EnableAuth)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.False(t, cfg.CounterStore.Configured(), "no counter store by default")

	// The default policy table covers auth endpoints more strictly than the
	// API catch-all.
	resolver := cfg.RateLimit.SortedPolicies()
	require.NotEmpty(t, resolver)
	assert.Equal(t, "/api", resolver[len(resolver)-1].PathPrefix)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  port: 9999
counter_store:
  url: redis://counters.internal:6379/0
  token: s3cret
rate_limit:
  enabled: true
  policies:
    - path_prefix: /api/auth/login
      limit: 3
      window_seconds: 30
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.True(t, cfg.CounterStore.Configured())
	assert.Equal(t, "s3cret", cfg.CounterStore.Token)
	require.Len(t, cfg.RateLimit.Policies, 1)
	assert.Equal(t, uint(3), cfg.RateLimit.Policies[0].Limit)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ASSETGATE_PORT", "7070")
	t.Setenv("ASSETGATE_STORAGE_TYPE", "sqlite")
	t.Setenv("ASSETGATE_DATABASE_DSN", "file:test.db")
	t.Setenv("ASSETGATE_COUNTER_STORE_URL", "redis://env-host:6379")
	t.Setenv("ASSETGATE_COUNTER_STORE_TIMEOUT", "500ms")
	t.Setenv("ASSETGATE_ENABLE_AUTH", "false")
	t.Setenv("ASSETGATE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, models.StorageTypeSQLite, cfg.Storage.Type)
	assert.Equal(t, "file:test.db", cfg.Storage.Database.DSN)
	assert.Equal(t, "redis://env-host:6379", cfg.CounterStore.URL)
	assert.Equal(t, 500*time.Millisecond, cfg.CounterStore.Timeout)
	assert.False(t, cfg.Security.EnableAuth)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidationRejectsBadConfig(t *testing.T) {
	t.Run("bad port", func(t *testing.T) {
		t.Setenv("ASSETGATE_PORT", "99999")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("database storage without DSN", func(t *testing.T) {
		t.Setenv("ASSETGATE_STORAGE_TYPE", "postgres")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("bad log level", func(t *testing.T) {
		t.Setenv("ASSETGATE_LOG_LEVEL", "verbose")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("policy without leading slash", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		data := `
rate_limit:
  policies:
    - path_prefix: api/assets
      limit: 10
      window_seconds: 60
`
		require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("zero limit policy", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		data := `
rate_limit:
  policies:
    - path_prefix: /api
      limit: 0
      window_seconds: 60
`
		require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}
