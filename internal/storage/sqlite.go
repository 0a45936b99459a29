package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"assetgate/internal/models"

	_ "modernc.org/sqlite"
)

// SQLiteStorage implements the Storage interface backed by a SQLite database.
// Suitable for single-instance deployments; multi-instance deployments should
// use PostgreSQL.
type SQLiteStorage struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	name           TEXT NOT NULL,
	key_hash       TEXT NOT NULL UNIQUE,
	prefix         TEXT NOT NULL,
	scopes         TEXT NOT NULL DEFAULT '[]',
	permissions    TEXT NOT NULL DEFAULT '{}',
	allowed_ips    TEXT NOT NULL DEFAULT '[]',
	rate_limit     INTEGER NOT NULL DEFAULT 0,
	rate_window_s  INTEGER NOT NULL DEFAULT 0,
	expires_at     TIMESTAMP,
	revoked_at     TIMESTAMP,
	revoked_reason TEXT NOT NULL DEFAULT '',
	last_used_at   TIMESTAMP,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_keys_tenant ON api_keys(tenant_id);

CREATE TABLE IF NOT EXISTS api_key_usage (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	api_key_id TEXT NOT NULL,
	endpoint   TEXT NOT NULL,
	method     TEXT NOT NULL,
	ip_address TEXT NOT NULL,
	outcome    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_key_usage_key ON api_key_usage(api_key_id);

CREATE TABLE IF NOT EXISTS profiles (
	user_id   TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assets (
	id          TEXT NOT NULL,
	tenant_id   TEXT NOT NULL,
	name        TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT '',
	assigned_to TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_by  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
`

// NewSQLiteStorage opens the database at the configured DSN and ensures the
// schema exists.
func NewSQLiteStorage(cfg models.DatabaseConfig) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// modernc.org/sqlite serializes writes internally; a single connection
	// avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

const sqliteKeyColumns = `id, tenant_id, user_id, name, key_hash, prefix,
	scopes, permissions, allowed_ips, rate_limit, rate_window_s,
	expires_at, revoked_at, revoked_reason, last_used_at, created_at, updated_at`

func (s *SQLiteStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteKeyColumns+` FROM api_keys WHERE key_hash = ?`, hash)
	return scanAPIKey(row)
}

func (s *SQLiteStorage) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteKeyColumns+` FROM api_keys WHERE id = ?`, id)
	return scanAPIKey(row)
}

func (s *SQLiteStorage) ListAPIKeys(ctx context.Context, tenantID string) ([]*models.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteKeyColumns+` FROM api_keys WHERE tenant_id = ? ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	scopes, permissions, allowedIPs, err := marshalKeyFields(key)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (`+sqliteKeyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.TenantID, key.UserID, key.Name, key.KeyHash, key.Prefix,
		scopes, permissions, allowedIPs, key.RateLimit, key.RateLimitSecs,
		key.ExpiresAt, key.RevokedAt, key.RevokedReason, key.LastUsedAt,
		key.CreatedAt, key.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	scopes, permissions, allowedIPs, err := marshalKeyFields(key)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET
			name = ?, key_hash = ?, prefix = ?, scopes = ?, permissions = ?,
			allowed_ips = ?, rate_limit = ?, rate_window_s = ?, expires_at = ?,
			revoked_at = ?, revoked_reason = ?, last_used_at = ?, updated_at = ?
		WHERE id = ?`,
		key.Name, key.KeyHash, key.Prefix, scopes, permissions,
		allowedIPs, key.RateLimit, key.RateLimitSecs, key.ExpiresAt,
		key.RevokedAt, key.RevokedReason, key.LastUsedAt, key.UpdatedAt,
		key.ID)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) RecordAPIKeyUsage(ctx context.Context, usage *models.APIKeyUsage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_key_usage (id, tenant_id, api_key_id, endpoint, method, ip_address, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		usage.ID, usage.TenantID, usage.APIKeyID, usage.Endpoint, usage.Method,
		usage.IPAddress, usage.Outcome, usage.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record api key usage: %w", err)
	}
	return s.TouchAPIKey(ctx, usage.APIKeyID, usage.CreatedAt)
}

func (s *SQLiteStorage) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, usedAt, id)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetProfileTenant(ctx context.Context, userID string) (string, error) {
	var tenantID string
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id FROM profiles WHERE user_id = ?`, userID).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get profile: %w", err)
	}
	return tenantID, nil
}

func (s *SQLiteStorage) SaveProfile(ctx context.Context, userID, tenantID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, tenant_id) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET tenant_id = excluded.tenant_id`,
		userID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

const sqliteAssetColumns = `id, tenant_id, name, category, status, assigned_to,
	metadata, created_by, created_at, updated_at`

func (s *SQLiteStorage) Assets(ctx context.Context, tenantID string) ([]*models.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteAssetColumns+` FROM assets WHERE tenant_id = ? ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []*models.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func (s *SQLiteStorage) GetAsset(ctx context.Context, tenantID, id string) (*models.Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteAssetColumns+` FROM assets WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanAsset(row)
}

func (s *SQLiteStorage) SaveAsset(ctx context.Context, asset *models.Asset) error {
	metadata, err := json.Marshal(asset.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal asset metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assets (`+sqliteAssetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name, category = excluded.category,
			status = excluded.status, assigned_to = excluded.assigned_to,
			metadata = excluded.metadata, updated_at = excluded.updated_at`,
		asset.ID, asset.TenantID, asset.Name, asset.Category, asset.Status,
		asset.AssignedTo, string(metadata), asset.CreatedBy,
		asset.CreatedAt, asset.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save asset: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteAsset(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM assets WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	var (
		key                             models.APIKey
		scopes, permissions, allowedIPs string
	)
	err := row.Scan(
		&key.ID, &key.TenantID, &key.UserID, &key.Name, &key.KeyHash, &key.Prefix,
		&scopes, &permissions, &allowedIPs, &key.RateLimit, &key.RateLimitSecs,
		&key.ExpiresAt, &key.RevokedAt, &key.RevokedReason, &key.LastUsedAt,
		&key.CreatedAt, &key.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan api key: %w", err)
	}
	if err := json.Unmarshal([]byte(scopes), &key.Scopes); err != nil {
		return nil, fmt.Errorf("failed to decode scopes: %w", err)
	}
	if err := json.Unmarshal([]byte(permissions), &key.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions: %w", err)
	}
	if err := json.Unmarshal([]byte(allowedIPs), &key.AllowedIPs); err != nil {
		return nil, fmt.Errorf("failed to decode allowed ips: %w", err)
	}
	return &key, nil
}

func scanAsset(row rowScanner) (*models.Asset, error) {
	var (
		asset    models.Asset
		metadata string
	)
	err := row.Scan(
		&asset.ID, &asset.TenantID, &asset.Name, &asset.Category, &asset.Status,
		&asset.AssignedTo, &metadata, &asset.CreatedBy,
		&asset.CreatedAt, &asset.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan asset: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &asset.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode asset metadata: %w", err)
	}
	return &asset, nil
}

// marshalKeyFields serializes the slice/map fields of a key for storage in
// JSON text columns.
func marshalKeyFields(key *models.APIKey) (scopes, permissions, allowedIPs string, err error) {
	s, err := json.Marshal(key.Scopes)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal scopes: %w", err)
	}
	p, err := json.Marshal(key.Permissions)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal permissions: %w", err)
	}
	ips, err := json.Marshal(key.AllowedIPs)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal allowed ips: %w", err)
	}
	return string(s), string(p), string(ips), nil
}
