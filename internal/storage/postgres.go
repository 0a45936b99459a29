package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"assetgate/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage implements the Storage interface backed by PostgreSQL.
// This is the production backend: it is safe across multiple service
// instances and keeps the full usage audit trail.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	name           TEXT NOT NULL,
	key_hash       TEXT NOT NULL UNIQUE,
	prefix         TEXT NOT NULL,
	scopes         JSONB NOT NULL DEFAULT '[]',
	permissions    JSONB NOT NULL DEFAULT '{}',
	allowed_ips    JSONB NOT NULL DEFAULT '[]',
	rate_limit     INTEGER NOT NULL DEFAULT 0,
	rate_window_s  INTEGER NOT NULL DEFAULT 0,
	expires_at     TIMESTAMPTZ,
	revoked_at     TIMESTAMPTZ,
	revoked_reason TEXT NOT NULL DEFAULT '',
	last_used_at   TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
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
	created_at TIMESTAMPTZ NOT NULL
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
	metadata    JSONB NOT NULL DEFAULT '{}',
	created_by  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
`

// NewPostgresStorage connects to PostgreSQL, verifies the connection, and
// ensures the schema exists.
func NewPostgresStorage(cfg models.DatabaseConfig) (*PostgresStorage, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize postgres schema: %w", err)
	}
	return &PostgresStorage{pool: pool}, nil
}

const pgKeyColumns = `id, tenant_id, user_id, name, key_hash, prefix,
	scopes, permissions, allowed_ips, rate_limit, rate_window_s,
	expires_at, revoked_at, revoked_reason, last_used_at, created_at, updated_at`

func (p *PostgresStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+pgKeyColumns+` FROM api_keys WHERE key_hash = $1`, hash)
	return scanPgAPIKey(row)
}

func (p *PostgresStorage) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+pgKeyColumns+` FROM api_keys WHERE id = $1`, id)
	return scanPgAPIKey(row)
}

func (p *PostgresStorage) ListAPIKeys(ctx context.Context, tenantID string) ([]*models.APIKey, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgKeyColumns+` FROM api_keys WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		key, err := scanPgAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (p *PostgresStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	scopes, permissions, allowedIPs, err := marshalKeyFields(key)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO api_keys (`+pgKeyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		key.ID, key.TenantID, key.UserID, key.Name, key.KeyHash, key.Prefix,
		scopes, permissions, allowedIPs, key.RateLimit, key.RateLimitSecs,
		key.ExpiresAt, key.RevokedAt, key.RevokedReason, key.LastUsedAt,
		key.CreatedAt, key.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (p *PostgresStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	scopes, permissions, allowedIPs, err := marshalKeyFields(key)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE api_keys SET
			name = $1, key_hash = $2, prefix = $3, scopes = $4, permissions = $5,
			allowed_ips = $6, rate_limit = $7, rate_window_s = $8, expires_at = $9,
			revoked_at = $10, revoked_reason = $11, last_used_at = $12, updated_at = $13
		WHERE id = $14`,
		key.Name, key.KeyHash, key.Prefix, scopes, permissions,
		allowedIPs, key.RateLimit, key.RateLimitSecs, key.ExpiresAt,
		key.RevokedAt, key.RevokedReason, key.LastUsedAt, key.UpdatedAt,
		key.ID)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStorage) RecordAPIKeyUsage(ctx context.Context, usage *models.APIKeyUsage) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO api_key_usage (id, tenant_id, api_key_id, endpoint, method, ip_address, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		usage.ID, usage.TenantID, usage.APIKeyID, usage.Endpoint, usage.Method,
		usage.IPAddress, usage.Outcome, usage.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record api key usage: %w", err)
	}
	return p.TouchAPIKey(ctx, usage.APIKeyID, usage.CreatedAt)
}

func (p *PostgresStorage) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, usedAt, id)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

func (p *PostgresStorage) GetProfileTenant(ctx context.Context, userID string) (string, error) {
	var tenantID string
	err := p.pool.QueryRow(ctx,
		`SELECT tenant_id FROM profiles WHERE user_id = $1`, userID).Scan(&tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get profile: %w", err)
	}
	return tenantID, nil
}

func (p *PostgresStorage) SaveProfile(ctx context.Context, userID, tenantID string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO profiles (user_id, tenant_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id`,
		userID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

const pgAssetColumns = `id, tenant_id, name, category, status, assigned_to,
	metadata, created_by, created_at, updated_at`

func (p *PostgresStorage) Assets(ctx context.Context, tenantID string) ([]*models.Asset, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgAssetColumns+` FROM assets WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []*models.Asset
	for rows.Next() {
		asset, err := scanPgAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func (p *PostgresStorage) GetAsset(ctx context.Context, tenantID, id string) (*models.Asset, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+pgAssetColumns+` FROM assets WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanPgAsset(row)
}

func (p *PostgresStorage) SaveAsset(ctx context.Context, asset *models.Asset) error {
	metadata, err := json.Marshal(asset.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal asset metadata: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO assets (`+pgAssetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = EXCLUDED.name, category = EXCLUDED.category,
			status = EXCLUDED.status, assigned_to = EXCLUDED.assigned_to,
			metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at`,
		asset.ID, asset.TenantID, asset.Name, asset.Category, asset.Status,
		asset.AssignedTo, string(metadata), asset.CreatedBy,
		asset.CreatedAt, asset.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save asset: %w", err)
	}
	return nil
}

func (p *PostgresStorage) DeleteAsset(ctx context.Context, tenantID, id string) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM assets WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStorage) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStorage) Close() error {
	p.pool.Close()
	return nil
}

func scanPgAPIKey(row pgx.Row) (*models.APIKey, error) {
	var (
		key                             models.APIKey
		scopes, permissions, allowedIPs []byte
	)
	err := row.Scan(
		&key.ID, &key.TenantID, &key.UserID, &key.Name, &key.KeyHash, &key.Prefix,
		&scopes, &permissions, &allowedIPs, &key.RateLimit, &key.RateLimitSecs,
		&key.ExpiresAt, &key.RevokedAt, &key.RevokedReason, &key.LastUsedAt,
		&key.CreatedAt, &key.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan api key: %w", err)
	}
	if err := json.Unmarshal(scopes, &key.Scopes); err != nil {
		return nil, fmt.Errorf("failed to decode scopes: %w", err)
	}
	if err := json.Unmarshal(permissions, &key.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions: %w", err)
	}
	if err := json.Unmarshal(allowedIPs, &key.AllowedIPs); err != nil {
		return nil, fmt.Errorf("failed to decode allowed ips: %w", err)
	}
	return &key, nil
}

func scanPgAsset(row pgx.Row) (*models.Asset, error) {
	var (
		asset    models.Asset
		metadata []byte
	)
	err := row.Scan(
		&asset.ID, &asset.TenantID, &asset.Name, &asset.Category, &asset.Status,
		&asset.AssignedTo, &metadata, &asset.CreatedBy,
		&asset.CreatedAt, &asset.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan asset: %w", err)
	}
	if err := json.Unmarshal(metadata, &asset.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode asset metadata: %w", err)
	}
	return &asset, nil
}
