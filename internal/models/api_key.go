package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// KeyPrefix is the fixed prefix of every issued API key. A bare Authorization
// header value is only treated as a credential when it starts with this.
const KeyPrefix = "ak_"

// APIKey represents a stored API key. The raw secret is never persisted; only
// its SHA-256 hex hash and an 8-character display prefix are stored. Keys are
// soft-revoked (RevokedAt set) rather than deleted so the usage audit trail
// stays intact.
type APIKey struct {
	ID            string              `json:"id"`
	TenantID      string              `json:"tenant_id"`
	UserID        string              `json:"user_id"`
	Name          string              `json:"name"`
	KeyHash       string              `json:"key_hash"`
	Prefix        string              `json:"prefix"`
	Scopes        []string            `json:"scopes"`
	Permissions   map[string][]string `json:"permissions"` // resource -> actions
	AllowedIPs    []string            `json:"allowed_ips"` // exact IPs or IPv4 CIDR blocks
	RateLimit     uint                `json:"rate_limit_requests,omitempty"`
	RateLimitSecs uint                `json:"rate_limit_window_seconds,omitempty"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
	RevokedAt     *time.Time          `json:"revoked_at,omitempty"`
	RevokedReason string              `json:"revoked_reason,omitempty"`
	LastUsedAt    *time.Time          `json:"last_used_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// AuthContext is the result of a successful authentication. It lives for one
// request only and is never persisted.
type AuthContext struct {
	APIKey   *APIKey
	TenantID string
	UserID   string
}

// Usage outcomes. Every presentation of a known key is audited, denials
// included.
const (
	UsageAllowed         = "allowed"
	UsageDeniedRevoked   = "denied_revoked"
	UsageDeniedExpired   = "denied_expired"
	UsageDeniedIPBlocked = "denied_ip_blocked"
	UsageDeniedRateLimit = "denied_rate_limited"
	UsageDeniedPerms     = "denied_permissions"
)

// APIKeyUsage is a single audit record of a key being presented.
type APIKeyUsage struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	APIKeyID  string    `json:"api_key_id"`
	Endpoint  string    `json:"endpoint"`
	Method    string    `json:"method"`
	IPAddress string    `json:"ip_address"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

// NewAPIKey creates a new APIKey record from a raw key string.
func NewAPIKey(id, tenantID, userID, name, rawKey string, scopes []string, permissions map[string][]string) *APIKey {
	now := time.Now().UTC()
	prefix := rawKey
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	if permissions == nil {
		permissions = map[string][]string{}
	}
	return &APIKey{
		ID:          id,
		TenantID:    tenantID,
		UserID:      userID,
		Name:        name,
		KeyHash:     HashAPIKey(rawKey),
		Prefix:      prefix,
		Scopes:      scopes,
		Permissions: permissions,
		AllowedIPs:  []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// GenerateAPIKey produces a new random key in the format ak_<43 url-safe base64 chars>.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashAPIKey computes the SHA-256 hex digest of a raw API key. Lookups go
// through this digest so plaintext secrets are never stored or compared.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// NewKeyID generates a new UUID v4 for use as an APIKey ID.
func NewKeyID() string {
	return uuid.New().String()
}

// IsExpired reports whether the key's expiry, if set, has passed.
func (ak *APIKey) IsExpired(now time.Time) bool {
	return ak.ExpiresAt != nil && ak.ExpiresAt.Before(now)
}

// IsRevoked reports whether the key has been soft-revoked.
func (ak *APIKey) IsRevoked() bool {
	return ak.RevokedAt != nil
}

// HasScope reports whether the key carries the named scope. The "*" scope
// grants everything.
func (ak *APIKey) HasScope(required string) bool {
	for _, s := range ak.Scopes {
		if s == required || s == "*" {
			return true
		}
	}
	return false
}

// HasPermission checks a resource:action pair (e.g. "assets:read") against
// the key's permission map. A "*" action under a resource grants the whole
// resource; a "*" resource with a "*" action grants everything.
func (ak *APIKey) HasPermission(required string) bool {
	resource, action := splitPermission(required)
	for _, a := range ak.Permissions["*"] {
		if a == "*" {
			return true
		}
	}
	for _, a := range ak.Permissions[resource] {
		if a == action || a == "*" {
			return true
		}
	}
	return false
}

// IPAllowed reports whether ip is permitted by the key's allowlist. An empty
// allowlist permits every address. Entries may be exact IPs or CIDR blocks.
func (ak *APIKey) IPAllowed(ip string) bool {
	if len(ak.AllowedIPs) == 0 {
		return true
	}
	addr := net.ParseIP(ip)
	for _, entry := range ak.AllowedIPs {
		if entry == ip {
			return true
		}
		if addr == nil {
			continue
		}
		if _, cidr, err := net.ParseCIDR(entry); err == nil && cidr.Contains(addr) {
			return true
		}
	}
	return false
}

func splitPermission(p string) (resource, action string) {
	for i := 0; i < len(p); i++ {
		if p[i] == ':' {
			return p[:i], p[i+1:]
		}
	}
	return p, ""
}
