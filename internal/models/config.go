// Package models - Service configuration.
// Hierarchical configuration with per-section validation and defaults that
// work out of the box. Values can be overridden from YAML and ASSETGATE_*
// environment variables (see internal/config).
package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	CounterStore  CounterStoreConfig  `yaml:"counter_store" json:"counter_store"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn" json:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns" json:"max_idle_conns"`
}

type SecurityConfig struct {
	EnableAuth bool `yaml:"enable_auth" json:"enable_auth"`
	// BootstrapKey is a plaintext key seeded at startup with full grants so a
	// fresh deployment can mint real keys. Idempotent; empty disables seeding.
	BootstrapKey string `yaml:"bootstrap_key" json:"bootstrap_key"`
	// BootstrapTenant/BootstrapUser identify the owner of the seeded key.
	BootstrapTenant string `yaml:"bootstrap_tenant" json:"bootstrap_tenant"`
	BootstrapUser   string `yaml:"bootstrap_user" json:"bootstrap_user"`
}

// CounterStoreConfig carries the two opaque connection parameters of the
// shared counter service. When URL is empty the service runs in fallback
// mode: rate-limit decisions fail open and quotas are per-instance only.
type CounterStoreConfig struct {
	URL     string        `yaml:"url" json:"url"`
	Token   string        `yaml:"token" json:"token"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// RateLimitPolicy maps a request path prefix to a fixed window. The entry
// with the longest matching prefix wins; paths matching no entry are not
// rate limited at all.
type RateLimitPolicy struct {
	PathPrefix    string `yaml:"path_prefix" json:"path_prefix"`
	Limit         uint   `yaml:"limit" json:"limit"`
	WindowSeconds uint   `yaml:"window_seconds" json:"window_seconds"`
}

type RateLimitConfig struct {
	Enabled  bool              `yaml:"enabled" json:"enabled"`
	Policies []RateLimitPolicy `yaml:"policies" json:"policies"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"` // stdout or otlp
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults.
// Auth endpoints get stricter windows than general CRUD; bulk/external API
// endpoints get their own category. The table is static configuration, not
// computed at runtime.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Database: DatabaseConfig{
				MaxOpenConns: 25,
				MaxIdleConns: 5,
			},
		},
		Security: SecurityConfig{
			EnableAuth:      true,
			BootstrapTenant: "bootstrap",
			BootstrapUser:   "bootstrap",
		},
		CounterStore: CounterStoreConfig{
			Timeout: 2 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Policies: []RateLimitPolicy{
				{PathPrefix: "/api/auth/login", Limit: 5, WindowSeconds: 60},
				{PathPrefix: "/api/auth/mfa", Limit: 10, WindowSeconds: 60},
				{PathPrefix: "/api/auth/sessions", Limit: 20, WindowSeconds: 60},
				{PathPrefix: "/api/auth/api-keys", Limit: 10, WindowSeconds: 60},
				{PathPrefix: "/api/settings/api-keys", Limit: 10, WindowSeconds: 60},
				{PathPrefix: "/api/assets", Limit: 100, WindowSeconds: 60},
				{PathPrefix: "/api/analytics", Limit: 50, WindowSeconds: 60},
				{PathPrefix: "/api/external", Limit: 30, WindowSeconds: 60},
				{PathPrefix: "/api/test-rate-limit", Limit: 10, WindowSeconds: 60},
				{PathPrefix: "/api", Limit: 60, WindowSeconds: 60},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "assetgate",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	if err := c.CounterStore.Validate(); err != nil {
		return fmt.Errorf("invalid counter store config: %w", err)
	}
	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}
	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}
	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
		return nil
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
}

func (rc *RateLimitConfig) Validate() error {
	for _, p := range rc.Policies {
		if !strings.HasPrefix(p.PathPrefix, "/") {
			return fmt.Errorf("policy path prefix must start with /: %q", p.PathPrefix)
		}
		if p.Limit == 0 {
			return fmt.Errorf("policy %s: limit must be positive", p.PathPrefix)
		}
		if p.WindowSeconds == 0 {
			return fmt.Errorf("policy %s: window must be positive", p.PathPrefix)
		}
	}
	return nil
}

// SortedPolicies returns the policies ordered by descending prefix length,
// the order the resolver evaluates them in.
func (rc *RateLimitConfig) SortedPolicies() []RateLimitPolicy {
	out := make([]RateLimitPolicy, len(rc.Policies))
	copy(out, rc.Policies)
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].PathPrefix) > len(out[j].PathPrefix)
	})
	return out
}

// Configured reports whether the shared counter store has connection
// parameters. Unconfigured deployments run in fallback mode.
func (cs *CounterStoreConfig) Configured() bool {
	return cs.URL != ""
}

func (cs *CounterStoreConfig) Validate() error {
	if cs.Timeout < 0 {
		return errors.New("counter store timeout cannot be negative")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}
	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}
	switch lc.Output {
	case "stdout", "stderr", "file":
	default:
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}
	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}
	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}
	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}
	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}
	return nil
}
