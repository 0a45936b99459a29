package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"assetgate/internal/models"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables.
// Precedence: defaults < YAML file < ASSETGATE_* environment variables.
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	if port := os.Getenv("ASSETGATE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("ASSETGATE_HOST"); host != "" {
		config.Server.Host = host
	}
	if timeout := os.Getenv("ASSETGATE_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.ReadTimeout = d
		}
	}
	if timeout := os.Getenv("ASSETGATE_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.WriteTimeout = d
		}
	}
	if timeout := os.Getenv("ASSETGATE_IDLE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.IdleTimeout = d
		}
	}
	if tls := os.Getenv("ASSETGATE_TLS_ENABLED"); tls != "" {
		config.Server.TLSEnabled = strings.ToLower(tls) == "true"
	}
	if certFile := os.Getenv("ASSETGATE_TLS_CERT_FILE"); certFile != "" {
		config.Server.TLSCertFile = certFile
	}
	if keyFile := os.Getenv("ASSETGATE_TLS_KEY_FILE"); keyFile != "" {
		config.Server.TLSKeyFile = keyFile
	}

	// Storage configuration
	if storageType := os.Getenv("ASSETGATE_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if dsn := os.Getenv("ASSETGATE_DATABASE_DSN"); dsn != "" {
		config.Storage.Database.DSN = dsn
	}
	if maxOpen := os.Getenv("ASSETGATE_DATABASE_MAX_OPEN_CONNS"); maxOpen != "" {
		if conns, err := strconv.Atoi(maxOpen); err == nil {
			config.Storage.Database.MaxOpenConns = conns
		}
	}
	if maxIdle := os.Getenv("ASSETGATE_DATABASE_MAX_IDLE_CONNS"); maxIdle != "" {
		if conns, err := strconv.Atoi(maxIdle); err == nil {
			config.Storage.Database.MaxIdleConns = conns
		}
	}

	// Security configuration
	if auth := os.Getenv("ASSETGATE_ENABLE_AUTH"); auth != "" {
		config.Security.EnableAuth = strings.ToLower(auth) == "true"
	}
	if bk := os.Getenv("ASSETGATE_BOOTSTRAP_KEY"); bk != "" {
		config.Security.BootstrapKey = bk
	}
	if tenant := os.Getenv("ASSETGATE_BOOTSTRAP_TENANT"); tenant != "" {
		config.Security.BootstrapTenant = tenant
	}
	if user := os.Getenv("ASSETGATE_BOOTSTRAP_USER"); user != "" {
		config.Security.BootstrapUser = user
	}

	// Counter store configuration. The two opaque connection parameters of
	// the shared counter service; absence switches the service to fallback
	// mode without failing startup.
	if url := os.Getenv("ASSETGATE_COUNTER_STORE_URL"); url != "" {
		config.CounterStore.URL = url
	}
	if token := os.Getenv("ASSETGATE_COUNTER_STORE_TOKEN"); token != "" {
		config.CounterStore.Token = token
	}
	if timeout := os.Getenv("ASSETGATE_COUNTER_STORE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.CounterStore.Timeout = d
		}
	}

	// Rate limiting
	if enabled := os.Getenv("ASSETGATE_RATE_LIMIT_ENABLED"); enabled != "" {
		config.RateLimit.Enabled = strings.ToLower(enabled) == "true"
	}

	// Logging configuration
	if level := os.Getenv("ASSETGATE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("ASSETGATE_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("ASSETGATE_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}
	if filePath := os.Getenv("ASSETGATE_LOG_FILE_PATH"); filePath != "" {
		config.Logging.FilePath = filePath
	}

	// Metrics configuration
	if metrics := os.Getenv("ASSETGATE_METRICS_ENABLED"); metrics != "" {
		config.Metrics.Enabled = strings.ToLower(metrics) == "true"
	}
	if path := os.Getenv("ASSETGATE_METRICS_PATH"); path != "" {
		config.Metrics.Path = path
	}
	if port := os.Getenv("ASSETGATE_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = p
		}
	}

	// Observability configuration
	if name := os.Getenv("ASSETGATE_SERVICE_NAME"); name != "" {
		config.Observability.ServiceName = name
	}
	if tracing := os.Getenv("ASSETGATE_TRACING_ENABLED"); tracing != "" {
		config.Observability.Tracing.Enabled = strings.ToLower(tracing) == "true"
	}
	if exporter := os.Getenv("ASSETGATE_TRACE_EXPORTER"); exporter != "" {
		config.Observability.Tracing.Exporter = exporter
	}
	if endpoint := os.Getenv("ASSETGATE_OTLP_ENDPOINT"); endpoint != "" {
		config.Observability.Tracing.OTLPEndpoint = endpoint
	}
}
