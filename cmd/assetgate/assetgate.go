package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assetgate/internal/api"
	"assetgate/internal/apikey"
	"assetgate/internal/config"
	"assetgate/internal/counter"
	"assetgate/internal/logger"
	"assetgate/internal/models"
	"assetgate/internal/observability"
	"assetgate/internal/ratelimit"
	"assetgate/internal/storage"
	"assetgate/internal/version"
)

var configFile = flag.String("config", "", "Path to configuration file")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize the shared counter store. A missing or unreachable store is
	// not fatal: the service runs in fallback mode and admission fails open.
	counterStore := initializeCounterStore(cfg)
	defer counterStore.Close()

	// Initialize storage
	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer storageInstance.Close()

	// Wrap storage with instrumentation if metrics are enabled
	var activeStorage storage.Storage = storageInstance
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	if err := seedBootstrapKey(context.Background(), activeStorage, cfg); err != nil {
		slog.Error("Failed to seed bootstrap key", "error", err)
		os.Exit(1)
	}

	// Wire the admission gate: policy resolver -> limiter -> authenticator.
	limiter := ratelimit.NewFixedWindowLimiter(counterStore)
	resolver := ratelimit.NewPolicyResolver(cfg.RateLimit.Policies)
	authenticator := apikey.NewAuthenticator(activeStorage, limiter, log)
	admission := api.NewAdmission(resolver, limiter, authenticator, cfg, log)

	handlers := api.NewHandlers(activeStorage, counterStore, log)

	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	router := api.SetupRoutes(handlers, admission, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "version", ver.Version)

		var err error
		if cfg.Server.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeCounterStore connects to the shared counter service, or returns
// the per-instance fallback store when it is unconfigured or unreachable.
// The fallback decision is made once at startup and logged once.
func initializeCounterStore(cfg *models.Config) counter.Store {
	if !cfg.CounterStore.Configured() {
		slog.Warn("counter store not configured, running in fallback mode; rate limits are per-instance only")
		return counter.NewFallbackStore()
	}

	store, err := counter.NewRedisStore(cfg.CounterStore)
	if err != nil {
		slog.Warn("counter store unreachable, running in fallback mode", "error", err)
		return counter.NewFallbackStore()
	}
	slog.Info("connected to counter store")
	return store
}

// seedBootstrapKey inserts the configured bootstrap key into storage if it
// does not already exist. It is a no-op when BootstrapKey is empty.
func seedBootstrapKey(ctx context.Context, store storage.Storage, cfg *models.Config) error {
	raw := cfg.Security.BootstrapKey
	if raw == "" {
		return nil
	}
	hash := models.HashAPIKey(raw)
	if _, err := store.GetAPIKeyByHash(ctx, hash); err == nil {
		// Already seeded - idempotent.
		return nil
	}
	key := models.NewAPIKey(
		models.NewKeyID(),
		cfg.Security.BootstrapTenant,
		cfg.Security.BootstrapUser,
		"bootstrap",
		raw,
		[]string{"*"},
		map[string][]string{"*": {"*"}},
	)
	if err := store.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("seed bootstrap key: %w", err)
	}
	slog.Info("bootstrap API key seeded", "id", key.ID, "prefix", key.Prefix)
	return nil
}
