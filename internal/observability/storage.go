package observability

import (
	"context"
	"time"

	"assetgate/internal/models"
	"assetgate/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage creates a storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("assetgate/storage")
	meter := otel.Meter("assetgate/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	ctx, span := s.startSpan(ctx, "GetAPIKeyByHash")
	start := time.Now()
	result, err := s.inner.GetAPIKeyByHash(ctx, hash)
	s.record(ctx, span, "GetAPIKeyByHash", start, err)
	return result, err
}

func (s *InstrumentedStorage) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	ctx, span := s.startSpan(ctx, "GetAPIKeyByID", attribute.String("api_key.id", id))
	start := time.Now()
	result, err := s.inner.GetAPIKeyByID(ctx, id)
	s.record(ctx, span, "GetAPIKeyByID", start, err)
	return result, err
}

func (s *InstrumentedStorage) ListAPIKeys(ctx context.Context, tenantID string) ([]*models.APIKey, error) {
	ctx, span := s.startSpan(ctx, "ListAPIKeys", attribute.String("tenant.id", tenantID))
	start := time.Now()
	result, err := s.inner.ListAPIKeys(ctx, tenantID)
	s.record(ctx, span, "ListAPIKeys", start, err)
	return result, err
}

func (s *InstrumentedStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	ctx, span := s.startSpan(ctx, "CreateAPIKey", attribute.String("api_key.id", key.ID))
	start := time.Now()
	err := s.inner.CreateAPIKey(ctx, key)
	s.record(ctx, span, "CreateAPIKey", start, err)
	return err
}

func (s *InstrumentedStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	ctx, span := s.startSpan(ctx, "UpdateAPIKey", attribute.String("api_key.id", key.ID))
	start := time.Now()
	err := s.inner.UpdateAPIKey(ctx, key)
	s.record(ctx, span, "UpdateAPIKey", start, err)
	return err
}

func (s *InstrumentedStorage) RecordAPIKeyUsage(ctx context.Context, usage *models.APIKeyUsage) error {
	ctx, span := s.startSpan(ctx, "RecordAPIKeyUsage", attribute.String("api_key.id", usage.APIKeyID))
	start := time.Now()
	err := s.inner.RecordAPIKeyUsage(ctx, usage)
	s.record(ctx, span, "RecordAPIKeyUsage", start, err)
	return err
}

func (s *InstrumentedStorage) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	ctx, span := s.startSpan(ctx, "TouchAPIKey", attribute.String("api_key.id", id))
	start := time.Now()
	err := s.inner.TouchAPIKey(ctx, id, usedAt)
	s.record(ctx, span, "TouchAPIKey", start, err)
	return err
}

func (s *InstrumentedStorage) GetProfileTenant(ctx context.Context, userID string) (string, error) {
	ctx, span := s.startSpan(ctx, "GetProfileTenant")
	start := time.Now()
	result, err := s.inner.GetProfileTenant(ctx, userID)
	s.record(ctx, span, "GetProfileTenant", start, err)
	return result, err
}

func (s *InstrumentedStorage) SaveProfile(ctx context.Context, userID, tenantID string) error {
	ctx, span := s.startSpan(ctx, "SaveProfile", attribute.String("tenant.id", tenantID))
	start := time.Now()
	err := s.inner.SaveProfile(ctx, userID, tenantID)
	s.record(ctx, span, "SaveProfile", start, err)
	return err
}

func (s *InstrumentedStorage) Assets(ctx context.Context, tenantID string) ([]*models.Asset, error) {
	ctx, span := s.startSpan(ctx, "Assets", attribute.String("tenant.id", tenantID))
	start := time.Now()
	result, err := s.inner.Assets(ctx, tenantID)
	s.record(ctx, span, "Assets", start, err)
	return result, err
}

func (s *InstrumentedStorage) GetAsset(ctx context.Context, tenantID, id string) (*models.Asset, error) {
	ctx, span := s.startSpan(ctx, "GetAsset", attribute.String("asset.id", id))
	start := time.Now()
	result, err := s.inner.GetAsset(ctx, tenantID, id)
	s.record(ctx, span, "GetAsset", start, err)
	return result, err
}

func (s *InstrumentedStorage) SaveAsset(ctx context.Context, asset *models.Asset) error {
	ctx, span := s.startSpan(ctx, "SaveAsset", attribute.String("asset.id", asset.ID))
	start := time.Now()
	err := s.inner.SaveAsset(ctx, asset)
	s.record(ctx, span, "SaveAsset", start, err)
	return err
}

func (s *InstrumentedStorage) DeleteAsset(ctx context.Context, tenantID, id string) error {
	ctx, span := s.startSpan(ctx, "DeleteAsset", attribute.String("asset.id", id))
	start := time.Now()
	err := s.inner.DeleteAsset(ctx, tenantID, id)
	s.record(ctx, span, "DeleteAsset", start, err)
	return err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
