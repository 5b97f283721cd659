package knowledge

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/triaged/internal/knowledge"

// Metrics holds knowledge store instrumentation.
type Metrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	upsertDuration metric.Float64Histogram
	upsertChunks   metric.Int64Counter
	searchDuration metric.Float64Histogram
	errors         metric.Int64Counter
}

// NewMetrics creates store metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.upsertDuration, err = m.meter.Float64Histogram(
		"triaged.knowledge.upsert_duration_seconds",
		metric.WithDescription("Duration of chunk upserts, labeled by backend (memory, qdrant)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		m.logger.Warn("failed to create upsert duration histogram", zap.Error(err))
	}

	m.upsertChunks, err = m.meter.Int64Counter(
		"triaged.knowledge.upserted_chunks_total",
		metric.WithDescription("Total chunks written to the knowledge store"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		m.logger.Warn("failed to create upsert counter", zap.Error(err))
	}

	m.searchDuration, err = m.meter.Float64Histogram(
		"triaged.knowledge.search_duration_seconds",
		metric.WithDescription("Duration of similarity searches, labeled by backend"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		m.logger.Warn("failed to create search duration histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"triaged.knowledge.errors_total",
		metric.WithDescription("Knowledge store operation failures, labeled by backend and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create error counter", zap.Error(err))
	}
}

// RecordUpsert records one upsert call.
func (m *Metrics) RecordUpsert(ctx context.Context, backend string, chunks int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("backend", backend))
	if m.upsertDuration != nil {
		m.upsertDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if err != nil {
		if m.errors != nil {
			m.errors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("backend", backend),
				attribute.String("operation", "upsert"),
			))
		}
		return
	}
	if m.upsertChunks != nil {
		m.upsertChunks.Add(ctx, int64(chunks), attrs)
	}
}

// RecordSearch records one search call.
func (m *Metrics) RecordSearch(ctx context.Context, backend string, duration time.Duration, err error) {
	if m.searchDuration != nil {
		m.searchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("backend", backend)))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("operation", "search"),
		))
	}
}
