package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// StoreMetrics records vector store operations by backend and operation.
type StoreMetrics interface {
	RecordStoreOp(ctx context.Context, backend, operation string, duration time.Duration, err error)
}

type storeMetrics struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewStoreMetrics creates StoreMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewStoreMetrics(meter metric.Meter) (StoreMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	ops, err := meter.Int64Counter(
		MetricNameStoreOperations,
		metric.WithDescription("Vector store operations by backend, operation, and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create store operations counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameStoreDuration,
		metric.WithDescription("Vector store operation duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create store duration histogram: %w", err)
	}

	return &storeMetrics{operations: ops, duration: duration}, nil
}

func (m *storeMetrics) RecordStoreOp(ctx context.Context, backend, operation string, duration time.Duration, err error) {
	op := NormalizeReason(operation, AllowedStoreOperations)
	m.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrBackend, backend),
		attribute.String(AttrOperation, op),
		attribute.String(AttrStatus, StatusFromError(err)),
	))
	m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrBackend, backend),
		attribute.String(AttrOperation, op),
	))
}
