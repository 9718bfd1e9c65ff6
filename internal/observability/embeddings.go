package observability

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InferenceMetrics records calls to the remote embedding generator.
type InferenceMetrics interface {
	RecordInference(ctx context.Context, provider string, duration time.Duration, err error)
}

type inferenceMetrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewInferenceMetrics creates InferenceMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewInferenceMetrics(meter metric.Meter) (InferenceMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	calls, err := meter.Int64Counter(
		MetricNameInferenceCalls,
		metric.WithDescription("Embedding inference calls by provider and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create inference calls counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameInferenceDuration,
		metric.WithDescription("Embedding inference duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create inference duration histogram: %w", err)
	}

	return &inferenceMetrics{calls: calls, duration: duration}, nil
}

func (m *inferenceMetrics) RecordInference(ctx context.Context, provider string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String(AttrProvider, provider),
		attribute.String(AttrStatus, StatusFromError(err)),
	)
	m.calls.Add(ctx, 1, attrs)
	m.duration.Record(ctx, duration.Seconds(), attrs)
}

// JobMetrics records background embedding job metrics (enqueue, worker outcome, queue depth).
// Methods accept ctx for future exemplar support.
type JobMetrics interface {
	RecordJobsEnqueued(ctx context.Context, count int64)
	RecordJobOutcome(ctx context.Context, status string, duration time.Duration)
	SetRiverQueueDepth(depth int)
}

type jobMetrics struct {
	enqueued        metric.Int64Counter
	outcomes        metric.Int64Counter
	duration        metric.Float64Histogram
	riverQueueDepth atomic.Int64
}

// NewJobMetrics creates JobMetrics and registers the queue depth gauge.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewJobMetrics(meter metric.Meter) (JobMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	enqueued, err := meter.Int64Counter(
		MetricNameEmbeddingJobsEnqueued,
		metric.WithDescription("Total embedding jobs enqueued"),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding jobs enqueued counter: %w", err)
	}

	outcomes, err := meter.Int64Counter(
		MetricNameEmbeddingJobOutcomes,
		metric.WithDescription("Total embedding job outcomes by status (success, retry, failed_final)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding job outcomes counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameEmbeddingJobDuration,
		metric.WithDescription("Embedding job duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding job duration histogram: %w", err)
	}

	m := &jobMetrics{enqueued: enqueued, outcomes: outcomes, duration: duration}

	_, err = meter.Int64ObservableGauge(
		MetricNameRiverQueueDepth,
		metric.WithDescription("Available, retryable, and scheduled jobs in the embedding queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.riverQueueDepth.Load())

			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create river queue depth gauge: %w", err)
	}

	return m, nil
}

func (m *jobMetrics) RecordJobsEnqueued(ctx context.Context, count int64) {
	m.enqueued.Add(ctx, count)
}

func (m *jobMetrics) RecordJobOutcome(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String(AttrStatus, NormalizeStatus(status)))
	m.outcomes.Add(ctx, 1, attrs)
	m.duration.Record(ctx, duration.Seconds(), attrs)
}

func (m *jobMetrics) SetRiverQueueDepth(depth int) {
	m.riverQueueDepth.Store(int64(depth))
}
