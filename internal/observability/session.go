package observability

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SessionMetrics records browse/search session activity.
type SessionMetrics interface {
	RecordQueryIssued(ctx context.Context, mode, kind string)
	RecordStaleDiscard(ctx context.Context, mode string)
	SetActiveSessions(n int)
}

type sessionMetrics struct {
	queries       metric.Int64Counter
	staleDiscards metric.Int64Counter
	active        atomic.Int64
}

// NewSessionMetrics creates SessionMetrics and registers the active-sessions gauge.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewSessionMetrics(meter metric.Meter) (SessionMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	queries, err := meter.Int64Counter(
		MetricNameSessionQueries,
		metric.WithDescription("Remote requests issued by sessions (mode browse|search, kind initial|more)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create session queries counter: %w", err)
	}

	stale, err := meter.Int64Counter(
		MetricNameSessionStaleDiscards,
		metric.WithDescription("Responses discarded because a newer query was issued"),
	)
	if err != nil {
		return nil, fmt.Errorf("create session stale discards counter: %w", err)
	}

	m := &sessionMetrics{queries: queries, staleDiscards: stale}

	_, err = meter.Int64ObservableGauge(
		MetricNameSessionsActive,
		metric.WithDescription("Sessions currently held in the registry"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.active.Load())

			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create sessions active gauge: %w", err)
	}

	return m, nil
}

func (m *sessionMetrics) RecordQueryIssued(ctx context.Context, mode, kind string) {
	m.queries.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrMode, NormalizeReason(mode, AllowedSessionModes)),
		attribute.String(AttrKind, kind),
	))
}

func (m *sessionMetrics) RecordStaleDiscard(ctx context.Context, mode string) {
	m.staleDiscards.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrMode, NormalizeReason(mode, AllowedSessionModes)),
	))
}

func (m *sessionMetrics) SetActiveSessions(n int) {
	m.active.Store(int64(n))
}
