package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/mediaembed/gallery/internal/galleryerrors"
)

func TestNormalizeReason(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		allowed  map[string]bool
		expected string
	}{
		{"known store op", "nearest_neighbors", AllowedStoreOperations, "nearest_neighbors"},
		{"unknown store op", "truncate", AllowedStoreOperations, "other"},
		{"known cache", "record_by_id", AllowedCacheNames, "record_by_id"},
		{"empty", "", AllowedSessionModes, "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeReason(tt.input, tt.allowed)
			if got != tt.expected {
				t.Errorf("NormalizeReason(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, "success"},
		{"invalid", galleryerrors.NewInvalidArgumentError("limit", ""), "invalid"},
		{"not found", galleryerrors.NewNotFoundError("embedding", "x"), "not_found"},
		{"dimension", galleryerrors.NewDimensionMismatchError(3, 2), "mismatch"},
		{"rejected", galleryerrors.NewInferenceRejectedError(400, ""), "rejected"},
		{"unavailable", galleryerrors.NewUnavailableError(galleryerrors.ServiceStore, nil), "unavailable"},
		{"plain", errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StatusFromError(tt.err))
		})
	}
}

func TestNewMetrics_NilMeter(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Aggregation{}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}

	return out
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)
	require.NotNil(t, m)

	ctx := context.Background()
	m.Store.RecordStoreOp(ctx, "memory", "insert", time.Millisecond, nil)
	m.Store.RecordStoreOp(ctx, "memory", "insert", time.Millisecond, galleryerrors.NewSchemaMismatchError(3, 2))
	m.Sessions.RecordStaleDiscard(ctx, "search")
	m.Sessions.SetActiveSessions(4)
	m.Jobs.SetRiverQueueDepth(7)
	m.Cache.RecordLookup(ctx, "record_by_id", true)
	m.Cache.RecordLookup(ctx, "record_by_id", false)
	m.Cache.RecordLookup(ctx, "thumbnails", false)

	data := collect(t, reader)

	ops, ok := data[MetricNameStoreOperations].(metricdata.Sum[int64])
	require.True(t, ok)

	var total int64
	for _, dp := range ops.DataPoints {
		total += dp.Value
	}

	assert.Equal(t, int64(2), total)
	assert.Len(t, ops.DataPoints, 2, "success and mismatch are separate series")

	stale, ok := data[MetricNameSessionStaleDiscards].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, stale.DataPoints, 1)
	assert.Equal(t, int64(1), stale.DataPoints[0].Value)

	active, ok := data[MetricNameSessionsActive].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, active.DataPoints, 1)
	assert.Equal(t, int64(4), active.DataPoints[0].Value)

	lookups, ok := data[MetricNameCacheLookups].(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, lookups.DataPoints, 3, "hit, miss, and other/miss")

	depth, ok := data[MetricNameRiverQueueDepth].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, depth.DataPoints, 1)
	assert.Equal(t, int64(7), depth.DataPoints[0].Value)
}

func TestParseTraceIDRatio(t *testing.T) {
	assert.InDelta(t, 0.5, parseTraceIDRatio("0.5"), 1e-9)
	assert.InDelta(t, defaultTraceIDRatio, parseTraceIDRatio(""), 1e-9)
	assert.InDelta(t, defaultTraceIDRatio, parseTraceIDRatio("2"), 1e-9)
}
