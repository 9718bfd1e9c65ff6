package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CacheMetrics counts lookups against the record and media-probe caches.
type CacheMetrics interface {
	RecordLookup(ctx context.Context, cacheName string, hit bool)
}

type cacheMetrics struct {
	lookups metric.Int64Counter
}

// NewCacheMetrics creates CacheMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewCacheMetrics(meter metric.Meter) (CacheMetrics, error) {
	if meter == nil {
		//nolint:nilnil // callers check for nil when metrics are disabled
		return nil, nil
	}

	lookups, err := meter.Int64Counter(
		MetricNameCacheLookups,
		metric.WithDescription("Cache lookups by cache (record_by_id, media_probe) and result (hit, miss). "+
			"A miss triggers a load from the store or a media header read."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache lookups counter: %w", err)
	}

	return &cacheMetrics{lookups: lookups}, nil
}

func (c *cacheMetrics) RecordLookup(ctx context.Context, cacheName string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}

	c.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrCache, NormalizeCacheName(cacheName)),
		attribute.String(AttrResult, result),
	))
}
