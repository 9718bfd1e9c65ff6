package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all gallery metric collectors. When metrics are disabled, all fields are nil.
// Components accept the corresponding interface field and already handle nil.
type Metrics struct {
	Inference InferenceMetrics
	Store     StoreMetrics
	Cache     CacheMetrics
	Sessions  SessionMetrics
	Jobs      JobMetrics
	API       APIMetrics
}

// NewMetrics creates every collector from the given meter.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	inference, err := NewInferenceMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("inference metrics: %w", err)
	}

	store, err := NewStoreMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("store metrics: %w", err)
	}

	cache, err := NewCacheMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("cache metrics: %w", err)
	}

	sessions, err := NewSessionMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("session metrics: %w", err)
	}

	jobs, err := NewJobMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("job metrics: %w", err)
	}

	api, err := NewAPIMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("api metrics: %w", err)
	}

	return &Metrics{
		Inference: inference,
		Store:     store,
		Cache:     cache,
		Sessions:  sessions,
		Jobs:      jobs,
		API:       api,
	}, nil
}
