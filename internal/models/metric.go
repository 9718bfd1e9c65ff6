package models

import (
	"fmt"
	"strings"

	"github.com/mediaembed/gallery/internal/galleryerrors"
)

// Metric selects the distance function for nearest-neighbor queries. Values match the hosted
// store's distance_type names; smaller is more similar for all three.
type Metric string

const (
	// MetricL2 is the squared Euclidean distance.
	MetricL2 Metric = "l2"
	// MetricCosine is 1 - cosine similarity, in [0, 2].
	MetricCosine Metric = "cosine"
	// MetricDot is 1 - a·b. Negative for unnormalized vectors with a large inner product.
	MetricDot Metric = "dot"
)

// IsValid reports whether m is a supported metric.
func (m Metric) IsValid() bool {
	switch m {
	case MetricL2, MetricCosine, MetricDot:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (m Metric) String() string {
	return string(m)
}

// ParseMetric parses a metric name. "euclidean" is accepted as an alias for l2.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricL2, MetricCosine, MetricDot:
		return m, nil
	case "euclidean":
		return MetricL2, nil
	default:
		return "", galleryerrors.NewInvalidArgumentError("metric", fmt.Sprintf("unsupported metric %q (want l2, cosine, or dot)", s))
	}
}
