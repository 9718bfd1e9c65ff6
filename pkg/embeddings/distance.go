package embeddings

import (
	"fmt"
	"math"

	"github.com/mediaembed/gallery/internal/models"
)

// Dot returns the inner product of a and b. Vectors must have equal length.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}

	return sum
}

// SquaredL2 returns the squared Euclidean distance between a and b.
func SquaredL2(a, b []float32) float64 {
	var sum float64

	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}

	return sum
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are treated as maximally distant (1).
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64

	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}

	if na == 0 || nb == 0 {
		return 1
	}

	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Func computes a distance where smaller means more similar.
type Func func(a, b []float32) float64

// ForMetric returns the distance function matching the hosted store's convention for m.
func ForMetric(m models.Metric) (Func, error) {
	switch m {
	case models.MetricL2:
		return SquaredL2, nil
	case models.MetricCosine:
		return CosineDistance, nil
	case models.MetricDot:
		return func(a, b []float32) float64 { return 1 - Dot(a, b) }, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %q", m)
	}
}
