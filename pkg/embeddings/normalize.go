// Package embeddings provides vector math for brute-force nearest-neighbor scans
// (L2 normalization and the distance functions behind each metric).
package embeddings

import (
	"math"
	"slices"
)

// NormalizeL2 scales vector to unit length in place. A zero vector is left unchanged
// and reported as false.
func NormalizeL2(vector []float32) bool {
	var sumSquares float64

	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}

	if sumSquares == 0 {
		return false
	}

	magnitude := math.Sqrt(sumSquares)

	for i := range vector {
		vector[i] = float32(float64(vector[i]) / magnitude)
	}

	return true
}

// NormalizedCopy returns a unit-length copy of src, leaving src untouched.
func NormalizedCopy(src []float32) []float32 {
	dst := slices.Clone(src)
	NormalizeL2(dst)

	return dst
}
