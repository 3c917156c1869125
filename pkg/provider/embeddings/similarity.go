package embeddings

import (
	"errors"
	"math"
)

var (
	// ErrDimensionMismatch is returned when vectors differ in length, or a
	// provider returns vectors of a length other than it was configured for.
	ErrDimensionMismatch = errors.New("embeddings: vector dimension mismatch")

	// ErrBatchLength is returned when a batch call yields a different number
	// of vectors than texts were sent.
	ErrBatchLength = errors.New("embeddings: batch result length mismatch")
)

// Cosine returns the cosine similarity of a and b in [-1, 1]. A zero-length
// or all-zero vector has similarity 0 with everything.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
