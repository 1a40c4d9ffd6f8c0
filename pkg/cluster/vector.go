package cluster

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Vector is the single numeric representation used for embeddings and
// cluster centers. Anything narrower is widened at the boundary, never
// mixed inside a distance computation.
type Vector []float64

// FromFloat32 widens a float32 vector (the usual model output) to a Vector.
func FromFloat32(v []float32) Vector {
	out := make(Vector, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// Distance returns the Euclidean distance between a and b. A NaN or
// infinite component in a is a *NonFiniteError.
func Distance(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Want: len(b), Got: len(a)}
	}
	if err := checkFinite(a); err != nil {
		return 0, err
	}
	return floats.Distance(a, b, 2), nil
}

func checkFinite(v Vector) error {
	for i, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &NonFiniteError{Index: i, Value: f}
		}
	}
	return nil
}
