package trend

import (
	"errors"
	"fmt"
	"math"
)

// DefaultClassWeight is the share of the classifier confidence in Fuse.
const DefaultClassWeight = 0.6

// ErrRange is matched by every *RangeError.
var ErrRange = errors.New("value out of range")

// RangeError reports an input outside its declared bounds.
type RangeError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %v outside [%v, %v]", e.Field, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error { return ErrRange }

func checkRange(field string, v, min, max float64) error {
	if math.IsNaN(v) || v < min || v > max {
		return &RangeError{Field: field, Value: v, Min: min, Max: max}
	}
	return nil
}

// Fuse blends classifier confidence and cluster similarity, both given as
// 0-100 percentages, into a single confidence in [0, 1].
func Fuse(classConfidencePct, similarityPct, classWeight float64) (float64, error) {
	if err := checkRange("class confidence", classConfidencePct, 0, 100); err != nil {
		return 0, err
	}
	if err := checkRange("similarity", similarityPct, 0, 100); err != nil {
		return 0, err
	}
	if err := checkRange("class weight", classWeight, 0, 1); err != nil {
		return 0, err
	}

	v := (classConfidencePct*classWeight + similarityPct*(1-classWeight)) / 100
	return clamp(v, 0, 1), nil
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
