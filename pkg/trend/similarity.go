package trend

import (
	"math"

	"github.com/elonfeng/styleradar/pkg/cluster"
)

// DefaultSimilarityScale is the center distance at which similarity reaches 0%.
const DefaultSimilarityScale = 10.0

// Similarity is how close an embedding sits to its cluster center.
type Similarity struct {
	Distance float64 `json:"distance"`
	Percent  float64 `json:"similarity_pct"`
}

// Evaluator converts center distance into a similarity percentage using a
// linear decay: 100% at distance 0, 0% at Scale and beyond.
type Evaluator struct {
	Scale float64
}

// NewEvaluator returns an evaluator; a non-positive scale uses the default.
func NewEvaluator(scale float64) Evaluator {
	if scale <= 0 {
		scale = DefaultSimilarityScale
	}
	return Evaluator{Scale: scale}
}

// Evaluate measures embedding against center. Both must have the same length.
func (e Evaluator) Evaluate(embedding, center cluster.Vector) (Similarity, error) {
	d, err := cluster.Distance(embedding, center)
	if err != nil {
		return Similarity{}, err
	}
	return Similarity{Distance: d, Percent: e.Percent(d)}, nil
}

// Percent maps a distance to [0, 100]. A NaN distance is 0%.
func (e Evaluator) Percent(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	scale := e.Scale
	if scale <= 0 {
		scale = DefaultSimilarityScale
	}
	return clamp(100-(distance/scale)*100, 0, 100)
}
