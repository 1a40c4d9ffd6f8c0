package trend

import (
	"math"
	"testing"

	"github.com/elonfeng/styleradar/pkg/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	e := NewEvaluator(10)

	s, err := e.Evaluate(cluster.Vector{1, 2, 3}, cluster.Vector{1, 2, 3})
	require.NoError(t, err)
	assert.Zero(t, s.Distance)
	assert.Equal(t, 100.0, s.Percent)

	s, err = e.Evaluate(cluster.Vector{0, 0}, cluster.Vector{3, 4})
	require.NoError(t, err)
	assert.Equal(t, 5.0, s.Distance)
	assert.InDelta(t, 50, s.Percent, 1e-9)

	s, err = e.Evaluate(cluster.Vector{0, 0}, cluster.Vector{6, 8})
	require.NoError(t, err)
	assert.Equal(t, 10.0, s.Distance)
	assert.Zero(t, s.Percent)

	s, err = e.Evaluate(cluster.Vector{0, 0}, cluster.Vector{30, 40})
	require.NoError(t, err)
	assert.Zero(t, s.Percent)
}

func TestEvaluateDimensionMismatch(t *testing.T) {
	_, err := NewEvaluator(10).Evaluate(cluster.Vector{1, 2}, cluster.Vector{1, 2, 3})
	require.Error(t, err)

	var dim *cluster.DimensionMismatchError
	require.ErrorAs(t, err, &dim)
	assert.Equal(t, 3, dim.Want)
	assert.Equal(t, 2, dim.Got)
}

func TestEvaluatorDefaultScale(t *testing.T) {
	assert.Equal(t, DefaultSimilarityScale, NewEvaluator(0).Scale)
	assert.Equal(t, DefaultSimilarityScale, NewEvaluator(-3).Scale)
	assert.InDelta(t, 75, Evaluator{}.Percent(2.5), 1e-9)
	assert.InDelta(t, 90, NewEvaluator(20).Percent(2), 1e-9)
}

func TestPercentStaysBounded(t *testing.T) {
	e := NewEvaluator(10)
	assert.Zero(t, e.Percent(math.NaN()))
	assert.Zero(t, e.Percent(math.Inf(1)))
	assert.Equal(t, 100.0, e.Percent(-4))
	assert.Equal(t, 100.0, e.Percent(math.Inf(-1)))
}
