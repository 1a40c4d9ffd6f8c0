package trend

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustScore(t *testing.T, s *Scorer, size, max int, sim float64) Result {
	t.Helper()
	r, err := s.Score(size, max, sim)
	require.NoError(t, err)
	return r
}

func TestScoreScenarioTrending(t *testing.T) {
	// Cluster #42 of 150 holds 120 items, the largest holds 500.
	r := mustScore(t, DefaultScorer(), 120, 500, 70)

	assert.InDelta(t, 9.6, r.Components.SizeScore, 1e-9)
	assert.InDelta(t, 42, r.Components.SimilarityContribution, 1e-9)
	assert.InDelta(t, 1.2, r.Components.SizeBonus, 1e-9)
	assert.InDelta(t, 52.8, r.Score, 1e-9)
	assert.Equal(t, Trending, r.Category)
}

func TestScoreEmptyCluster(t *testing.T) {
	r := mustScore(t, DefaultScorer(), 0, 500, 90)

	assert.Zero(t, r.Components.SizeScore)
	assert.Zero(t, r.Components.SizeBonus)
	assert.InDelta(t, 54, r.Score, 1e-9)
	assert.Equal(t, Trending, r.Category)

	s, err := NewScorer(DefaultWeights(), Thresholds{Low: 60, High: 80})
	require.NoError(t, err)
	assert.Equal(t, NotTrending, mustScore(t, s, 0, 500, 90).Category)
}

func TestScoreZeroMax(t *testing.T) {
	r := mustScore(t, DefaultScorer(), 0, 0, 50)
	assert.InDelta(t, 30, r.Score, 1e-9)
}

func TestScoreBonus(t *testing.T) {
	s := DefaultScorer()

	// At exactly the threshold no bonus applies.
	assert.Zero(t, mustScore(t, s, 100, 1000, 0).Components.SizeBonus)
	assert.InDelta(t, 1.01, mustScore(t, s, 101, 1000, 0).Components.SizeBonus, 1e-9)
	// Capped at 10 points.
	assert.InDelta(t, 10, mustScore(t, s, 5000, 5000, 0).Components.SizeBonus, 1e-9)
}

func TestScoreCappedAt100(t *testing.T) {
	r := mustScore(t, DefaultScorer(), 5000, 5000, 100)
	assert.Equal(t, 100.0, r.Score)
	assert.Equal(t, Trending, r.Category)
}

func TestScoreBounds(t *testing.T) {
	s := DefaultScorer()
	for _, max := range []int{1, 50, 101, 500, 20000} {
		for size := 0; size <= max; size += 1 + max/37 {
			for sim := 0.0; sim <= 100; sim += 2.5 {
				r := mustScore(t, s, size, max, sim)
				if r.Score < 0 || r.Score > 100 {
					t.Fatalf("score(%d, %d, %.1f) = %f out of [0,100]", size, max, sim, r.Score)
				}
			}
		}
	}
}

func TestScoreMonotonic(t *testing.T) {
	s := DefaultScorer()
	const max = 600

	for size := 0; size <= max; size += 20 {
		prev := -1.0
		for sim := 0.0; sim <= 100; sim += 1 {
			got := mustScore(t, s, size, max, sim).Score
			if got < prev {
				t.Fatalf("score fell from %f to %f as similarity rose to %.0f (size %d)", prev, got, sim, size)
			}
			prev = got
		}
	}

	for sim := 0.0; sim <= 100; sim += 5 {
		prev := -1.0
		for size := 0; size <= max; size++ {
			got := mustScore(t, s, size, max, sim).Score
			if got < prev {
				t.Fatalf("score fell from %f to %f as size rose to %d (sim %.0f)", prev, got, size, sim)
			}
			prev = got
		}
	}
}

func TestCategorizePartition(t *testing.T) {
	pairs := []Thresholds{{16, 42}, {0, 100}, {25.5, 25.6}, {-10, 5}, {99, 150}}
	for _, p := range pairs {
		for score := 0.0; score <= 100; score += 0.25 {
			c := Categorize(score, p.Low, p.High)
			var want Category
			switch {
			case score < p.Low:
				want = NotTrending
			case score >= p.High:
				want = Trending
			default:
				want = Neutral
			}
			if c != want {
				t.Fatalf("Categorize(%v, %v, %v) = %v, want %v", score, p.Low, p.High, c, want)
			}
		}
	}

	assert.Equal(t, NotTrending, Categorize(15.999, 16, 42))
	assert.Equal(t, Neutral, Categorize(16, 16, 42))
	assert.Equal(t, Neutral, Categorize(41.999, 16, 42))
	assert.Equal(t, Trending, Categorize(42, 16, 42))
}

func TestNewScorerValidation(t *testing.T) {
	_, err := NewScorer(DefaultWeights(), Thresholds{Low: 42, High: 16})
	assert.Error(t, err)

	_, err = NewScorer(DefaultWeights(), Thresholds{Low: 20, High: 20})
	assert.Error(t, err)

	w := DefaultWeights()
	w.BonusDivisor = 0
	_, err = NewScorer(w, DefaultThresholds())
	assert.Error(t, err)

	w = DefaultWeights()
	w.Size = -1
	_, err = NewScorer(w, DefaultThresholds())
	assert.Error(t, err)

	s, err := DefaultScorer().WithThresholds(Thresholds{Low: 30, High: 55})
	require.NoError(t, err)
	assert.Equal(t, Thresholds{Low: 30, High: 55}, s.Thresholds())
	assert.Equal(t, DefaultWeights(), s.Weights())
}

func TestCategoryText(t *testing.T) {
	for _, c := range Categories() {
		parsed, err := ParseCategory(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}

	_, err := ParseCategory("viral")
	assert.Error(t, err)

	b, err := json.Marshal(mustScore(t, DefaultScorer(), 120, 500, 70))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"category":"trending"`)

	assert.Equal(t, "Not Trending", NotTrending.Label())
}

func TestScoreRejectsOutOfRange(t *testing.T) {
	s := DefaultScorer()
	for _, sim := range []float64{-50, -0.001, 100.001, 150, math.NaN(), math.Inf(1)} {
		_, err := s.Score(10, 100, sim)
		var re *RangeError
		require.ErrorAs(t, err, &re, "similarity %v", sim)
		assert.Equal(t, "similarity", re.Field)
		assert.ErrorIs(t, err, ErrRange)
	}

	_, err := s.Score(-1, 100, 50)
	assert.ErrorIs(t, err, ErrRange)

	// The bounds themselves are accepted.
	assert.InDelta(t, 0.4, mustScore(t, s, 1, 100, 0).Score, 1e-9)
	assert.InDelta(t, 60.4, mustScore(t, s, 1, 100, 100).Score, 1e-9)
}
