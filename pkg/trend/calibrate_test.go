package trend

import (
	"testing"

	"github.com/elonfeng/styleradar/pkg/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calibrationSnapshot(t *testing.T) *cluster.Snapshot {
	t.Helper()
	s, err := cluster.New(4,
		map[int]int{0: 120, 1: 500, 3: 2},
		map[int]cluster.Vector{0: {0, 0}, 1: {1, 1}, 3: {2, 2}},
		cluster.Quality{Silhouette: 0.4},
	)
	require.NoError(t, err)
	return s
}

func TestAnalyzeConstantSampler(t *testing.T) {
	snap, err := cluster.New(2,
		map[int]int{0: 120, 1: 500},
		map[int]cluster.Vector{0: {0}, 1: {1}},
		cluster.Quality{},
	)
	require.NoError(t, err)

	r, err := NewAnalyzer(nil).Analyze(snap, 4, ConstantSampler(70))
	require.NoError(t, err)

	// Cluster 0 scores 52.8 and cluster 1 scores 40+42+5 = 87, four samples each.
	assert.Equal(t, 2, r.Clusters)
	assert.Equal(t, 8, r.Samples)
	assert.InDelta(t, 52.8, r.Min, 1e-9)
	assert.InDelta(t, 87, r.Max, 1e-9)
	assert.InDelta(t, 52.8, r.Percentiles.P25, 1e-9)
	assert.InDelta(t, 52.8, r.Percentiles.P50, 1e-9)
	assert.InDelta(t, 87, r.Percentiles.P75, 1e-9)
	assert.InDelta(t, 87, r.Percentiles.P90, 1e-9)

	assert.Equal(t, DefaultThresholds(), r.Current)
	assert.InDelta(t, 52.8, r.Suggested.Low, 1e-9)
	assert.InDelta(t, 87, r.Suggested.High, 1e-9)

	// The historical 16/42 pair calls every sample trending.
	assert.Equal(t, Split{Trending: 1}, r.CurrentSplit)
	assert.Equal(t, Split{Neutral: 0.5, Trending: 0.5}, r.SuggestedSplit)
	assert.InDelta(t, 45, r.Drift(), 1e-9)
	assert.False(t, r.Degenerate)
}

func TestAnalyzeFlagsDegenerateSuggestion(t *testing.T) {
	snap, err := cluster.New(1, map[int]int{0: 1}, map[int]cluster.Vector{0: {0}}, cluster.Quality{})
	require.NoError(t, err)

	r, err := NewAnalyzer(nil).Analyze(snap, 50, BetaSampler(2, 5, 7))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Samples)
	assert.Equal(t, r.Suggested.Low, r.Suggested.High)
	assert.Error(t, r.Suggested.Validate())
	assert.True(t, r.Degenerate)
}

func TestAnalyzeCapsSamplesAtClusterSize(t *testing.T) {
	r, err := NewAnalyzer(nil).Analyze(calibrationSnapshot(t), 10, ConstantSampler(50))
	require.NoError(t, err)

	// 10 + 10 + 2; the empty cluster 2 is skipped.
	assert.Equal(t, 3, r.Clusters)
	assert.Equal(t, 22, r.Samples)
}

func TestAnalyzeCyclingSampler(t *testing.T) {
	snap, err := cluster.New(1, map[int]int{0: 100}, map[int]cluster.Vector{0: {0}}, cluster.Quality{})
	require.NoError(t, err)

	// Similarities 0,10,...,90 on the largest cluster: score = 40 + 0.6*sim.
	var i int
	sampler := func() float64 {
		v := float64(i%10) * 10
		i++
		return v
	}

	r, err := NewAnalyzer(nil).Analyze(snap, 10, sampler)
	require.NoError(t, err)
	assert.Equal(t, 10, r.Samples)
	// Empirical quantiles pick sorted[ceil(p*n)-1].
	assert.InDelta(t, 52, r.Percentiles.P25, 1e-9)
	assert.InDelta(t, 64, r.Percentiles.P50, 1e-9)
	assert.InDelta(t, 82, r.Percentiles.P75, 1e-9)
	assert.InDelta(t, 88, r.Percentiles.P90, 1e-9)
	assert.InDelta(t, 67, r.Mean, 1e-9)
	assert.Greater(t, r.StdDev, 0.0)

	assert.InDelta(t, 0.2, r.SuggestedSplit.NotTrending, 1e-9)
	assert.InDelta(t, 0.5, r.SuggestedSplit.Neutral, 1e-9)
	assert.InDelta(t, 0.3, r.SuggestedSplit.Trending, 1e-9)
}

func TestAnalyzeClampsSamples(t *testing.T) {
	snap, err := cluster.New(1, map[int]int{0: 10}, map[int]cluster.Vector{0: {0}}, cluster.Quality{})
	require.NoError(t, err)

	r, err := NewAnalyzer(nil).Analyze(snap, 1, ConstantSampler(250))
	require.NoError(t, err)
	assert.InDelta(t, 100, r.Max, 1e-9)

	r, err = NewAnalyzer(nil).Analyze(snap, 1, ConstantSampler(-40))
	require.NoError(t, err)
	assert.InDelta(t, 40, r.Min, 1e-9)
	assert.Zero(t, r.StdDev)
}

func TestAnalyzeErrors(t *testing.T) {
	a := NewAnalyzer(nil)

	_, err := a.Analyze(nil, 10, ConstantSampler(50))
	assert.ErrorIs(t, err, cluster.ErrNoSnapshot)

	_, err = a.Analyze(calibrationSnapshot(t), 0, ConstantSampler(50))
	assert.ErrorIs(t, err, ErrRange)

	_, err = a.Analyze(calibrationSnapshot(t), 5, nil)
	assert.Error(t, err)

	empty, err := cluster.New(3, nil, nil, cluster.Quality{})
	require.NoError(t, err)
	_, err = a.Analyze(empty, 5, ConstantSampler(50))
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestBetaSampler(t *testing.T) {
	a := BetaSampler(2, 5, 42)
	b := BetaSampler(2, 5, 42)

	var sum float64
	const n = 5000
	for i := 0; i < n; i++ {
		va, vb := a(), b()
		require.Equal(t, va, vb, "same seed must give the same sequence")
		require.GreaterOrEqual(t, va, 0.0)
		require.LessOrEqual(t, va, 100.0)
		sum += va
	}

	// Beta(2,5) has mean 2/7, so the bulk sits at low similarity.
	assert.InDelta(t, 100*2.0/7.0, sum/n, 2.0)
}

func TestAnalyzeWithBetaSamplerIsReproducible(t *testing.T) {
	snap := calibrationSnapshot(t)

	r1, err := NewAnalyzer(nil).Analyze(snap, 50, BetaSampler(2, 5, 7))
	require.NoError(t, err)
	r2, err := NewAnalyzer(nil).Analyze(snap, 50, BetaSampler(2, 5, 7))
	require.NoError(t, err)

	assert.Equal(t, r1.Percentiles, r2.Percentiles)
	assert.Equal(t, r1.Suggested, r2.Suggested)
	assert.LessOrEqual(t, r1.Percentiles.P25, r1.Percentiles.P50)
	assert.LessOrEqual(t, r1.Percentiles.P50, r1.Percentiles.P75)
	assert.LessOrEqual(t, r1.Percentiles.P75, r1.Percentiles.P90)
}
