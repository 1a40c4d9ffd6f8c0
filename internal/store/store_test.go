package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/styleradar/pkg/source"
	"github.com/elonfeng/styleradar/pkg/trend"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testItem(id string, collected time.Time) source.Item {
	return source.Item{
		ID:          id,
		Source:      source.SourceRSS,
		Feed:        "runway",
		ExternalID:  id,
		Title:       "look " + id,
		URL:         "https://example.com/" + id,
		ImageURL:    "https://img.example.com/" + id + ".jpg",
		Tags:        []string{"outerwear"},
		PublishedAt: collected,
		CollectedAt: collected,
	}
}

func TestItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.UpsertItems(ctx, []source.Item{
		testItem("a", now.Add(-2*time.Hour)),
		testItem("b", now.Add(-time.Hour)),
	}))

	// Upserting again updates in place.
	updated := testItem("a", now.Add(-2*time.Hour))
	updated.Title = "retitled"
	require.NoError(t, s.UpsertItem(ctx, &updated))

	got, err := s.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "retitled", got.Title)
	assert.Equal(t, []string{"outerwear"}, got.Tags)
	assert.Equal(t, "https://img.example.com/a.jpg", got.ImageURL)

	_, err = s.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	items, err := s.ListItems(ctx, ListOpts{Feed: "runway"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].ID)

	items, err = s.ListItems(ctx, ListOpts{Since: now.Add(-90 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestUnanalyzedItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertItems(ctx, []source.Item{
		testItem("a", now.Add(-3*time.Hour)),
		testItem("b", now.Add(-2*time.Hour)),
		testItem("c", now.Add(-time.Hour)),
	}))

	require.NoError(t, s.SaveAnalysis(ctx, &Analysis{ItemID: "a", Category: "neutral"}))
	for i := 0; i < MaxAttempts; i++ {
		require.NoError(t, s.RecordFailure(ctx, "b"))
	}

	items, err := s.ListUnanalyzedItems(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "c", items[0].ID)
}

func TestAnalyses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := testItem("a", time.Now().UTC())
	require.NoError(t, s.UpsertItem(ctx, &item))

	hot := &Analysis{ItemID: "a", ClusterID: 42, Score: 52.8, Category: "trending", Confidence: 0.76, SnapshotVersion: "abc"}
	require.NoError(t, s.SaveAnalysis(ctx, hot))
	assert.NotEmpty(t, hot.ID)
	assert.False(t, hot.CreatedAt.IsZero())

	require.NoError(t, s.SaveAnalysis(ctx, &Analysis{ClusterID: 3, Score: 20, Category: "neutral"}))
	require.NoError(t, s.SaveAnalysis(ctx, &Analysis{ClusterID: 7, Score: 5, Category: "not_trending"}))

	all, err := s.ListAnalyses(ctx, AnalysisListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, hot.ID, all[0].ID)
	assert.Equal(t, "https://img.example.com/a.jpg", all[0].ImageURL)
	assert.Empty(t, all[1].ImageURL)

	trending, err := s.ListAnalyses(ctx, AnalysisListOpts{Category: "trending", Unalerted: true})
	require.NoError(t, err)
	require.Len(t, trending, 1)

	require.NoError(t, s.MarkAlerted(ctx, hot.ID))
	trending, err = s.ListAnalyses(ctx, AnalysisListOpts{Category: "trending", Unalerted: true})
	require.NoError(t, err)
	assert.Empty(t, trending)

	above, err := s.ListAnalyses(ctx, AnalysisListOpts{MinScore: 10})
	require.NoError(t, err)
	assert.Len(t, above, 2)

	counts, err := s.CategoryCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"not_trending": 1, "neutral": 1, "trending": 1}, counts)
}

func TestCategoryCountsEmpty(t *testing.T) {
	s := newTestStore(t)
	counts, err := s.CategoryCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"not_trending": 0, "neutral": 0, "trending": 0}, counts)
}

func TestAnalysisFromEngine(t *testing.T) {
	res, err := trend.DefaultScorer().Score(120, 500, 70)
	require.NoError(t, err)
	a := &trend.Analysis{
		SnapshotVersion: "v1",
		Trend:           res,
		Similarity:      trend.Similarity{Distance: 3, Percent: 70},
		Confidence:      0.76,
	}
	a.Cluster.ClusterID = 42
	a.Cluster.Size = 120

	rec := NewAnalysis("item-1", "blazer", 80, a)
	assert.Equal(t, "trending", rec.Category)
	assert.Equal(t, 42, rec.ClusterID)
	assert.Equal(t, 120, rec.ClusterSize)
	assert.InDelta(t, 52.8, rec.Score, 1e-9)
	assert.Equal(t, 80.0, rec.ClassConfidence)
	assert.Equal(t, "v1", rec.SnapshotVersion)
}

func TestCalibrations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LatestCalibration(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	first := &trend.Report{
		SnapshotVersion: "v1",
		Samples:         100,
		Current:         trend.DefaultThresholds(),
		Suggested:       trend.Thresholds{Low: 30, High: 50},
		CreatedAt:       time.Now().Add(-time.Hour),
	}
	second := &trend.Report{
		SnapshotVersion: "v2",
		Samples:         200,
		Percentiles:     trend.Percentiles{P25: 31, P50: 40, P75: 52, P90: 61},
		Current:         trend.DefaultThresholds(),
		Suggested:       trend.Thresholds{Low: 31, High: 52},
		CreatedAt:       time.Now(),
	}

	_, err = s.SaveCalibration(ctx, first)
	require.NoError(t, err)
	saved, err := s.SaveCalibration(ctx, second)
	require.NoError(t, err)
	assert.InDelta(t, 15, saved.Drift, 1e-9)

	latest, err := s.LatestCalibration(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, latest.ID)
	assert.Equal(t, "v2", latest.SnapshotVersion)
	assert.Equal(t, 52.0, latest.P75)
	require.NotNil(t, latest.Report)
	assert.Equal(t, second.Suggested, latest.Report.Suggested)
	assert.Equal(t, 200, latest.Report.Samples)
}
