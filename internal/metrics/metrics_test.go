package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/styleradar/pkg/cluster"
	"github.com/elonfeng/styleradar/pkg/trend"
)

func scrape(t *testing.T, e *Exporter) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestExporterHandler(t *testing.T) {
	e := NewExporter(DefaultConfig())

	e.RecordAnalysis("trending", "api", 52.8, 0.76)
	e.RecordAnalysis("neutral", "scheduler", 30, 0.4)
	e.RecordAnalysisError("dimension_mismatch")
	e.RecordEmbedLatency(120 * time.Millisecond)
	e.RecordReload(true, 150, 142)
	e.RecordReload(false, 0, 0)
	e.RecordCollected("Vogue Runway", 12)
	e.RecordAlert("trend", true)
	e.SetThresholdDrift(6.5)

	body := scrape(t, e)
	for _, want := range []string{
		`styleradar_trend_analyses_total{category="trending",origin="api"} 1`,
		`styleradar_trend_analysis_errors_total{kind="dimension_mismatch"} 1`,
		`styleradar_trend_score_count 2`,
		`styleradar_embedder_latency_seconds_count 1`,
		`styleradar_snapshot_reloads_total{status="success"} 1`,
		`styleradar_snapshot_reloads_total{status="error"} 1`,
		`styleradar_snapshot_clusters 150`,
		`styleradar_snapshot_populated_clusters 142`,
		`styleradar_source_items_collected_total{source="Vogue Runway"} 12`,
		`styleradar_alert_sent_total{kind="trend",status="success"} 1`,
		`styleradar_calibration_threshold_drift 6.5`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestFailedReloadKeepsGauges(t *testing.T) {
	e := NewExporter(DefaultConfig())
	e.RecordReload(true, 10, 8)
	e.RecordReload(false, 0, 0)

	body := scrape(t, e)
	assert.Contains(t, body, "styleradar_snapshot_clusters 10")
}

func TestExportersAreIndependent(t *testing.T) {
	a := NewExporter(Config{})
	b := NewExporter(Config{})
	a.RecordCollected("feed", 3)

	assert.NotContains(t, scrape(t, b), `source="feed"`)
}

func TestKind(t *testing.T) {
	cases := map[string]error{
		"":                   nil,
		"no_snapshot":        cluster.ErrNoSnapshot,
		"no_centers":         fmt.Errorf("nearest: %w", cluster.ErrNoCenters),
		"dimension_mismatch": &cluster.DimensionMismatchError{Want: 3, Got: 2},
		"unknown_cluster":    &cluster.UnknownClusterError{ID: 9},
		"non_finite":         &cluster.NonFiniteError{Index: 0},
		"out_of_range":       &trend.RangeError{Field: "similarity", Value: 120, Max: 100},
		"canceled":           context.DeadlineExceeded,
		"other":              errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, Kind(err))
	}
}
