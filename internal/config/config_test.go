package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/styleradar/pkg/trend"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, trend.DefaultThresholds(), cfg.Trend.Thresholds)
	assert.Equal(t, trend.DefaultWeights(), cfg.Trend.Weights)
	assert.Equal(t, 10*time.Minute, cfg.Schedule.ParseAnalyzeInterval())
	assert.Equal(t, time.Minute, cfg.Snapshot.ParseReloadInterval())
}

func TestLoadInlineTrendKeys(t *testing.T) {
	path := writeConfig(t, `
snapshot:
  path: /data/clusters.json
trend:
  low_threshold: 30
  high_threshold: 55
  size_weight: 50
  similarity_weight: 50
  similarity_scale: 12
  class_weight: 0.5
embedder:
  timeout: 5s
schedule:
  analyze_interval: nonsense
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/clusters.json", cfg.Snapshot.Path)
	assert.Equal(t, trend.Thresholds{Low: 30, High: 55}, cfg.Trend.Thresholds)
	assert.Equal(t, 50.0, cfg.Trend.Size)
	assert.Equal(t, 50.0, cfg.Trend.Similarity)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10.0, cfg.Trend.BonusCap)
	assert.Equal(t, 12.0, cfg.Trend.SimilarityScale)
	assert.Equal(t, 0.5, cfg.Trend.ClassWeight)
	assert.Equal(t, 5*time.Second, cfg.Embedder.ParseTimeout())
	assert.Equal(t, 10*time.Minute, cfg.Schedule.ParseAnalyzeInterval())
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	path := writeConfig(t, `
trend:
  low_threshold: 60
  high_threshold: 40
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Trend.SimilarityScale = 0
	cfg.Trend.ClassWeight = 2
	cfg.Trend.AlertCategory = "viral"
	cfg.Calibration.SamplesPerCluster = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"similarity_scale", "class_weight", "alert_category", "samples_per_cluster"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STYLERADAR_DB_PATH", "/tmp/env.db")
	t.Setenv("STYLERADAR_SNAPSHOT", "/tmp/env.json")
	t.Setenv("STYLERADAR_LOW_THRESHOLD", "20")
	t.Setenv("STYLERADAR_HIGH_THRESHOLD", "48.5")
	t.Setenv("STYLERADAR_LOG_LEVEL", "debug")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.test/x")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "/tmp/env.json", cfg.Snapshot.Path)
	assert.Equal(t, trend.Thresholds{Low: 20, High: 48.5}, cfg.Trend.Thresholds)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Alerts.Slack.Enabled)
}

func TestEnvOverrideBadNumber(t *testing.T) {
	t.Setenv("STYLERADAR_LOW_THRESHOLD", "low")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
