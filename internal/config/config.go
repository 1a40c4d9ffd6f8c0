package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elonfeng/styleradar/pkg/trend"
)

// Config is the root configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Trend       TrendConfig       `yaml:"trend"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Sources     SourcesConfig     `yaml:"sources"`
	Filter      FilterConfig      `yaml:"filter"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SnapshotConfig points at the cluster snapshot file.
type SnapshotConfig struct {
	Path           string `yaml:"path"`
	ReloadInterval string `yaml:"reload_interval"`
}

// ParseReloadInterval returns how often the snapshot file is checked for changes.
func (s SnapshotConfig) ParseReloadInterval() time.Duration {
	return parseDuration(s.ReloadInterval, time.Minute)
}

// TrendConfig configures scoring. Thresholds and weights sit flat under trend:.
type TrendConfig struct {
	trend.Thresholds `yaml:",inline"`
	trend.Weights    `yaml:",inline"`
	SimilarityScale  float64 `yaml:"similarity_scale"`
	ClassWeight      float64 `yaml:"class_weight"`
	// AlertCategory is the lowest category that triggers an alert.
	AlertCategory string `yaml:"alert_category"`
}

// CalibrationConfig configures threshold calibration sampling.
type CalibrationConfig struct {
	SamplesPerCluster int     `yaml:"samples_per_cluster"`
	Seed              uint64  `yaml:"seed"`
	Alpha             float64 `yaml:"alpha"`
	Beta              float64 `yaml:"beta"`
	// DriftAlert is the threshold shift, in score points, that raises an alert.
	DriftAlert float64 `yaml:"drift_alert"`
}

// EmbedderConfig configures the image embedding service.
type EmbedderConfig struct {
	Endpoint          string  `yaml:"endpoint"`
	Model             string  `yaml:"model"`
	Timeout           string  `yaml:"timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ParseTimeout returns the embedder request timeout.
func (e EmbedderConfig) ParseTimeout() time.Duration {
	return parseDuration(e.Timeout, 30*time.Second)
}

// ScheduleConfig configures collection and analysis intervals.
type ScheduleConfig struct {
	CollectInterval string `yaml:"collect_interval"`
	AnalyzeInterval string `yaml:"analyze_interval"`
	BatchSize       int    `yaml:"batch_size"`
}

// ParseCollectInterval returns the collect interval as time.Duration.
func (s ScheduleConfig) ParseCollectInterval() time.Duration {
	return parseDuration(s.CollectInterval, 30*time.Minute)
}

// ParseAnalyzeInterval returns the analyze interval as time.Duration.
func (s ScheduleConfig) ParseAnalyzeInterval() time.Duration {
	return parseDuration(s.AnalyzeInterval, 10*time.Minute)
}

// SourcesConfig holds configuration for image sources.
type SourcesConfig struct {
	RSS RSSConfig `yaml:"rss"`
}

// RSSConfig for RSS feed collector.
type RSSConfig struct {
	Enabled     bool       `yaml:"enabled"`
	Feeds       []FeedItem `yaml:"feeds"`
	Concurrency int        `yaml:"concurrency"`
}

// FeedItem is a single RSS feed entry.
type FeedItem struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// FilterConfig configures content filtering.
type FilterConfig struct {
	IncludeKeywords []string `yaml:"include_keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./styleradar.db"},
		Snapshot: SnapshotConfig{
			Path:           "./clusters.json",
			ReloadInterval: "1m",
		},
		Trend: TrendConfig{
			Thresholds:      trend.DefaultThresholds(),
			Weights:         trend.DefaultWeights(),
			SimilarityScale: trend.DefaultSimilarityScale,
			ClassWeight:     trend.DefaultClassWeight,
			AlertCategory:   trend.Trending.String(),
		},
		Calibration: CalibrationConfig{
			SamplesPerCluster: 50,
			Seed:              42,
			Alpha:             2,
			Beta:              5,
			DriftAlert:        5,
		},
		Embedder: EmbedderConfig{
			Endpoint:          "http://localhost:8000",
			Model:             "fashion-clip",
			Timeout:           "30s",
			RequestsPerSecond: 2,
		},
		Schedule: ScheduleConfig{
			CollectInterval: "30m",
			AnalyzeInterval: "10m",
			BatchSize:       50,
		},
		Sources: SourcesConfig{
			RSS: RSSConfig{
				Enabled:     true,
				Concurrency: 4,
				Feeds: []FeedItem{
					{Name: "Vogue Runway", URL: "https://www.vogue.com/feed/fashion-shows/rss"},
					{Name: "Hypebeast Fashion", URL: "https://hypebeast.com/fashion/feed"},
					{Name: "Highsnobiety", URL: "https://www.highsnobiety.com/feed/"},
				},
			},
		},
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks values the scoring path depends on.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Trend.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Trend.Weights.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Trend.SimilarityScale <= 0 {
		errs = append(errs, fmt.Errorf("similarity_scale must be positive, got %v", c.Trend.SimilarityScale))
	}
	if c.Trend.ClassWeight < 0 || c.Trend.ClassWeight > 1 {
		errs = append(errs, fmt.Errorf("class_weight must be in [0, 1], got %v", c.Trend.ClassWeight))
	}
	if _, err := trend.ParseCategory(c.Trend.AlertCategory); err != nil {
		errs = append(errs, fmt.Errorf("alert_category: %w", err))
	}
	if c.Calibration.SamplesPerCluster < 1 {
		errs = append(errs, fmt.Errorf("samples_per_cluster must be at least 1, got %d", c.Calibration.SamplesPerCluster))
	}
	if c.Calibration.Alpha <= 0 || c.Calibration.Beta <= 0 {
		errs = append(errs, fmt.Errorf("calibration alpha and beta must be positive"))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("STYLERADAR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STYLERADAR_SNAPSHOT"); v != "" {
		cfg.Snapshot.Path = v
	}
	if v := os.Getenv("STYLERADAR_EMBEDDER_URL"); v != "" {
		cfg.Embedder.Endpoint = v
	}
	if v := os.Getenv("STYLERADAR_LOW_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse STYLERADAR_LOW_THRESHOLD: %w", err)
		}
		cfg.Trend.Low = f
	}
	if v := os.Getenv("STYLERADAR_HIGH_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse STYLERADAR_HIGH_THRESHOLD: %w", err)
		}
		cfg.Trend.High = f
	}
	if v := os.Getenv("STYLERADAR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
