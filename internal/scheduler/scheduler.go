package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/elonfeng/styleradar/internal/metrics"
	"github.com/elonfeng/styleradar/internal/store"
	"github.com/elonfeng/styleradar/pkg/alert"
	"github.com/elonfeng/styleradar/pkg/cluster"
	"github.com/elonfeng/styleradar/pkg/embed"
	"github.com/elonfeng/styleradar/pkg/source"
	"github.com/elonfeng/styleradar/pkg/trend"
)

// Options holds the scheduler's intervals and policies.
type Options struct {
	CollectInterval time.Duration
	AnalyzeInterval time.Duration
	ReloadInterval  time.Duration
	BatchSize       int

	// SnapshotPath is watched for changes; empty disables reloading.
	SnapshotPath string

	// AlertCategory is the lowest category that is broadcast.
	AlertCategory trend.Category

	SamplesPerCluster int
	SamplerAlpha      float64
	SamplerBeta       float64
	SamplerSeed       uint64
	// DriftAlert is the threshold shift that raises a calibration alert;
	// zero disables it.
	DriftAlert float64
}

// Deps are the collaborators the scheduler drives.
type Deps struct {
	Store    store.Store
	Sources  []source.Source
	Embedder embed.Embedder
	Engine   *trend.Engine
	Alerts   *alert.Manager
	Metrics  *metrics.Exporter
	Logger   *log.Logger
}

// Scheduler runs periodic collection, analysis and snapshot reloads.
type Scheduler struct {
	Deps
	opts Options
}

// New creates a new scheduler.
func New(d Deps, opts Options) *Scheduler {
	if opts.CollectInterval == 0 {
		opts.CollectInterval = 30 * time.Minute
	}
	if opts.AnalyzeInterval == 0 {
		opts.AnalyzeInterval = 10 * time.Minute
	}
	if opts.ReloadInterval == 0 {
		opts.ReloadInterval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.SamplesPerCluster <= 0 {
		opts.SamplesPerCluster = 50
	}
	if opts.SamplerAlpha <= 0 || opts.SamplerBeta <= 0 {
		opts.SamplerAlpha, opts.SamplerBeta = 2, 5
	}
	if d.Alerts == nil {
		d.Alerts = alert.NewManager(nil)
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewExporter(metrics.DefaultConfig())
	}
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	return &Scheduler{Deps: d, opts: opts}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	collectTicker := time.NewTicker(s.opts.CollectInterval)
	analyzeTicker := time.NewTicker(s.opts.AnalyzeInterval)
	reloadTicker := time.NewTicker(s.opts.ReloadInterval)
	defer collectTicker.Stop()
	defer analyzeTicker.Stop()
	defer reloadTicker.Stop()

	// Run immediately on start.
	s.Logger.Info("initial collection")
	s.collect(ctx)
	s.Logger.Info("initial analysis")
	s.analyze(ctx)

	s.Logger.Info("scheduler running",
		"collect", s.opts.CollectInterval,
		"analyze", s.opts.AnalyzeInterval,
		"reload", s.opts.ReloadInterval)

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("scheduler stopped")
			return ctx.Err()
		case <-collectTicker.C:
			s.collect(ctx)
		case <-analyzeTicker.C:
			s.analyze(ctx)
		case <-reloadTicker.C:
			if _, err := s.Reload(ctx); err != nil {
				s.Logger.Warn("snapshot reload failed, keeping current", "path", s.opts.SnapshotPath, "err", err)
			}
		}
	}
}

// Watch only reloads the snapshot, for processes that serve the API
// without collecting. Blocks until ctx is cancelled.
func (s *Scheduler) Watch(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Reload(ctx); err != nil {
				s.Logger.Warn("snapshot reload failed, keeping current", "path", s.opts.SnapshotPath, "err", err)
			}
		}
	}
}

func (s *Scheduler) collect(ctx context.Context) {
	if _, err := s.Collect(ctx); err != nil {
		s.Logger.Error("collection failed", "err", err)
	}
}

func (s *Scheduler) analyze(ctx context.Context) {
	if _, err := s.Analyze(ctx); err != nil {
		s.Logger.Error("analysis failed", "err", err)
	}
}

// Collect runs every source once and stores what they return.
func (s *Scheduler) Collect(ctx context.Context) (int, error) {
	total := 0
	for _, src := range s.Sources {
		items, err := src.Collect(ctx)
		if err != nil {
			s.Logger.Warn("source failed", "source", src.Name(), "err", err)
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			continue
		}

		if err := s.Store.UpsertItems(ctx, items); err != nil {
			return total, fmt.Errorf("store %s items: %w", src.Name(), err)
		}

		perFeed := make(map[string]int)
		for i := range items {
			perFeed[items[i].Feed]++
		}
		for feed, n := range perFeed {
			s.Metrics.RecordCollected(feed, n)
		}

		s.Logger.Info("collected", "source", src.Name(), "items", len(items))
		total += len(items)
	}
	return total, nil
}

// Analyze embeds and scores one batch of unanalyzed items. Items that
// fail are counted against their attempt budget and retried later.
func (s *Scheduler) Analyze(ctx context.Context) (int, error) {
	if _, err := s.Engine.Registry().Current(); err != nil {
		return 0, err
	}

	items, err := s.Store.ListUnanalyzedItems(ctx, s.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	done := 0
	for i := range items {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		item := &items[i]

		err := s.analyzeItem(ctx, item)
		switch {
		case err == nil:
			done++
		case errors.Is(err, cluster.ErrNoSnapshot), ctx.Err() != nil:
			return done, err
		default:
			s.Metrics.RecordAnalysisError(metrics.Kind(err))
			s.Logger.Warn("analyze item failed", "item", item.ID, "err", err)
			if ferr := s.Store.RecordFailure(ctx, item.ID); ferr != nil {
				return done, ferr
			}
		}
	}

	if len(items) > 0 {
		s.Logger.Info("analyzed", "items", done, "failed", len(items)-done)
	}
	return done, nil
}

func (s *Scheduler) analyzeItem(ctx context.Context, item *source.Item) error {
	start := time.Now()
	e, err := s.Embedder.Embed(ctx, item.ImageURL)
	s.Metrics.RecordEmbedLatency(time.Since(start))
	if err != nil {
		return err
	}

	a, err := s.Engine.Analyze(e.Vector, e.Confidence)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", item.ID, err)
	}

	rec := store.NewAnalysis(item.ID, e.Label, e.Confidence, a)
	if err := s.Store.SaveAnalysis(ctx, rec); err != nil {
		return err
	}
	s.Metrics.RecordAnalysis(rec.Category, "scheduler", a.Trend.Score, a.Confidence)

	if a.Trend.Category < s.opts.AlertCategory || !s.Alerts.HasNotifiers() {
		return nil
	}

	n := alert.ForAnalysis(alert.Subject{
		Title:    item.Title,
		URL:      item.URL,
		ImageURL: item.ImageURL,
		Label:    e.Label,
	}, a)
	if err := s.Alerts.Broadcast(ctx, n); err != nil {
		s.Metrics.RecordAlert(string(alert.KindTrend), false)
		s.Logger.Warn("alert failed", "item", item.ID, "err", err)
		return nil
	}
	s.Metrics.RecordAlert(string(alert.KindTrend), true)
	if err := s.Store.MarkAlerted(ctx, rec.ID); err != nil {
		s.Logger.Warn("mark alerted failed", "analysis", rec.ID, "err", err)
	}
	s.Logger.Info("alerted", "item", item.ID, "score", fmt.Sprintf("%.1f", a.Trend.Score))
	return nil
}

// Reload swaps in the snapshot file when it changed since the last load,
// then recalibrates against it. It reports whether a new snapshot was
// installed. On failure the current snapshot keeps serving.
func (s *Scheduler) Reload(ctx context.Context) (bool, error) {
	if s.opts.SnapshotPath == "" {
		return false, nil
	}
	changed, err := s.Engine.Registry().Changed(s.opts.SnapshotPath)
	if err != nil {
		s.Metrics.RecordReload(false, 0, 0)
		return false, fmt.Errorf("stat snapshot: %w", err)
	}
	if !changed {
		return false, nil
	}

	snap, err := s.Engine.Registry().ReloadFile(s.opts.SnapshotPath)
	if err != nil {
		s.Metrics.RecordReload(false, 0, 0)
		return false, err
	}
	s.Metrics.RecordReload(true, snap.Count, snap.NonEmpty())
	s.Logger.Info("snapshot reloaded",
		"version", snap.Version,
		"clusters", snap.Count,
		"items", snap.TotalItems)

	if _, err := s.Calibrate(ctx); err != nil {
		s.Logger.Warn("calibration after reload failed", "err", err)
	}
	return true, nil
}

// Calibrate samples the current snapshot, stores the report and raises
// an alert when the suggested thresholds drift past DriftAlert.
func (s *Scheduler) Calibrate(ctx context.Context) (*store.Calibration, error) {
	sampler := trend.BetaSampler(s.opts.SamplerAlpha, s.opts.SamplerBeta, s.opts.SamplerSeed)
	report, err := s.Engine.Calibrate(s.opts.SamplesPerCluster, sampler)
	if err != nil {
		return nil, fmt.Errorf("calibrate: %w", err)
	}

	saved, err := s.Store.SaveCalibration(ctx, report)
	if err != nil {
		return nil, err
	}

	drift := report.Drift()
	s.Metrics.SetThresholdDrift(drift)
	s.Logger.Info("calibrated",
		"samples", report.Samples,
		"suggested_low", fmt.Sprintf("%.1f", report.Suggested.Low),
		"suggested_high", fmt.Sprintf("%.1f", report.Suggested.High),
		"drift", fmt.Sprintf("%.1f", drift))

	if report.Degenerate {
		s.Logger.Warn("calibration too uniform to suggest thresholds, no drift alert",
			"samples", report.Samples, "clusters", report.Clusters)
		return saved, nil
	}
	if s.opts.DriftAlert > 0 && drift > s.opts.DriftAlert && s.Alerts.HasNotifiers() {
		err := s.Alerts.Broadcast(ctx, alert.ForDrift(report))
		s.Metrics.RecordAlert(string(alert.KindCalibration), err == nil)
		if err != nil {
			s.Logger.Warn("drift alert failed", "err", err)
		}
	}
	return saved, nil
}
