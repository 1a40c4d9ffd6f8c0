package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/styleradar/internal/config"
	"github.com/elonfeng/styleradar/internal/logging"
	"github.com/elonfeng/styleradar/internal/metrics"
	"github.com/elonfeng/styleradar/internal/scheduler"
	"github.com/elonfeng/styleradar/internal/store"
	"github.com/elonfeng/styleradar/pkg/alert"
	"github.com/elonfeng/styleradar/pkg/cluster"
	"github.com/elonfeng/styleradar/pkg/embed"
	"github.com/elonfeng/styleradar/pkg/server"
	"github.com/elonfeng/styleradar/pkg/source"
	"github.com/elonfeng/styleradar/pkg/trend"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if snapshotFlag != "" {
		cfg.Snapshot.Path = snapshotFlag
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*log.Logger, error) {
	return logging.New(os.Stderr, cfg.Log.Level)
}

// loadRegistry loads the configured snapshot. Long-running commands pass
// required=false and start empty, picking the file up once it appears.
func loadRegistry(cfg *config.Config, logger *log.Logger, required bool) (*cluster.Registry, error) {
	reg := cluster.NewRegistry(nil)
	snap, err := reg.ReloadFile(cfg.Snapshot.Path)
	if err != nil {
		if required {
			return nil, err
		}
		logger.Warn("no cluster snapshot loaded, scoring disabled until it appears",
			"path", cfg.Snapshot.Path, "err", err)
		return reg, nil
	}
	logger.Debug("snapshot loaded", "path", cfg.Snapshot.Path, "version", snap.Version, "clusters", snap.Count)
	return reg, nil
}

func buildEngine(cfg *config.Config, reg *cluster.Registry) (*trend.Engine, error) {
	scorer, err := trend.NewScorer(cfg.Trend.Weights, cfg.Trend.Thresholds)
	if err != nil {
		return nil, err
	}
	return trend.NewEngine(reg, scorer, trend.NewEvaluator(cfg.Trend.SimilarityScale), cfg.Trend.ClassWeight)
}

// buildSources builds the enabled collectors. A non-empty only keeps the
// feeds with those names (case-insensitive).
func buildSources(cfg *config.Config, logger *log.Logger, only []string) ([]source.Source, error) {
	if !cfg.Sources.RSS.Enabled {
		return nil, nil
	}

	wanted := make(map[string]bool)
	for _, name := range only {
		wanted[strings.ToLower(strings.TrimSpace(name))] = true
	}

	var feeds []source.RSSFeed
	for _, f := range cfg.Sources.RSS.Feeds {
		if len(wanted) > 0 && !wanted[strings.ToLower(f.Name)] {
			continue
		}
		feeds = append(feeds, source.RSSFeed{Name: f.Name, URL: f.URL})
	}
	if len(wanted) > 0 && len(feeds) == 0 {
		return nil, fmt.Errorf("no matching feeds for: %s", strings.Join(only, ", "))
	}

	filter := source.NewFilter(cfg.Filter.IncludeKeywords, cfg.Filter.ExcludeKeywords)
	rss := source.NewRSS(feeds, filter, source.RSSOptions{
		Concurrency: cfg.Sources.RSS.Concurrency,
		Logger:      logger,
	})
	return []source.Source{rss}, nil
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func buildEmbedder(cfg *config.Config) *embed.Client {
	return embed.NewClient(cfg.Embedder.Endpoint, cfg.Embedder.Model, embed.Options{
		Timeout:           cfg.Embedder.ParseTimeout(),
		RequestsPerSecond: cfg.Embedder.RequestsPerSecond,
	})
}

func schedulerOptions(cfg *config.Config) scheduler.Options {
	// Validated by config.Load.
	alertCategory, _ := trend.ParseCategory(cfg.Trend.AlertCategory)
	return scheduler.Options{
		CollectInterval:   cfg.Schedule.ParseCollectInterval(),
		AnalyzeInterval:   cfg.Schedule.ParseAnalyzeInterval(),
		ReloadInterval:    cfg.Snapshot.ParseReloadInterval(),
		BatchSize:         cfg.Schedule.BatchSize,
		SnapshotPath:      cfg.Snapshot.Path,
		AlertCategory:     alertCategory,
		SamplesPerCluster: cfg.Calibration.SamplesPerCluster,
		SamplerAlpha:      cfg.Calibration.Alpha,
		SamplerBeta:       cfg.Calibration.Beta,
		SamplerSeed:       cfg.Calibration.Seed,
		DriftAlert:        cfg.Calibration.DriftAlert,
	}
}

func serverOptions(cfg *config.Config, port int) server.Options {
	if port == 0 {
		port = cfg.Server.Port
	}
	return server.Options{
		Port:              port,
		SamplesPerCluster: cfg.Calibration.SamplesPerCluster,
		SamplerAlpha:      cfg.Calibration.Alpha,
		SamplerBeta:       cfg.Calibration.Beta,
		SamplerSeed:       cfg.Calibration.Seed,
	}
}

// scoreInput is what `styleradar score` reads: a bare array of numbers or
// an object carrying the classifier output as well.
type scoreInput struct {
	Embedding       cluster.Vector `json:"embedding"`
	ClassConfidence *float64       `json:"class_confidence"`
	ClusterID       *int           `json:"cluster_id"`
}

func parseScoreInput(data []byte) (*scoreInput, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty input")
	}

	in := &scoreInput{}
	if data[0] == '[' {
		if err := json.Unmarshal(data, &in.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	} else if err := json.Unmarshal(data, in); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	if len(in.Embedding) == 0 {
		return nil, errors.New("input has no embedding")
	}
	return in, nil
}

func runScore(cmd *cobra.Command, path string, clusterID int, confidence float64, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	var data []byte
	if path == "" || path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	in, err := parseScoreInput(data)
	if err != nil {
		return err
	}
	if confidence >= 0 {
		in.ClassConfidence = &confidence
	}
	if clusterID >= 0 {
		in.ClusterID = &clusterID
	}
	if in.ClassConfidence == nil {
		return errors.New("class confidence required: pass --confidence or set class_confidence")
	}

	reg, err := loadRegistry(cfg, logger, true)
	if err != nil {
		return err
	}
	engine, err := buildEngine(cfg, reg)
	if err != nil {
		return err
	}

	var a *trend.Analysis
	if in.ClusterID != nil {
		a, err = engine.AnalyzeCluster(in.Embedding, *in.ClusterID, *in.ClassConfidence)
	} else {
		a, err = engine.Analyze(in.Embedding, *in.ClassConfidence)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, a)
	}
	return printAnalysis(out, a)
}

func printAnalysis(out io.Writer, a *trend.Analysis) error {
	c := a.Trend.Components
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "CLUSTER\t#%d (%d items, largest %d)\n", a.Cluster.ClusterID, a.Cluster.Size, a.MaxClusterSize)
	fmt.Fprintf(w, "DISTANCE\t%.3f\n", a.Similarity.Distance)
	fmt.Fprintf(w, "SIMILARITY\t%.1f%%\n", a.Similarity.Percent)
	fmt.Fprintf(w, "SCORE\t%.1f (size %.1f + similarity %.1f + bonus %.1f)\n",
		a.Trend.Score, c.SizeScore, c.SimilarityContribution, c.SizeBonus)
	fmt.Fprintf(w, "CATEGORY\t%s\n", a.Trend.Category.Label())
	fmt.Fprintf(w, "CONFIDENCE\t%.0f%%\n", a.Confidence*100)
	fmt.Fprintf(w, "SNAPSHOT\t%s\n", a.SnapshotVersion)
	return w.Flush()
}

func runCalibrate(cmd *cobra.Command, samples int, seed uint64, save, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	reg, err := loadRegistry(cfg, logger, true)
	if err != nil {
		return err
	}
	engine, err := buildEngine(cfg, reg)
	if err != nil {
		return err
	}

	if samples <= 0 {
		samples = cfg.Calibration.SamplesPerCluster
	}
	if !cmd.Flags().Changed("seed") {
		seed = cfg.Calibration.Seed
	}

	report, err := engine.Calibrate(samples, trend.BetaSampler(cfg.Calibration.Alpha, cfg.Calibration.Beta, seed))
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}

	if save {
		db, err := store.New(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()
		if _, err := db.SaveCalibration(cmd.Context(), report); err != nil {
			return err
		}
		logger.Info("calibration saved", "db", cfg.Database.Path)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, report)
	}
	return printReport(out, report)
}

func printReport(out io.Writer, r *trend.Report) error {
	fmt.Fprintf(out, "%d samples from %d populated clusters (%d each), snapshot %s\n\n",
		r.Samples, r.Clusters, r.SamplesPerCluster, r.SnapshotVersion)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MIN\tP25\tP50\tP75\tP90\tMAX\tMEAN\tSTDDEV")
	fmt.Fprintf(w, "%.1f\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\n",
		r.Min, r.Percentiles.P25, r.Percentiles.P50, r.Percentiles.P75, r.Percentiles.P90,
		r.Max, r.Mean, r.StdDev)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "THRESHOLDS\tLOW\tHIGH\tNOT TRENDING\tNEUTRAL\tTRENDING")
	fmt.Fprintf(w, "current\t%.1f\t%.1f\t%.0f%%\t%.0f%%\t%.0f%%\n",
		r.Current.Low, r.Current.High,
		r.CurrentSplit.NotTrending*100, r.CurrentSplit.Neutral*100, r.CurrentSplit.Trending*100)
	fmt.Fprintf(w, "suggested\t%.1f\t%.1f\t%.0f%%\t%.0f%%\t%.0f%%\n",
		r.Suggested.Low, r.Suggested.High,
		r.SuggestedSplit.NotTrending*100, r.SuggestedSplit.Neutral*100, r.SuggestedSplit.Trending*100)
	if err := w.Flush(); err != nil {
		return err
	}

	if r.Degenerate {
		fmt.Fprintln(out, "\nscores are too uniform to suggest thresholds; keep the current pair")
		return nil
	}
	fmt.Fprintf(out, "\ndrift: %.1f points\n", r.Drift())
	return nil
}

type clusterSize struct {
	ID   int `json:"cluster_id"`
	Size int `json:"size"`
}

type inspectOutput struct {
	*cluster.Snapshot
	Populated  int           `json:"populated"`
	MaxSize    int           `json:"max_cluster_size"`
	Assessment string        `json:"assessment"`
	Largest    []clusterSize `json:"largest"`
}

func runInspect(top int, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg, logger, true)
	if err != nil {
		return err
	}
	snap, err := reg.Current()
	if err != nil {
		return err
	}

	o := inspectOutput{
		Snapshot:   snap,
		Populated:  snap.NonEmpty(),
		MaxSize:    snap.MaxSize(),
		Assessment: snap.Quality.Assessment(),
	}
	for _, id := range snap.Largest(top) {
		size, _ := snap.SizeOf(id)
		o.Largest = append(o.Largest, clusterSize{ID: id, Size: size})
	}

	if jsonOutput {
		return writeJSON(os.Stdout, o)
	}

	fmt.Printf("snapshot %s (%s)\n", snap.Version, snap.Source)
	fmt.Printf("  clusters:   %d (%d populated)\n", snap.Count, o.Populated)
	fmt.Printf("  items:      %d\n", snap.TotalItems)
	fmt.Printf("  dimensions: %d\n", snap.Dim)
	fmt.Printf("  quality:    silhouette %.3f, calinski-harabasz %.1f, davies-bouldin %.3f\n",
		snap.Quality.Silhouette, snap.Quality.CalinskiHarabasz, snap.Quality.DaviesBouldin)
	fmt.Printf("              %s\n\n", o.Assessment)

	if len(o.Largest) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLUSTER\tSIZE\tSHARE")
	for _, c := range o.Largest {
		share := 0.0
		if snap.TotalItems > 0 {
			share = float64(c.Size) / float64(snap.TotalItems) * 100
		}
		fmt.Fprintf(w, "#%d\t%d\t%.1f%%\n", c.ID, c.Size, share)
	}
	return w.Flush()
}

func runCollect(cmd *cobra.Command, feeds []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	sources, err := buildSources(cfg, logger, feeds)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return errors.New("no sources enabled")
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	sched := scheduler.New(scheduler.Deps{
		Store:   db,
		Sources: sources,
		Logger:  logger,
	}, schedulerOptions(cfg))

	n, err := sched.Collect(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "collected %d images\n", n)
	return nil
}

func runAnalyze(cmd *cobra.Command, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	reg, err := loadRegistry(cfg, logger, true)
	if err != nil {
		return err
	}
	engine, err := buildEngine(cfg, reg)
	if err != nil {
		return err
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	embedder := buildEmbedder(cfg)
	if !embedder.Available(ctx) {
		return fmt.Errorf("embedder at %s is not reachable", cfg.Embedder.Endpoint)
	}

	opts := schedulerOptions(cfg)
	if limit > 0 {
		opts.BatchSize = limit
	}
	sched := scheduler.New(scheduler.Deps{
		Store:    db,
		Embedder: embedder,
		Engine:   engine,
		Alerts:   buildAlertManager(cfg),
		Logger:   logger,
	}, opts)

	n, err := sched.Analyze(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "analyzed %d images\n", n)
	return nil
}

func runTrends(category string, minScore float64, limit int, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if category != "" {
		if _, err := trend.ParseCategory(category); err != nil {
			return err
		}
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	analyses, err := db.ListAnalyses(context.Background(), store.AnalysisListOpts{
		Category: category,
		MinScore: minScore,
		Limit:    limit,
	})
	if err != nil {
		return fmt.Errorf("list analyses: %w", err)
	}

	if jsonOutput {
		return writeJSON(os.Stdout, analyses)
	}

	if len(analyses) == 0 {
		fmt.Println("no verdicts found (try: styleradar collect && styleradar analyze)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tCATEGORY\tCONF\tCLUSTER\tLABEL\tTITLE\tANALYZED")
	for _, a := range analyses {
		fmt.Fprintf(w, "%.1f\t%s\t%.0f%%\t#%d\t%s\t%s\t%s\n",
			a.Score, a.Category, a.Confidence*100, a.ClusterID, a.Label,
			truncate(a.Title, 50), a.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runServe(cmd *cobra.Command, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	reg, err := loadRegistry(cfg, logger, false)
	if err != nil {
		return err
	}
	engine, err := buildEngine(cfg, reg)
	if err != nil {
		return err
	}
	sources, err := buildSources(cfg, logger, nil)
	if err != nil {
		return err
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	m := metrics.NewExporter(metrics.DefaultConfig())
	recordSnapshot(reg, m)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Deps{
		Store:   db,
		Engine:  engine,
		Metrics: m,
		Logger:  logger,
	}, schedulerOptions(cfg))
	srv := server.New(db, engine, sources, m, logger, serverOptions(cfg, port))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Watch(ctx) })
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	return ignoreCanceled(g.Wait())
}

func runDaemon(cmd *cobra.Command, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	reg, err := loadRegistry(cfg, logger, false)
	if err != nil {
		return err
	}
	engine, err := buildEngine(cfg, reg)
	if err != nil {
		return err
	}
	sources, err := buildSources(cfg, logger, nil)
	if err != nil {
		return err
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	m := metrics.NewExporter(metrics.DefaultConfig())
	recordSnapshot(reg, m)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Deps{
		Store:    db,
		Sources:  sources,
		Embedder: buildEmbedder(cfg),
		Engine:   engine,
		Alerts:   buildAlertManager(cfg),
		Metrics:  m,
		Logger:   logger,
	}, schedulerOptions(cfg))

	// The startup snapshot has not been calibrated yet.
	if _, err := reg.Current(); err == nil {
		if _, err := sched.Calibrate(ctx); err != nil {
			logger.Warn("startup calibration failed", "err", err)
		}
	}

	srv := server.New(db, engine, sources, m, logger, serverOptions(cfg, port))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return srv.ListenAndServe(ctx) })

	err = ignoreCanceled(g.Wait())
	logger.Info("shut down")
	return err
}

func recordSnapshot(reg *cluster.Registry, m *metrics.Exporter) {
	if snap, err := reg.Current(); err == nil {
		m.SetSnapshot(snap.Count, snap.NonEmpty())
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
