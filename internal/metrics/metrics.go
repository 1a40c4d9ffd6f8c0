// Package metrics exports scoring and pipeline metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "styleradar"

// Exporter holds every metric the service records.
type Exporter struct {
	registry *prometheus.Registry

	analyses       *prometheus.CounterVec
	analysisErrors *prometheus.CounterVec
	scores         prometheus.Histogram
	confidence     prometheus.Histogram
	embedLatency   prometheus.Histogram

	reloads        *prometheus.CounterVec
	clusters       prometheus.Gauge
	populated      prometheus.Gauge
	collected      *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	thresholdDrift prometheus.Gauge
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for embedder latency (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns the default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewExporter creates and registers all metrics.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.analyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trend",
			Name:      "analyses_total",
			Help:      "Images analyzed, by trend category",
		},
		[]string{"category", "origin"},
	)

	e.analysisErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trend",
			Name:      "analysis_errors_total",
			Help:      "Analyses that failed, by error kind",
		},
		[]string{"kind"},
	)

	e.scores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trend",
			Name:      "score",
			Help:      "Distribution of trend scores (0-100)",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		},
	)

	e.confidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trend",
			Name:      "confidence",
			Help:      "Distribution of fused confidence (0-1)",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	e.embedLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedder",
			Name:      "latency_seconds",
			Help:      "Embedding request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.reloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "reloads_total",
			Help:      "Snapshot reload attempts",
		},
		[]string{"status"},
	)

	e.clusters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "clusters",
			Help:      "Clusters in the loaded snapshot",
		},
	)

	e.populated = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "populated_clusters",
			Help:      "Clusters with at least one member",
		},
	)

	e.collected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "items_collected_total",
			Help:      "Image items collected, by source",
		},
		[]string{"source"},
	)

	e.alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "sent_total",
			Help:      "Alerts broadcast, by kind and status",
		},
		[]string{"kind", "status"},
	)

	e.thresholdDrift = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "calibration",
			Name:      "threshold_drift",
			Help:      "Largest gap between configured and suggested thresholds",
		},
	)

	registry.MustRegister(
		e.analyses,
		e.analysisErrors,
		e.scores,
		e.confidence,
		e.embedLatency,
		e.reloads,
		e.clusters,
		e.populated,
		e.collected,
		e.alerts,
		e.thresholdDrift,
	)

	return e
}

// RecordAnalysis records one successful analysis. origin is "api" or "scheduler".
func (e *Exporter) RecordAnalysis(category, origin string, score, confidence float64) {
	e.analyses.WithLabelValues(category, origin).Inc()
	e.scores.Observe(score)
	e.confidence.Observe(confidence)
}

// RecordAnalysisError records a failed analysis.
func (e *Exporter) RecordAnalysisError(kind string) {
	e.analysisErrors.WithLabelValues(kind).Inc()
}

// RecordEmbedLatency records how long an embedding request took.
func (e *Exporter) RecordEmbedLatency(d time.Duration) {
	e.embedLatency.Observe(d.Seconds())
}

// RecordReload records a snapshot reload attempt and, on success, the new shape.
func (e *Exporter) RecordReload(success bool, clusters, populated int) {
	if !success {
		e.reloads.WithLabelValues("error").Inc()
		return
	}
	e.reloads.WithLabelValues("success").Inc()
	e.SetSnapshot(clusters, populated)
}

// SetSnapshot sets the cluster gauges without counting a reload.
func (e *Exporter) SetSnapshot(clusters, populated int) {
	e.clusters.Set(float64(clusters))
	e.populated.Set(float64(populated))
}

// RecordCollected records items collected from a source.
func (e *Exporter) RecordCollected(source string, n int) {
	e.collected.WithLabelValues(source).Add(float64(n))
}

// RecordAlert records an alert broadcast.
func (e *Exporter) RecordAlert(kind string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.alerts.WithLabelValues(kind, status).Inc()
}

// SetThresholdDrift records the latest calibration drift.
func (e *Exporter) SetThresholdDrift(v float64) {
	e.thresholdDrift.Set(v)
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
