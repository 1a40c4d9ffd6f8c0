package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/elonfeng/styleradar/internal/metrics"
	"github.com/elonfeng/styleradar/internal/store"
	"github.com/elonfeng/styleradar/pkg/cluster"
	"github.com/elonfeng/styleradar/pkg/source"
	"github.com/elonfeng/styleradar/pkg/trend"
)

// Options holds server settings.
type Options struct {
	Port int

	SamplesPerCluster int
	SamplerAlpha      float64
	SamplerBeta       float64
	SamplerSeed       uint64
}

// Server provides the HTTP API.
type Server struct {
	store   store.Store
	engine  *trend.Engine
	sources []source.Source
	metrics *metrics.Exporter
	logger  *log.Logger
	opts    Options
}

// New creates a new HTTP server. store and sources may be nil, in which
// case the endpoints that need them answer 503.
func New(s store.Store, engine *trend.Engine, sources []source.Source, m *metrics.Exporter, logger *log.Logger, opts Options) *Server {
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if opts.SamplesPerCluster <= 0 {
		opts.SamplesPerCluster = 50
	}
	if opts.SamplerAlpha <= 0 || opts.SamplerBeta <= 0 {
		opts.SamplerAlpha, opts.SamplerBeta = 2, 5
	}
	if m == nil {
		m = metrics.NewExporter(metrics.DefaultConfig())
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		store:   s,
		engine:  engine,
		sources: sources,
		metrics: m,
		logger:  logger,
		opts:    opts,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/v1/analyses", s.handleAnalyses)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/clusters", s.handleClusters)
	mux.HandleFunc("/api/v1/calibration", s.handleCalibration)
	mux.HandleFunc("/api/v1/items", s.handleItems)
	mux.HandleFunc("/api/v1/collect", s.handleCollect)
	mux.Handle("/metrics", s.metrics)
	return mux
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return ctx.Err()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "snapshot_loaded": false}
	if snap, err := s.engine.Registry().Current(); err == nil {
		resp["snapshot_loaded"] = true
		resp["snapshot_version"] = snap.Version
	}
	writeJSON(w, http.StatusOK, resp)
}

type analyzeRequest struct {
	Embedding       []float64 `json:"embedding"`
	ClassConfidence *float64  `json:"class_confidence"`
	ClusterID       *int      `json:"cluster_id,omitempty"`
	Label           string    `json:"label,omitempty"`
	Save            bool      `json:"save,omitempty"`
}

type analyzeResponse struct {
	*trend.Analysis
	ID string `json:"id,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if len(req.Embedding) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("embedding is required"))
		return
	}
	if req.ClassConfidence == nil {
		writeError(w, http.StatusBadRequest, errors.New("class_confidence is required"))
		return
	}

	var (
		a   *trend.Analysis
		err error
	)
	if req.ClusterID != nil {
		a, err = s.engine.AnalyzeCluster(req.Embedding, *req.ClusterID, *req.ClassConfidence)
	} else {
		a, err = s.engine.Analyze(req.Embedding, *req.ClassConfidence)
	}
	if err != nil {
		s.metrics.RecordAnalysisError(metrics.Kind(err))
		writeError(w, statusFor(err), err)
		return
	}
	s.metrics.RecordAnalysis(a.Trend.Category.String(), "api", a.Trend.Score, a.Confidence)

	resp := analyzeResponse{Analysis: a}
	if req.Save {
		if s.store == nil {
			writeError(w, http.StatusServiceUnavailable, errors.New("no store configured"))
			return
		}
		rec := store.NewAnalysis("", req.Label, *req.ClassConfidence, a)
		if err := s.store.SaveAnalysis(r.Context(), rec); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.ID = rec.ID
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	opts := store.AnalysisListOpts{Limit: 50}
	if c := q.Get("category"); c != "" {
		cat, err := trend.ParseCategory(c)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opts.Category = cat.String()
	}
	if v := q.Get("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("min_score: %w", err))
			return
		}
		opts.MinScore = f
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer"))
			return
		}
		opts.Limit = min(n, 500)
	}
	if since := q.Get("since"); since != "" {
		t, err := parseSince(since)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opts.Since = t
	}

	analyses, err := s.store.ListAnalyses(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  analyses,
		"count": len(analyses),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w, r, http.MethodGet) {
		return
	}
	counts, err := s.store.CategoryCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": counts})
}

type clusterInfo struct {
	ID   int `json:"id"`
	Size int `json:"size"`
}

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	snap, err := s.engine.Registry().Current()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	top := 10
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("top: %w", err))
			return
		}
		top = n
	}

	var largest []clusterInfo
	for _, id := range snap.Largest(top) {
		size, _ := snap.SizeOf(id)
		largest = append(largest, clusterInfo{ID: id, Size: size})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version":          snap.Version,
		"source":           snap.Source,
		"loaded_at":        snap.LoadedAt,
		"cluster_count":    snap.Count,
		"populated":        snap.NonEmpty(),
		"total_items":      snap.TotalItems,
		"dimension":        snap.Dim,
		"max_cluster_size": snap.MaxSize(),
		"quality":          snap.Quality,
		"assessment":       snap.Quality.Assessment(),
		"thresholds":       s.engine.Scorer().Thresholds(),
		"largest":          largest,
	})
}

func (s *Server) handleCalibration(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !s.requireStore(w, r, http.MethodGet) {
			return
		}
		c, err := s.store.LatestCalibration(r.Context())
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("no calibration has been run"))
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, c)

	case http.MethodPost:
		samples := s.opts.SamplesPerCluster
		if v := r.URL.Query().Get("samples"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("samples: %w", err))
				return
			}
			samples = n
		}
		seed := s.opts.SamplerSeed
		if v := r.URL.Query().Get("seed"); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("seed: %w", err))
				return
			}
			seed = n
		}

		report, err := s.engine.Calibrate(samples, trend.BetaSampler(s.opts.SamplerAlpha, s.opts.SamplerBeta, seed))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		s.metrics.SetThresholdDrift(report.Drift())

		if s.store == nil {
			writeJSON(w, http.StatusOK, map[string]any{"report": report})
			return
		}
		c, err := s.store.SaveCalibration(r.Context(), report)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)

	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w, r, http.MethodGet) {
		return
	}

	opts := store.ListOpts{Limit: 100}
	if feed := r.URL.Query().Get("feed"); feed != "" {
		opts.Feed = feed
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := parseSince(since)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opts.Since = t
	}

	items, err := s.store.ListItems(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"count": len(items),
	})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w, r, http.MethodPost) {
		return
	}

	ctx := r.Context()
	results := make(map[string]int)
	var errs []string

	for _, src := range s.sources {
		items, err := src.Collect(ctx)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", src.Name(), err))
			continue
		}
		if err := s.store.UpsertItems(ctx, items); err != nil {
			errs = append(errs, fmt.Sprintf("%s store: %v", src.Name(), err))
			continue
		}
		for i := range items {
			s.metrics.RecordCollected(items[i].Feed, 1)
		}
		results[string(src.Name())] += len(items)
	}

	resp := map[string]any{"collected": results}
	if len(errs) > 0 {
		resp["errors"] = errs
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) requireStore(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return false
	}
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no store configured"))
		return false
	}
	return true
}

func parseSince(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("since must be an RFC 3339 timestamp, got %q", v)
	}
	return t, nil
}

// statusFor maps scoring errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cluster.ErrNoSnapshot), errors.Is(err, cluster.ErrNoCenters), errors.Is(err, trend.ErrNoSamples):
		return http.StatusServiceUnavailable
	case errors.Is(err, cluster.ErrUnknownCluster):
		return http.StatusNotFound
	case errors.Is(err, cluster.ErrDimensionMismatch), errors.Is(err, cluster.ErrNonFinite), errors.Is(err, trend.ErrRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
