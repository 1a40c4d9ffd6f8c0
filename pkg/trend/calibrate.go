package trend

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/elonfeng/styleradar/pkg/cluster"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrNoSamples is returned when a snapshot has no populated cluster to sample.
var ErrNoSamples = errors.New("no populated clusters to sample")

// Sampler draws one similarity percentage. Values are clamped to [0, 100].
type Sampler func() float64

// BetaSampler draws similarities from Beta(alpha, beta) scaled to 0-100.
// Alpha 2, beta 5 gives the right-skewed shape seen in production, where
// most items sit far from their center.
func BetaSampler(alpha, beta float64, seed uint64) Sampler {
	dist := distuv.Beta{
		Alpha: alpha,
		Beta:  beta,
		Src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
	}
	return func() float64 { return dist.Rand() * 100 }
}

// ConstantSampler always returns pct.
func ConstantSampler(pct float64) Sampler {
	return func() float64 { return pct }
}

// Percentiles of a pooled score distribution.
type Percentiles struct {
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
}

// Split is the share of samples per category, each in [0, 1].
type Split struct {
	NotTrending float64 `json:"not_trending"`
	Neutral     float64 `json:"neutral"`
	Trending    float64 `json:"trending"`
}

// Report is the outcome of a calibration run.
type Report struct {
	SnapshotVersion   string      `json:"snapshot_version"`
	Clusters          int         `json:"clusters"`
	SamplesPerCluster int         `json:"samples_per_cluster"`
	Samples           int         `json:"samples"`
	Min               float64     `json:"min"`
	Max               float64     `json:"max"`
	Mean              float64     `json:"mean"`
	StdDev            float64     `json:"std_dev"`
	Percentiles       Percentiles `json:"percentiles"`
	Current           Thresholds  `json:"current"`
	Suggested         Thresholds  `json:"suggested"`
	CurrentSplit      Split       `json:"current_split"`
	SuggestedSplit    Split       `json:"suggested_split"`
	// Degenerate is set when the pooled scores are too uniform for the
	// suggested pair to satisfy Low < High. Such a pair must not be applied.
	Degenerate        bool        `json:"degenerate"`
	CreatedAt         time.Time   `json:"created_at"`
}

// Drift is the largest gap between a configured and a suggested threshold.
func (r *Report) Drift() float64 {
	return math.Max(math.Abs(r.Current.Low-r.Suggested.Low), math.Abs(r.Current.High-r.Suggested.High))
}

// Analyzer samples a snapshot offline to recommend thresholds that split
// scores roughly 25/50/25 across the three categories.
type Analyzer struct {
	scorer *Scorer
}

// NewAnalyzer scores samples with s; nil uses DefaultScorer.
func NewAnalyzer(s *Scorer) *Analyzer {
	if s == nil {
		s = DefaultScorer()
	}
	return &Analyzer{scorer: s}
}

// Analyze draws min(samplesPerCluster, size) similarities for every
// populated cluster, scores them against the snapshot's largest cluster, and
// reports percentiles of the pooled scores. The suggested thresholds are the
// 25th and 75th percentiles.
func (a *Analyzer) Analyze(snap *cluster.Snapshot, samplesPerCluster int, sample Sampler) (*Report, error) {
	if snap == nil {
		return nil, cluster.ErrNoSnapshot
	}
	if samplesPerCluster < 1 {
		return nil, &RangeError{Field: "samples per cluster", Value: float64(samplesPerCluster), Min: 1, Max: math.Inf(1)}
	}
	if sample == nil {
		return nil, fmt.Errorf("calibration needs a sampler")
	}

	maxSize := snap.MaxSize()
	report := &Report{
		SnapshotVersion:   snap.Version,
		SamplesPerCluster: samplesPerCluster,
		Current:           a.scorer.Thresholds(),
		CreatedAt:         time.Now().UTC(),
	}

	var scores []float64
	for _, id := range snap.IDs() {
		size, err := snap.SizeOf(id)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			continue
		}
		report.Clusters++

		n := min(samplesPerCluster, size)
		for i := 0; i < n; i++ {
			sim := sample()
			if math.IsNaN(sim) {
				sim = 0
			}
			sim = clamp(sim, 0, 100)
			r, err := a.scorer.Score(size, maxSize, sim)
			if err != nil {
				return nil, err
			}
			scores = append(scores, r.Score)
		}
	}
	if len(scores) == 0 {
		return nil, ErrNoSamples
	}

	sort.Float64s(scores)
	report.Samples = len(scores)
	report.Min = scores[0]
	report.Max = scores[len(scores)-1]
	report.Mean = stat.Mean(scores, nil)
	if len(scores) > 1 {
		report.StdDev = stat.StdDev(scores, nil)
	}
	report.Percentiles = Percentiles{
		P25: stat.Quantile(0.25, stat.Empirical, scores, nil),
		P50: stat.Quantile(0.50, stat.Empirical, scores, nil),
		P75: stat.Quantile(0.75, stat.Empirical, scores, nil),
		P90: stat.Quantile(0.90, stat.Empirical, scores, nil),
	}
	report.Suggested = Thresholds{Low: report.Percentiles.P25, High: report.Percentiles.P75}
	report.Degenerate = report.Suggested.Validate() != nil
	report.CurrentSplit = split(scores, report.Current)
	report.SuggestedSplit = split(scores, report.Suggested)
	return report, nil
}

func split(scores []float64, t Thresholds) Split {
	var counts [3]int
	for _, s := range scores {
		counts[Categorize(s, t.Low, t.High)]++
	}
	n := float64(len(scores))
	return Split{
		NotTrending: float64(counts[NotTrending]) / n,
		Neutral:     float64(counts[Neutral]) / n,
		Trending:    float64(counts[Trending]) / n,
	}
}
