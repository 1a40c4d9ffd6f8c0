// Package trend turns a cluster assignment into a trend verdict: a 0-100
// score, a category and a confidence that blends the classifier's own
// confidence with how close the item sits to its cluster center.
package trend

import (
	"github.com/elonfeng/styleradar/pkg/cluster"
)

// Analysis is the full verdict for one embedding.
type Analysis struct {
	Cluster         cluster.Assignment `json:"cluster"`
	MaxClusterSize  int                `json:"max_cluster_size"`
	Similarity      Similarity         `json:"similarity"`
	Trend           Result             `json:"trend"`
	Confidence      float64            `json:"confidence"`
	SnapshotVersion string             `json:"snapshot_version"`
}

// Engine runs the request path: nearest center, similarity, score and
// confidence. It reads the registry once per call and is safe for
// concurrent use.
type Engine struct {
	registry    *cluster.Registry
	scorer      *Scorer
	evaluator   Evaluator
	classWeight float64
}

// NewEngine creates an engine. A nil scorer uses DefaultScorer.
func NewEngine(registry *cluster.Registry, scorer *Scorer, evaluator Evaluator, classWeight float64) (*Engine, error) {
	if err := checkRange("class weight", classWeight, 0, 1); err != nil {
		return nil, err
	}
	if scorer == nil {
		scorer = DefaultScorer()
	}
	return &Engine{
		registry:    registry,
		scorer:      scorer,
		evaluator:   NewEvaluator(evaluator.Scale),
		classWeight: classWeight,
	}, nil
}

func (e *Engine) Scorer() *Scorer { return e.scorer }
func (e *Engine) Registry() *cluster.Registry { return e.registry }
func (e *Engine) Evaluator() Evaluator { return e.evaluator }
func (e *Engine) ClassWeight() float64 { return e.classWeight }

// Analyze assigns embedding to its nearest populated cluster and scores it.
// classConfidencePct is the image classifier's confidence, 0-100.
func (e *Engine) Analyze(embedding cluster.Vector, classConfidencePct float64) (*Analysis, error) {
	snap, err := e.registry.Current()
	if err != nil {
		return nil, err
	}
	a, err := snap.Nearest(embedding)
	if err != nil {
		return nil, err
	}
	return e.finish(snap, a, embedding, classConfidencePct)
}

// AnalyzeCluster scores embedding against a cluster chosen by an external
// k-means model.
func (e *Engine) AnalyzeCluster(embedding cluster.Vector, clusterID int, classConfidencePct float64) (*Analysis, error) {
	snap, err := e.registry.Current()
	if err != nil {
		return nil, err
	}
	a, err := snap.Assign(clusterID, embedding)
	if err != nil {
		return nil, err
	}
	return e.finish(snap, a, embedding, classConfidencePct)
}

func (e *Engine) finish(snap *cluster.Snapshot, a cluster.Assignment, embedding cluster.Vector, classPct float64) (*Analysis, error) {
	sim, err := e.evaluator.Evaluate(embedding, a.Center)
	if err != nil {
		return nil, err
	}

	maxSize := snap.MaxSize()
	result, err := e.scorer.Score(a.Size, maxSize, sim.Percent)
	if err != nil {
		return nil, err
	}

	conf, err := Fuse(classPct, sim.Percent, e.classWeight)
	if err != nil {
		return nil, err
	}

	return &Analysis{
		Cluster:         a,
		MaxClusterSize:  maxSize,
		Similarity:      sim,
		Trend:           result,
		Confidence:      conf,
		SnapshotVersion: snap.Version,
	}, nil
}

// Calibrate samples the current snapshot with the engine's scorer.
func (e *Engine) Calibrate(samplesPerCluster int, sample Sampler) (*Report, error) {
	snap, err := e.registry.Current()
	if err != nil {
		return nil, err
	}
	return NewAnalyzer(e.scorer).Analyze(snap, samplesPerCluster, sample)
}
