package trend

import (
	"fmt"
	"math"
	"strings"
)

// Category is the trend verdict derived from a score.
type Category int

const (
	NotTrending Category = iota
	Neutral
	Trending
)

// Categories lists every category from lowest to highest.
func Categories() []Category {
	return []Category{NotTrending, Neutral, Trending}
}

func (c Category) String() string {
	switch c {
	case NotTrending:
		return "not_trending"
	case Neutral:
		return "neutral"
	case Trending:
		return "trending"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Label is the human-facing name.
func (c Category) Label() string {
	switch c {
	case NotTrending:
		return "Not Trending"
	case Neutral:
		return "Neutral"
	case Trending:
		return "Trending"
	}
	return c.String()
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory accepts the String form, case-insensitively.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "not_trending", "not-trending", "nottrending":
		return NotTrending, nil
	case "neutral":
		return Neutral, nil
	case "trending":
		return Trending, nil
	}
	return 0, fmt.Errorf("unknown trend category %q", s)
}

// Thresholds split the score range into three categories.
type Thresholds struct {
	Low  float64 `json:"low" yaml:"low_threshold"`
	High float64 `json:"high" yaml:"high_threshold"`
}

// DefaultThresholds are the historical cut points. They are known to skew
// the category split and should be replaced with calibrated values.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 16, High: 42}
}

// Validate checks Low < High.
func (t Thresholds) Validate() error {
	if math.IsNaN(t.Low) || math.IsNaN(t.High) || t.Low >= t.High {
		return fmt.Errorf("low threshold %.2f must be below high threshold %.2f", t.Low, t.High)
	}
	return nil
}

// Categorize buckets a score: below low is NotTrending, at or above high is
// Trending, everything between is Neutral.
func Categorize(score, low, high float64) Category {
	switch {
	case score < low:
		return NotTrending
	case score < high:
		return Neutral
	default:
		return Trending
	}
}

// Weights control how cluster size and similarity compose into a score.
type Weights struct {
	Size           float64 `json:"size" yaml:"size_weight"`
	Similarity     float64 `json:"similarity" yaml:"similarity_weight"`
	BonusThreshold float64 `json:"bonus_threshold" yaml:"bonus_threshold"`
	BonusDivisor   float64 `json:"bonus_divisor" yaml:"bonus_divisor"`
	BonusCap       float64 `json:"bonus_cap" yaml:"bonus_cap"`
}

// DefaultWeights gives size up to 40 points, similarity up to 60, and a
// bonus of size/100 (max 10) for clusters above 100 items.
func DefaultWeights() Weights {
	return Weights{
		Size:           40,
		Similarity:     60,
		BonusThreshold: 100,
		BonusDivisor:   100,
		BonusCap:       10,
	}
}

// Validate rejects negative weights and a non-positive bonus divisor.
func (w Weights) Validate() error {
	if w.Size < 0 || w.Similarity < 0 || w.BonusCap < 0 || w.BonusThreshold < 0 {
		return fmt.Errorf("score weights must be non-negative")
	}
	if w.BonusDivisor <= 0 {
		return fmt.Errorf("bonus divisor must be positive, got %.2f", w.BonusDivisor)
	}
	return nil
}

// Components breaks a score into its parts.
type Components struct {
	SizeScore              float64 `json:"size_score"`
	SimilarityContribution float64 `json:"similarity_contribution"`
	SizeBonus              float64 `json:"size_bonus"`
}

// Result is a scored item.
type Result struct {
	Score      float64    `json:"score"`
	Category   Category   `json:"category"`
	Components Components `json:"components"`
}

// Scorer computes trend scores. It is immutable and safe for concurrent use.
type Scorer struct {
	weights    Weights
	thresholds Thresholds
}

// NewScorer validates w and t.
func NewScorer(w Weights, t Thresholds) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w, thresholds: t}, nil
}

// DefaultScorer uses DefaultWeights and DefaultThresholds.
func DefaultScorer() *Scorer {
	return &Scorer{weights: DefaultWeights(), thresholds: DefaultThresholds()}
}

func (s *Scorer) Weights() Weights { return s.weights }
func (s *Scorer) Thresholds() Thresholds { return s.thresholds }

// WithThresholds returns a copy of s using t.
func (s *Scorer) WithThresholds(t Thresholds) (*Scorer, error) {
	return NewScorer(s.weights, t)
}

// Score composes a 0-100 score from the item's cluster size relative to the
// largest cluster and its similarity percentage. A maxClusterSize below 1 is
// treated as 1; an empty cluster scores on similarity alone. A similarity
// outside [0, 100] or a negative size is a *RangeError.
func (s *Scorer) Score(clusterSize, maxClusterSize int, similarityPct float64) (Result, error) {
	if err := checkRange("similarity", similarityPct, 0, 100); err != nil {
		return Result{}, err
	}
	if clusterSize < 0 {
		return Result{}, &RangeError{Field: "cluster size", Value: float64(clusterSize), Min: 0, Max: math.Inf(1)}
	}
	if maxClusterSize < 1 {
		maxClusterSize = 1
	}
	w := s.weights
	size := float64(clusterSize)

	c := Components{
		SizeScore:              size / float64(maxClusterSize) * w.Size,
		SimilarityContribution: similarityPct / 100 * w.Similarity,
	}
	if size > w.BonusThreshold {
		c.SizeBonus = math.Min(w.BonusCap, size/w.BonusDivisor)
	}

	score := math.Min(100, c.SizeScore+c.SimilarityContribution+c.SizeBonus)
	return Result{
		Score:      score,
		Category:   s.Categorize(score),
		Components: c,
	}, nil
}

// Categorize buckets score with the scorer's thresholds.
func (s *Scorer) Categorize(score float64) Category {
	return Categorize(score, s.thresholds.Low, s.thresholds.High)
}
