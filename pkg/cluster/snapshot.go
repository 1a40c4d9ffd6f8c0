// Package cluster holds the read-only result of an offline clustering run:
// cluster sizes, center vectors and aggregate quality metrics.
package cluster

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Quality carries the aggregate metrics computed when the clusters were fit.
type Quality struct {
	Silhouette       float64 `json:"silhouette"`
	CalinskiHarabasz float64 `json:"calinski_harabasz"`
	DaviesBouldin    float64 `json:"davies_bouldin"`
}

// Assessment describes the metrics in words for operators.
func (q Quality) Assessment() string {
	var parts []string

	switch {
	case q.Silhouette > 0.7:
		parts = append(parts, "excellent cluster separation")
	case q.Silhouette > 0.5:
		parts = append(parts, "good cluster separation")
	case q.Silhouette > 0.25:
		parts = append(parts, "moderate cluster separation")
	case q.Silhouette > 0:
		parts = append(parts, "weak cluster separation")
	default:
		parts = append(parts, "poor cluster separation")
	}

	// Davies-Bouldin: lower is better.
	switch {
	case q.DaviesBouldin < 1.0:
		parts = append(parts, "well-defined clusters")
	case q.DaviesBouldin < 2.0:
		parts = append(parts, "moderately defined clusters")
	default:
		parts = append(parts, "poorly defined clusters")
	}

	return strings.Join(parts, ", ")
}

// Assignment is the cluster an embedding was matched to.
type Assignment struct {
	ClusterID int     `json:"cluster_id"`
	Size      int     `json:"cluster_size"`
	Center    Vector  `json:"-"`
	Distance  float64 `json:"distance"`
}

// Snapshot is an immutable view of a fitted clustering result. It is safe
// for concurrent reads; replace it wholesale through a Registry.
type Snapshot struct {
	Count      int       `json:"cluster_count"`
	TotalItems int       `json:"total_items"`
	Dim        int       `json:"dim"`
	Quality    Quality   `json:"metrics"`
	Version    string    `json:"version"`
	Source     string    `json:"source"`
	LoadedAt   time.Time `json:"loaded_at"`

	sizes   []int
	centers *mat.Dense // Count x Dim, nil when no cluster has a center
	present []bool
}

// New validates the given parts and builds a snapshot. Cluster ids run from
// 0 to count-1. A cluster missing from sizes has size 0; a cluster with
// size 0 may omit its center (or pass nil).
func New(count int, sizes map[int]int, centers map[int]Vector, q Quality) (*Snapshot, error) {
	s, err := build(count, sizes, centers, q, nil)
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	return s, nil
}

func build(count int, sizes map[int]int, centers map[int]Vector, q Quality, total *int) (*Snapshot, error) {
	if count <= 0 {
		return nil, fmt.Errorf("cluster_count must be positive, got %d", count)
	}

	s := &Snapshot{
		Count:    count,
		Quality:  q,
		LoadedAt: time.Now().UTC(),
		sizes:    make([]int, count),
		present:  make([]bool, count),
	}

	sum := 0
	for id, n := range sizes {
		if id < 0 || id >= count {
			return nil, fmt.Errorf("size given for cluster %d outside [0, %d)", id, count)
		}
		if n < 0 {
			return nil, fmt.Errorf("cluster %d has negative size %d", id, n)
		}
		s.sizes[id] = n
		sum += n
	}
	if total != nil && *total != sum {
		return nil, fmt.Errorf("total_items %d does not match sum of sizes %d", *total, sum)
	}
	s.TotalItems = sum

	for id, c := range centers {
		if id < 0 || id >= count {
			return nil, fmt.Errorf("center given for cluster %d outside [0, %d)", id, count)
		}
		if c == nil {
			continue
		}
		if len(c) == 0 {
			return nil, fmt.Errorf("cluster %d has a zero-length center", id)
		}
		if s.Dim == 0 {
			s.Dim = len(c)
		} else if len(c) != s.Dim {
			return nil, fmt.Errorf("cluster %d center has dimension %d, want %d", id, len(c), s.Dim)
		}
		for _, f := range c {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("cluster %d center has a non-finite value", id)
			}
		}
		s.present[id] = true
	}

	for id, n := range s.sizes {
		if n > 0 && !s.present[id] {
			return nil, fmt.Errorf("cluster %d has %d items but no center", id, n)
		}
	}

	if s.Dim > 0 {
		s.centers = mat.NewDense(count, s.Dim, nil)
		for id, c := range centers {
			if c != nil {
				s.centers.SetRow(id, c)
			}
		}
	}
	return s, nil
}

// IDs returns every cluster id in ascending order, empty clusters included.
func (s *Snapshot) IDs() []int {
	ids := make([]int, s.Count)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// SizeOf returns the population of a cluster; 0 for a valid empty cluster.
func (s *Snapshot) SizeOf(id int) (int, error) {
	if id < 0 || id >= s.Count {
		return 0, &UnknownClusterError{ID: id}
	}
	return s.sizes[id], nil
}

// CenterOf returns a copy of a cluster's center. Empty clusters have no
// meaningful center and are rejected.
func (s *Snapshot) CenterOf(id int) (Vector, error) {
	if id < 0 || id >= s.Count {
		return nil, &UnknownClusterError{ID: id}
	}
	if s.sizes[id] == 0 || !s.present[id] {
		return nil, &UnknownClusterError{ID: id, Empty: true}
	}
	return mat.Row(nil, id, s.centers), nil
}

// MaxSize returns the largest cluster size, or 1 when every cluster is empty.
func (s *Snapshot) MaxSize() int {
	max := 0
	for _, n := range s.sizes {
		if n > max {
			max = n
		}
	}
	if max == 0 {
		return 1
	}
	return max
}

// NonEmpty returns the number of clusters with at least one item.
func (s *Snapshot) NonEmpty() int {
	n := 0
	for _, size := range s.sizes {
		if size > 0 {
			n++
		}
	}
	return n
}

// Sizes returns a copy of the per-cluster sizes, empty clusters included.
func (s *Snapshot) Sizes() map[int]int {
	out := make(map[int]int, s.Count)
	for id, n := range s.sizes {
		out[id] = n
	}
	return out
}

// Centers returns a copy of every stored center, keyed by cluster id.
func (s *Snapshot) Centers() map[int]Vector {
	out := make(map[int]Vector, s.Count)
	for id, ok := range s.present {
		if ok {
			out[id] = mat.Row(nil, id, s.centers)
		}
	}
	return out
}

// Largest returns up to n cluster ids ordered by size, largest first.
func (s *Snapshot) Largest(n int) []int {
	ids := s.IDs()
	sort.SliceStable(ids, func(i, j int) bool {
		return s.sizes[ids[i]] > s.sizes[ids[j]]
	})
	if n >= 0 && n < len(ids) {
		ids = ids[:n]
	}
	return ids
}

// Nearest assigns v to the closest non-empty cluster center, the same rule a
// k-means model applies at predict time. Ties go to the lower id.
func (s *Snapshot) Nearest(v Vector) (Assignment, error) {
	if s.centers == nil {
		return Assignment{}, ErrNoCenters
	}
	if len(v) != s.Dim {
		return Assignment{}, &DimensionMismatchError{Want: s.Dim, Got: len(v)}
	}
	if err := checkFinite(v); err != nil {
		return Assignment{}, err
	}

	best := -1
	bestDist := math.Inf(1)
	for id := 0; id < s.Count; id++ {
		if s.sizes[id] == 0 || !s.present[id] {
			continue
		}
		// Components near MaxFloat64 can overflow to +Inf; the first
		// populated cluster still wins then.
		d := floats.Distance(s.centers.RawRowView(id), v, 2)
		if best < 0 || d < bestDist {
			best, bestDist = id, d
		}
	}
	if best < 0 {
		return Assignment{}, ErrNoCenters
	}

	return Assignment{
		ClusterID: best,
		Size:      s.sizes[best],
		Center:    mat.Row(nil, best, s.centers),
		Distance:  bestDist,
	}, nil
}

// Assign builds the assignment for an externally chosen cluster id, as
// returned by a k-means model that runs out of process.
func (s *Snapshot) Assign(id int, v Vector) (Assignment, error) {
	center, err := s.CenterOf(id)
	if err != nil {
		return Assignment{}, err
	}
	d, err := Distance(v, center)
	if err != nil {
		return Assignment{}, err
	}
	return Assignment{ClusterID: id, Size: s.sizes[id], Center: center, Distance: d}, nil
}
