package cluster

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// fileSnapshot is the on-disk layout written by the offline clustering job.
type fileSnapshot struct {
	ClusterCount   *int           `json:"cluster_count"`
	ClusterCenters [][]float64    `json:"cluster_centers"`
	ClusterCounts  map[string]int `json:"cluster_counts,omitempty"`
	Sizes          map[string]int `json:"sizes,omitempty"`
	Metrics        *fileMetrics   `json:"metrics"`
	TotalItems     *int           `json:"total_items,omitempty"`
}

type fileMetrics struct {
	Silhouette       *float64 `json:"silhouette"`
	CalinskiHarabasz *float64 `json:"calinski_harabasz"`
	DaviesBouldin    *float64 `json:"davies_bouldin"`
}

// Load reads a snapshot from a JSON file.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	return decode(data, path)
}

// Decode reads a snapshot from r. source names it in errors.
func Decode(r io.Reader, source string) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &LoadError{Source: source, Err: err}
	}
	return decode(data, source)
}

func decode(data []byte, source string) (*Snapshot, error) {
	var f fileSnapshot
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &LoadError{Source: source, Err: fmt.Errorf("parse json: %w", err)}
	}

	s, err := f.snapshot()
	if err != nil {
		return nil, &LoadError{Source: source, Err: err}
	}

	sum := sha256.Sum256(data)
	s.Version = hex.EncodeToString(sum[:6])
	s.Source = source
	return s, nil
}

func (f *fileSnapshot) snapshot() (*Snapshot, error) {
	var missing []error
	if f.ClusterCount == nil {
		missing = append(missing, errors.New("missing key cluster_count"))
	}
	if f.ClusterCenters == nil {
		missing = append(missing, errors.New("missing key cluster_centers"))
	}
	if f.ClusterCounts == nil && f.Sizes == nil {
		missing = append(missing, errors.New("missing key cluster_counts"))
	}
	if f.Metrics == nil {
		missing = append(missing, errors.New("missing key metrics"))
	} else {
		if f.Metrics.Silhouette == nil {
			missing = append(missing, errors.New("missing key metrics.silhouette"))
		}
		if f.Metrics.CalinskiHarabasz == nil {
			missing = append(missing, errors.New("missing key metrics.calinski_harabasz"))
		}
		if f.Metrics.DaviesBouldin == nil {
			missing = append(missing, errors.New("missing key metrics.davies_bouldin"))
		}
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}

	count := *f.ClusterCount
	if len(f.ClusterCenters) != count {
		return nil, fmt.Errorf("cluster_centers has %d rows for cluster_count %d", len(f.ClusterCenters), count)
	}

	rawSizes := f.ClusterCounts
	if rawSizes == nil {
		rawSizes = f.Sizes
	}
	sizes := make(map[int]int, len(rawSizes))
	for key, n := range rawSizes {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("cluster_counts key %q is not an integer id", key)
		}
		sizes[id] = n
	}

	centers := make(map[int]Vector, count)
	for id, row := range f.ClusterCenters {
		centers[id] = Vector(row)
	}

	q := Quality{
		Silhouette:       *f.Metrics.Silhouette,
		CalinskiHarabasz: *f.Metrics.CalinskiHarabasz,
		DaviesBouldin:    *f.Metrics.DaviesBouldin,
	}
	return build(count, sizes, centers, q, f.TotalItems)
}

// Encode writes s in the same layout Load reads. Empty clusters without a
// center are written as null rows.
func Encode(w io.Writer, s *Snapshot) error {
	count := s.Count
	total := s.TotalItems
	f := fileSnapshot{
		ClusterCount:   &count,
		ClusterCenters: make([][]float64, s.Count),
		ClusterCounts:  make(map[string]int, s.Count),
		Metrics: &fileMetrics{
			Silhouette:       &s.Quality.Silhouette,
			CalinskiHarabasz: &s.Quality.CalinskiHarabasz,
			DaviesBouldin:    &s.Quality.DaviesBouldin,
		},
		TotalItems: &total,
	}
	for id, c := range s.Centers() {
		f.ClusterCenters[id] = c
	}
	for id, n := range s.sizes {
		f.ClusterCounts[strconv.Itoa(id)] = n
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&f); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// Save writes s to path, replacing any existing file atomically.
func Save(path string, s *Snapshot) error {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot %s: %w", path, err)
	}
	return nil
}
