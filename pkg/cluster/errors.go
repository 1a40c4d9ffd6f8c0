package cluster

import (
	"errors"
	"fmt"
)

var (
	// ErrLoad is matched by every *LoadError.
	ErrLoad = errors.New("cluster snapshot load failed")
	// ErrDimensionMismatch is matched by every *DimensionMismatchError.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrUnknownCluster is matched by every *UnknownClusterError.
	ErrUnknownCluster = errors.New("unknown cluster")
	// ErrNoSnapshot is returned when a registry has nothing loaded yet.
	ErrNoSnapshot = errors.New("no cluster snapshot loaded")
	// ErrNoCenters is returned by Nearest when every cluster is empty.
	ErrNoCenters = errors.New("snapshot has no non-empty clusters")
	// ErrNonFinite is matched by every *NonFiniteError.
	ErrNonFinite = errors.New("vector has non-finite component")
)

// LoadError reports a missing, malformed or inconsistent snapshot source.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("load snapshot: %v", e.Err)
	}
	return fmt.Sprintf("load snapshot %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrLoad, e.Err} }

// DimensionMismatchError reports two vectors of different length.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: want %d, got %d", e.Want, e.Got)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// UnknownClusterError reports a cluster id that is out of range, or an
// empty cluster whose center was requested.
type UnknownClusterError struct {
	ID    int
	Empty bool
}

func (e *UnknownClusterError) Error() string {
	if e.Empty {
		return fmt.Sprintf("cluster %d is empty and has no center", e.ID)
	}
	return fmt.Sprintf("unknown cluster %d", e.ID)
}

func (e *UnknownClusterError) Unwrap() error { return ErrUnknownCluster }

// NonFiniteError reports a NaN or infinite vector component.
type NonFiniteError struct {
	Index int
	Value float64
}

func (e *NonFiniteError) Error() string {
	return fmt.Sprintf("vector component %d is %v", e.Index, e.Value)
}

func (e *NonFiniteError) Unwrap() error { return ErrNonFinite }
