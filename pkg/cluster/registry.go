package cluster

import (
	"os"
	"sync/atomic"
	"time"
)

// Registry holds the snapshot currently served to requests. Readers call
// Current once per request and keep using that value; a reload swaps the
// pointer so in-flight requests never see a half-replaced snapshot.
type Registry struct {
	current atomic.Pointer[Snapshot]
	modTime atomic.Int64 // unix nanos of the last file loaded by ReloadFile
}

// NewRegistry creates a registry serving s. s may be nil.
func NewRegistry(s *Snapshot) *Registry {
	r := &Registry{}
	if s != nil {
		r.current.Store(s)
	}
	return r
}

// Current returns the active snapshot or ErrNoSnapshot.
func (r *Registry) Current() (*Snapshot, error) {
	s := r.current.Load()
	if s == nil {
		return nil, ErrNoSnapshot
	}
	return s, nil
}

// Swap installs s and returns the snapshot it replaced.
func (r *Registry) Swap(s *Snapshot) *Snapshot {
	return r.current.Swap(s)
}

// ReloadFile loads path and swaps it in. On error the old snapshot stays.
func (r *Registry) ReloadFile(path string) (*Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	r.current.Store(s)
	r.modTime.Store(info.ModTime().UnixNano())
	return s, nil
}

// Changed reports whether the file at path was modified after the last
// successful ReloadFile.
func (r *Registry) Changed(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return !info.ModTime().Equal(time.Unix(0, r.modTime.Load())), nil
}
