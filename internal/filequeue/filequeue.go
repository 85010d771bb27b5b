// Package filequeue implements a durable work queue backed by a single JSON
// array file.
//
// Every read and write is guarded by the store's lock, and writes go to a
// sibling temporary file that is atomically renamed over the target, so a
// concurrent reader always observes either the previous or the new complete
// array, never a partial file. A missing file is treated as an empty queue.
//
// The store is deliberately substrate-agnostic at the contract level: the
// operations (Append, LoadByStatus, UpdateStatus, Snapshot) would map
// unchanged onto an embedded KV store if file I/O ever became the bottleneck.
package filequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Record is the constraint for types stored in a [Store]. Implementations
// are value types; mutation happens through [Store.UpdateStatus] callbacks.
type Record interface {
	RecordID() string
	RecordStatus() string
}

// Store is a JSON-array file acting as a durable queue of T.
// All methods are safe for concurrent use within one process; cross-process
// writers are not supported (each file has singleton producers by design).
type Store[T Record] struct {
	path string

	mu sync.Mutex
}

// New creates a store for the file at path, ensuring the parent directory
// exists. The file itself is created lazily on first write.
func New[T Record](path string) (*Store[T], error) {
	if path == "" {
		return nil, errors.New("filequeue: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("filequeue: create parent dir for %q: %w", path, err)
	}
	return &Store[T]{path: path}, nil
}

// Path returns the backing file path.
func (s *Store[T]) Path() string { return s.path }

// Append loads the current array, appends rec, and atomically writes the
// file back.
func (s *Store[T]) Append(rec T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	records = append(records, rec)
	return s.write(records)
}

// Snapshot returns a copy of every record in the file.
func (s *Store[T]) Snapshot() ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// LoadByStatus returns every record whose status equals status, in file
// order.
func (s *Store[T]) LoadByStatus(status string) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []T
	for _, rec := range records {
		if rec.RecordStatus() == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

// UpdateStatus applies mutate to every record whose id is in ids, then
// atomically writes the file back. The mutate callback is responsible for
// setting the new status and any extra fields. Returns the number of
// records updated.
func (s *Store[T]) UpdateStatus(ids []string, mutate func(*T)) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return 0, err
	}
	updated := 0
	for i := range records {
		if _, ok := want[records[i].RecordID()]; ok {
			mutate(&records[i])
			updated++
		}
	}
	if updated == 0 {
		return 0, nil
	}
	if err := s.write(records); err != nil {
		return 0, err
	}
	return updated, nil
}

// Claim transitions the record with the given id from status from to the
// result of mutate, but only when the record still carries from at the time
// of the read-modify-write. It reports false when the record is missing or
// the transition lost a race against another writer.
func (s *Store[T]) Claim(id, from string, mutate func(*T)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return false, err
	}
	for i := range records {
		if records[i].RecordID() != id {
			continue
		}
		if records[i].RecordStatus() != from {
			return false, nil
		}
		mutate(&records[i])
		if err := s.write(records); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// load reads and parses the backing file. Caller holds s.mu.
func (s *Store[T]) load() ([]T, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filequeue: read %q: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("filequeue: parse %q: %w", s.path, err)
	}
	return records, nil
}

// write atomically replaces the backing file with the given records.
// Caller holds s.mu.
func (s *Store[T]) write(records []T) error {
	if records == nil {
		records = []T{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("filequeue: encode %q: %w", s.path, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("filequeue: create temp for %q: %w", s.path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("filequeue: write temp for %q: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filequeue: close temp for %q: %w", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filequeue: replace %q: %w", s.path, err)
	}
	return nil
}
