// Package store keeps the most recent reports in a bounded, insertion ordered buffer.
package store

import (
	"fmt"
	"sync"

	"github.com/ubuntu/ais-insights/internal/models"
)

// Store is a fixed capacity FIFO of reports, safe for one writer and many readers.
//
// When full, inserting a report evicts the oldest one.
type Store struct {
	mu sync.RWMutex

	buf   []models.Report
	start int // index of the oldest report
	size  int
}

// New returns an empty store holding at most capacity reports.
func New(capacity int) (*Store, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("store capacity must be positive, got %d", capacity)
	}
	return &Store{buf: make([]models.Report, capacity)}, nil
}

// Insert appends r, evicting the oldest report first if the store is full.
// It reports whether a report was evicted.
func (s *Store) Insert(r models.Report) (evicted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size == len(s.buf) {
		s.buf[s.start] = r
		s.start = (s.start + 1) % len(s.buf)
		return true
	}

	s.buf[(s.start+s.size)%len(s.buf)] = r
	s.size++
	return false
}

// Snapshot returns a copy of the current reports, oldest first.
func (s *Store) Snapshot() []models.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Report, s.size)
	n := copy(out, s.buf[s.start:min(s.start+s.size, len(s.buf))])
	copy(out[n:], s.buf[:s.size-n])
	return out
}

// Len returns the number of reports currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Cap returns the maximum number of reports the store holds.
func (s *Store) Cap() int {
	return len(s.buf)
}
