// Package memory provides the in-process result sink.
package memory

import (
	"sync"

	"github.com/JakeFAU/hn-fanout-scraper/internal/scraper"
)

// Sink is an append-only, mutex-guarded record collection. Each Append call
// lands as one contiguous batch.
type Sink struct {
	mu      sync.RWMutex
	records []scraper.Record
}

// New returns an empty Sink.
func New() *Sink {
	return &Sink{}
}

// Append adds records in the given order.
func (s *Sink) Append(records ...scraper.Record) {
	if len(records) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

// Records returns a copy of everything appended so far.
func (s *Sink) Records() []scraper.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records appended so far.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
