package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/heat-island-pipeline/internal/pipeline"
)

var (
	// ErrNotFound is returned when no run report matches.
	ErrNotFound = errors.New("no pipeline runs recorded")
)

// MemoryStore is a concurrency-safe in-memory history of run reports, oldest
// first.
type MemoryStore struct {
	mu sync.RWMutex

	runs []pipeline.Report

	// retention configuration
	maxRuns int           // max number of reports kept
	maxAge  time.Duration // optional max age by start time
	now     func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxRuns is <= 0, it is treated as unlimited.
func NewMemoryStore(maxRuns int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		maxRuns: maxRuns,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Save appends a report and enforces retention.
func (s *MemoryStore) Save(r pipeline.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, r)

	// Enforce retention by count.
	if s.maxRuns > 0 && len(s.runs) > s.maxRuns {
		over := len(s.runs) - s.maxRuns
		s.runs = s.runs[over:]
	}

	// Enforce retention by age; the report just saved is always kept.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.runs)-1; i++ {
			if !s.runs[i].StartTime.Before(cutoff) {
				break
			}
		}
		s.runs = s.runs[i:]
	}
}

// Latest returns the most recent report.
func (s *MemoryStore) Latest() (pipeline.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.runs) == 0 {
		return pipeline.Report{}, ErrNotFound
	}
	return s.runs[len(s.runs)-1], nil
}

// List returns up to limit reports, newest first. limit <= 0 returns all.
func (s *MemoryStore) List(limit int) []pipeline.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.runs)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]pipeline.Report, 0, n)
	for i := len(s.runs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.runs[i])
	}
	return out
}

// Get returns the report with the given run id.
func (s *MemoryStore) Get(runID string) (pipeline.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].RunID == runID {
			return s.runs[i], nil
		}
	}
	return pipeline.Report{}, ErrNotFound
}

// GetRange returns all reports started between from and to (inclusive).
func (s *MemoryStore) GetRange(from, to time.Time) ([]pipeline.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []pipeline.Report
	for _, r := range s.runs {
		if !r.StartTime.Before(from) && !r.StartTime.After(to) {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}
