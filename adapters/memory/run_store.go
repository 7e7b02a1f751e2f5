// Package memory is the in-memory run store used by tests and DB-less CLI runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"narpstat/domain/analysis"
	"narpstat/domain/core"
	"narpstat/ports"
)

// RunStore keeps run artifacts in memory
type RunStore struct {
	mu   sync.RWMutex
	runs map[core.RunID]*analysis.AnalysisRun
}

// NewRunStore creates an empty in-memory store
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[core.RunID]*analysis.AnalysisRun)}
}

var _ ports.RunStore = (*RunStore)(nil)

// Save stores or replaces a run
func (s *RunStore) Save(ctx context.Context, run *analysis.AnalysisRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// Get retrieves a run by id
func (s *RunStore) Get(ctx context.Context, id core.RunID) (*analysis.AnalysisRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, core.NewNotFoundError("run", id.String())
	}
	return run, nil
}

// List returns runs newest first, optionally limited
func (s *RunStore) List(ctx context.Context, limit int) ([]*analysis.AnalysisRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]*analysis.AnalysisRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[j].CreatedAt.Before(runs[i].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
