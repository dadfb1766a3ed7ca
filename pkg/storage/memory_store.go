package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/polisai/polis-docintel/pkg/domain"
)

// MemoryRunStore is an in-memory implementation of RunStore.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]domain.PipelineRun
}

// NewMemoryRunStore creates a new MemoryRunStore.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]domain.PipelineRun),
	}
}

// Save stores a run in memory.
func (s *MemoryRunStore) Save(_ context.Context, run domain.PipelineRun) error {
	if run.ID == "" {
		return fmt.Errorf("save run: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	return nil
}

// Get retrieves a run from memory.
func (s *MemoryRunStore) Get(_ context.Context, id string) (domain.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return domain.PipelineRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// List returns up to limit runs, newest first.
func (s *MemoryRunStore) List(_ context.Context, limit int) ([]domain.PipelineRun, error) {
	s.mu.RLock()
	out := make([]domain.PipelineRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	if n := normalizeLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Close is a no-op for memory store.
func (s *MemoryRunStore) Close() error {
	return nil
}

func sortNewestFirst(runs []domain.PipelineRun) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
