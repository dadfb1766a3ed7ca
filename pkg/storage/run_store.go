// Package storage persists pipeline runs. Runs are immutable once saved;
// saving a run with an existing ID replaces it.
package storage

import (
	"context"
	"errors"

	"github.com/polisai/polis-docintel/pkg/domain"
)

// ErrRunNotFound is returned when a requested run does not exist in the store.
var ErrRunNotFound = errors.New("run not found")

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 100

// RunStore exposes persistence operations for pipeline runs.
type RunStore interface {
	Save(ctx context.Context, run domain.PipelineRun) error
	Get(ctx context.Context, id string) (domain.PipelineRun, error)
	// List returns the most recent runs first.
	List(ctx context.Context, limit int) ([]domain.PipelineRun, error)
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
