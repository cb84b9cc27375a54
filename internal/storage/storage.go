package storage

import (
	"context"

	"github.com/slok/slotrunner/internal/model"
)

// Repository is the interface for run history persistence.
type Repository interface {
	CreateRun(ctx context.Context, r model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	// ListRuns returns the runs, most recent first.
	ListRuns(ctx context.Context) ([]model.Run, error)
	UpdateRun(ctx context.Context, r model.Run) error
	// SaveOutcomes stores task outcomes (with their transitions) of a run.
	SaveOutcomes(ctx context.Context, runID string, outcomes []model.Outcome) error
	// ListOutcomes returns the outcomes of a run by attempt and in the order they were saved.
	ListOutcomes(ctx context.Context, runID string) ([]model.Outcome, error)
}
