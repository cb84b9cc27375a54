package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository.
type Repository struct {
	runs     map[string]model.Run
	outcomes map[string][]model.Outcome
	taskIDs  map[string]struct{}
	mu       sync.RWMutex
	logger   log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		runs:     make(map[string]model.Run),
		outcomes: make(map[string][]model.Outcome),
		taskIDs:  make(map[string]struct{}),
		logger:   cfg.Logger,
	}, nil
}

// CreateRun creates a new run in the repository.
func (r *Repository) CreateRun(ctx context.Context, run model.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; ok {
		return fmt.Errorf("run with id %s: %w", run.ID, model.ErrAlreadyExists)
	}

	r.runs[run.ID] = copyRun(run)
	r.logger.Debugf("Created run in repository: %s", run.ID)

	return nil
}

// GetRun retrieves a run by ID.
func (r *Repository) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, model.ErrNotFound)
	}

	runCopy := copyRun(run)
	return &runCopy, nil
}

// ListRuns returns all runs, most recent first.
func (r *Repository) ListRuns(ctx context.Context) ([]model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]model.Run, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, copyRun(run))
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	return runs, nil
}

// UpdateRun updates an existing run.
func (r *Repository) UpdateRun(ctx context.Context, run model.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; !ok {
		return fmt.Errorf("run %s: %w", run.ID, model.ErrNotFound)
	}

	r.runs[run.ID] = copyRun(run)
	r.logger.Debugf("Updated run in repository: %s", run.ID)

	return nil
}

// SaveOutcomes stores the outcomes of a run, nothing is stored if any of them is invalid.
func (r *Repository) SaveOutcomes(ctx context.Context, runID string, outcomes []model.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[runID]; !ok {
		return fmt.Errorf("run %s: %w", runID, model.ErrNotFound)
	}

	seen := map[string]struct{}{}
	for _, o := range outcomes {
		_, stored := r.taskIDs[o.TaskID]
		_, dup := seen[o.TaskID]
		if stored || dup {
			return fmt.Errorf("outcome %s already exists: %w", o.TaskID, model.ErrAlreadyExists)
		}
		seen[o.TaskID] = struct{}{}
	}

	for _, o := range outcomes {
		r.taskIDs[o.TaskID] = struct{}{}
		r.outcomes[runID] = append(r.outcomes[runID], copyOutcome(o))
	}

	r.logger.Debugf("Saved %d outcomes for run %s", len(outcomes), runID)
	return nil
}

// ListOutcomes returns the outcomes of a run ordered by attempt and insertion.
func (r *Repository) ListOutcomes(ctx context.Context, runID string) ([]model.Outcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.outcomes[runID]
	outcomes := make([]model.Outcome, 0, len(stored))
	for _, o := range stored {
		outcomes = append(outcomes, copyOutcome(o))
	}

	sort.SliceStable(outcomes, func(i, j int) bool { return outcomes[i].Attempt < outcomes[j].Attempt })

	return outcomes, nil
}

func copyRun(run model.Run) model.Run {
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		run.FinishedAt = &t
	}
	return run
}

func copyOutcome(o model.Outcome) model.Outcome {
	if o.Booking != nil {
		b := *o.Booking
		o.Booking = &b
	}
	if o.Error != nil {
		e := *o.Error
		o.Error = &e
	}
	o.Transitions = slices.Clone(o.Transitions)
	return o
}
