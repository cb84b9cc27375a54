package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/storage"
)

// LatestRunID selects the most recent run.
const LatestRunID = "latest"

// ServiceConfig is the configuration for the status service.
type ServiceConfig struct {
	Repository storage.Repository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Status"})

	return nil
}

// Service retrieves a run detail with its task outcomes.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new status service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the status request parameters.
type Request struct {
	// RunID is the run to query, `latest` or empty selects the most recent run.
	RunID string
}

// Result is the run detail.
type Result struct {
	Run      model.Run
	Outcomes []model.Outcome
}

// Run retrieves the run and all its outcomes, retry attempts included.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	runID := req.RunID
	if runID == "" || runID == LatestRunID {
		runs, err := s.repo.ListRuns(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not list runs: %w", err)
		}
		if len(runs) == 0 {
			return nil, fmt.Errorf("there are no runs: %w", model.ErrNotFound)
		}
		runID = runs[0].ID
		s.logger.Debugf("latest run is %s", runID)
	}

	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("run not found: %s: %w", runID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get run: %w", err)
	}

	outcomes, err := s.repo.ListOutcomes(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("could not list run outcomes: %w", err)
	}

	return &Result{Run: *run, Outcomes: outcomes}, nil
}
