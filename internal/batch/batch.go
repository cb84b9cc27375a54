package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/model"
)

// Runner runs a single task until it has an outcome.
type Runner interface {
	Run(ctx context.Context, task model.Task) model.Outcome
}

// RunnerFunc is a helper to use functions as Runners.
type RunnerFunc func(ctx context.Context, task model.Task) model.Outcome

func (r RunnerFunc) Run(ctx context.Context, task model.Task) model.Outcome { return r(ctx, task) }

// SchedulerConfig is the configuration of the batch scheduler.
type SchedulerConfig struct {
	Runner Runner
	// Timeout is the shared deadline of all the tasks of a batch.
	Timeout time.Duration
	// CleanupGrace is the time timed out tasks have to finish before their context is
	// cancelled.
	CleanupGrace time.Duration
	Logger       log.Logger
}

func (c *SchedulerConfig) defaults() error {
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}

	if c.Timeout <= 0 {
		c.Timeout = model.DefaultTaskTimeout
	}

	if c.CleanupGrace < 0 {
		return fmt.Errorf("cleanup grace can't be negative")
	}
	if c.CleanupGrace == 0 {
		c.CleanupGrace = model.DefaultCleanupGrace
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "batch.Scheduler"})
	return nil
}

// Scheduler runs all the tasks of a batch concurrently racing a shared deadline.
type Scheduler struct {
	runner       Runner
	timeout      time.Duration
	cleanupGrace time.Duration
	logger       log.Logger
}

// NewScheduler returns a new batch scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Scheduler{
		runner:       cfg.Runner,
		timeout:      cfg.Timeout,
		cleanupGrace: cfg.CleanupGrace,
		logger:       cfg.Logger,
	}, nil
}

type result struct {
	index   int
	outcome model.Outcome
}

// Run runs the batch and returns exactly one outcome per task. Tasks that don't finish
// before the deadline get a timeout outcome and keep running in background until
// they finish or the cleanup grace expires. Outcome order is not guaranteed.
func (s *Scheduler) Run(ctx context.Context, tasks []model.Task) []model.Outcome {
	if len(tasks) == 0 {
		return nil
	}

	start := time.Now()
	deadline := start.Add(s.timeout)

	// The tasks context is not cancelled when the batch returns, abandoned tasks are
	// only bounded by the hard deadline or an explicit cancellation of the run.
	taskCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline.Add(s.cleanupGrace))
	stopPropagation := context.AfterFunc(ctx, cancel)
	results := make(chan result, len(tasks))
	done := make(chan struct{}, len(tasks))
	for i, task := range tasks {
		go func() {
			defer func() { done <- struct{}{} }()
			results <- result{index: i, outcome: s.runTask(taskCtx, task)}
		}()
	}
	go func() {
		for range tasks {
			<-done
		}
		stopPropagation()
		cancel()
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	outcomes := make([]model.Outcome, 0, len(tasks))
	finished := make([]bool, len(tasks))
	for len(outcomes) < len(tasks) {
		select {
		case r := <-results:
			finished[r.index] = true
			outcomes = append(outcomes, r.outcome)
		case <-timer.C:
			for i, task := range tasks {
				if finished[i] {
					continue
				}
				s.logger.WithValues(log.Kv{"task_id": task.ID, "account": task.Account.Username}).Warningf("Task timed out after %s", s.timeout)
				outcomes = append(outcomes, timeoutOutcome(task, time.Since(start), s.timeout))
			}
		}
	}

	return outcomes
}

func (s *Scheduler) runTask(ctx context.Context, task model.Task) (o model.Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithValues(log.Kv{"task_id": task.ID, "account": task.Account.Username}).Errorf("Task panicked: %v\n%s", r, debug.Stack())
			meta := model.OutcomeFromTask(task)
			meta.Duration = time.Since(start)
			o = model.NewErroredOutcome(meta, model.ErrorKindUnknown, "", fmt.Sprintf("unexpected fault: %v", r))
		}
	}()

	return s.runner.Run(ctx, task)
}

func timeoutOutcome(task model.Task, elapsed, timeout time.Duration) model.Outcome {
	meta := model.OutcomeFromTask(task)
	meta.Duration = elapsed
	return model.NewErroredOutcome(meta, model.ErrorKindTimeout, "", fmt.Sprintf("task didn't finish in %s", timeout))
}
