package run

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/slotrunner/internal/batch"
	"github.com/slok/slotrunner/internal/clock"
	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/metrics"
	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/notify"
	"github.com/slok/slotrunner/internal/proxy"
	"github.com/slok/slotrunner/internal/storage"
)

// ServiceConfig is the configuration for the run service.
type ServiceConfig struct {
	// Runner runs a single booking task.
	Runner     batch.Runner
	Repository storage.Repository
	Notifier   notify.Notifier
	Metrics    metrics.Recorder
	Settings   model.Settings
	// Sleep waits between batches.
	Sleep func(ctx context.Context, d time.Duration) error
	// NewID returns unique run and task IDs.
	NewID  func() string
	Now    func() time.Time
	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}

	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Notifier == nil {
		c.Notifier = notify.Noop
	}

	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}

	c.Settings = model.DefaultSettings().Merge(c.Settings)
	if c.Settings.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Settings.BatchPause < 0 {
		return fmt.Errorf("batch pause can't be negative")
	}

	if c.Sleep == nil {
		c.Sleep = clock.Sleep
	}

	if c.NewID == nil {
		c.NewID = func() string { return ulid.Make().String() }
	}

	if c.Now == nil {
		c.Now = time.Now
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Run"})

	return nil
}

// Service runs the booking tasks of a set of accounts in batches.
type Service struct {
	cfg       ServiceConfig
	scheduler *batch.Scheduler
	logger    log.Logger
}

// NewService creates a new run service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	scheduler, err := batch.NewScheduler(batch.SchedulerConfig{
		Runner:       cfg.Runner,
		Timeout:      cfg.Settings.TaskTimeout,
		CleanupGrace: cfg.Settings.CleanupGrace,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create batch scheduler: %w", err)
	}

	return &Service{
		cfg:       cfg,
		scheduler: scheduler,
		logger:    cfg.Logger,
	}, nil
}

// Request represents the run request parameters.
type Request struct {
	Accounts []model.Account
	// Proxies are optional, tasks run without proxy when empty.
	Proxies []model.ProxyEndpoint
}

// Result is the result of a run.
type Result struct {
	RunID string
	Stats model.RunStats
	// Outcomes are all the task outcomes in execution order, retries included.
	Outcomes []model.Outcome
}

// Booked returns true if at least one account booked a slot.
func (r Result) Booked() bool { return r.Stats.Success > 0 }

// Run executes the booking tasks of all the accounts and a single retry pass over
// the errored ones. Task errors never abort the run, only configuration errors and
// failing to create the run record are returned.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Accounts) == 0 {
		return nil, fmt.Errorf("at least one account is required: %w", model.ErrConfig)
	}
	for _, acc := range req.Accounts {
		if err := acc.Validate(); err != nil {
			return nil, fmt.Errorf("invalid account: %w: %w", err, model.ErrConfig)
		}
	}

	run := model.Run{
		ID:        s.cfg.NewID(),
		Status:    model.RunStatusRunning,
		Stats:     model.NewRunStats(len(req.Accounts)),
		StartedAt: s.cfg.Now().UTC(),
	}
	if err := s.cfg.Repository.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("could not create run: %w", err)
	}

	p := &pass{
		svc:      s,
		run:      &run,
		proxies:  req.Proxies,
		accounts: map[string]model.Account{},
		logger:   s.logger.WithValues(log.Kv{"run_id": run.ID}),
	}
	p.logger.Infof("Run started with %d accounts, %d proxies and batches of %d", len(req.Accounts), len(req.Proxies), s.cfg.Settings.BatchSize)
	p.notify(ctx, notify.Event{Kind: notify.EventKindStarted})

	outcomes := p.execute(ctx, req.Accounts, 1)

	retryAccounts := p.erroredAccounts(outcomes)
	switch {
	case len(retryAccounts) == 0:
	case s.cfg.Settings.DisableRetry:
		p.logger.Infof("Retry pass disabled, %d errored accounts won't be retried", len(retryAccounts))
	case ctx.Err() != nil:
		p.logger.Warningf("Run cancelled, skipping retry pass")
	default:
		p.logger.Infof("Retrying %d errored accounts", len(retryAccounts))
		outcomes = append(outcomes, p.execute(ctx, retryAccounts, 2)...)
	}

	// Finishing the run must happen even if the run has been cancelled.
	ctx = context.WithoutCancel(ctx)
	finishedAt := s.cfg.Now().UTC()
	run.FinishedAt = &finishedAt
	run.Status = model.RunStatusFinished
	if run.Stats.Pending > 0 {
		run.Status = model.RunStatusAborted
	}
	if err := s.cfg.Repository.UpdateRun(ctx, run); err != nil {
		p.logger.Errorf("Could not store run: %s", err)
	}

	s.cfg.Metrics.ObserveRun(ctx, run.Stats, finishedAt.Sub(run.StartedAt))
	p.retry = false
	p.notify(ctx, notify.Event{Kind: notify.EventKindBatchStatus, Final: true})
	p.logger.Infof("Run %s: %s", run.Status, run.Stats)

	return &Result{
		RunID:    run.ID,
		Stats:    run.Stats,
		Outcomes: outcomes,
	}, nil
}

// pass executes the batches of a run attempt.
type pass struct {
	svc      *Service
	run      *model.Run
	proxies  []model.ProxyEndpoint
	// accounts are the executed accounts by task ID.
	accounts map[string]model.Account
	retry    bool
	logger   log.Logger
}

func (p *pass) execute(ctx context.Context, accounts []model.Account, attempt int) []model.Outcome {
	p.retry = attempt > 1
	batchSize := p.svc.cfg.Settings.BatchSize
	batches := chunk(accounts, batchSize)

	var outcomes []model.Outcome
	for bi, accs := range batches {
		if bi > 0 && p.svc.cfg.Settings.BatchPause > 0 {
			p.logger.Debugf("Waiting %s before next batch", p.svc.cfg.Settings.BatchPause)
			if err := p.svc.cfg.Sleep(ctx, p.svc.cfg.Settings.BatchPause); err != nil {
				p.logger.Warningf("Run cancelled before batch %d/%d", bi+1, len(batches))
				break
			}
		}
		if ctx.Err() != nil {
			p.logger.Warningf("Run cancelled before batch %d/%d", bi+1, len(batches))
			break
		}

		tasks := make([]model.Task, 0, len(accs))
		for i, acc := range accs {
			id := p.svc.cfg.NewID()
			p.accounts[id] = acc
			tasks = append(tasks, model.Task{
				ID:         id,
				Account:    acc,
				Proxy:      proxy.Assign(bi, i, batchSize, p.proxies),
				BatchIndex: bi,
				Index:      i,
				Attempt:    attempt,
			})
		}

		logger := p.logger.WithValues(log.Kv{"batch": bi + 1, "attempt": attempt})
		logger.Infof("Running batch %d/%d with %d tasks", bi+1, len(batches), len(tasks))
		start := p.svc.cfg.Now()
		batchOutcomes := p.svc.scheduler.Run(ctx, tasks)
		p.svc.cfg.Metrics.ObserveBatch(ctx, p.retry, len(tasks), p.svc.cfg.Now().Sub(start))

		p.settle(ctx, logger, bi, len(batches), batchOutcomes)
		outcomes = append(outcomes, batchOutcomes...)
	}

	return outcomes
}

// settle merges the outcomes of a finished batch into the run and reports them.
func (p *pass) settle(ctx context.Context, logger log.Logger, batchIndex, batches int, outcomes []model.Outcome) {
	ctx = context.WithoutCancel(ctx)

	for _, o := range outcomes {
		if p.retry {
			p.run.Stats.Reclassify(o)
		} else {
			p.run.Stats.Add(o)
		}
		p.svc.cfg.Metrics.ObserveOutcome(ctx, o)

		ologger := logger.WithValues(log.Kv{"task_id": o.TaskID, "account": o.Username})
		switch {
		case o.IsSuccess():
			ologger.Infof("Booked: %s", o.Summary())
		case o.IsFailed():
			ologger.Infof("Not booked: %s", o.Summary())
		default:
			ologger.Warningf("Errored: %s", o.Summary())
		}
	}
	if err := p.run.Stats.Validate(); err != nil {
		logger.Errorf("Inconsistent run stats: %s", err)
	}

	if err := p.svc.cfg.Repository.SaveOutcomes(ctx, p.run.ID, outcomes); err != nil {
		logger.Errorf("Could not store outcomes: %s", err)
	}
	if err := p.svc.cfg.Repository.UpdateRun(ctx, *p.run); err != nil {
		logger.Errorf("Could not store run: %s", err)
	}

	p.notify(ctx, notify.Event{Kind: notify.EventKindBatchStatus, Batch: batchIndex + 1, Batches: batches})
	for _, o := range outcomes {
		switch {
		case o.IsSuccess():
			p.notify(ctx, notify.Event{Kind: notify.EventKindSuccess, Outcome: &o})
		case o.IsErrored():
			p.notify(ctx, notify.Event{Kind: notify.EventKindError, Outcome: &o})
		}
	}

	logger.Infof("Batch %d/%d done: %s", batchIndex+1, batches, p.run.Stats)
}

func (p *pass) notify(ctx context.Context, e notify.Event) {
	e.RunID = p.run.ID
	e.Stats = p.run.Stats
	e.Retry = p.retry
	if err := p.svc.cfg.Notifier.Send(ctx, e); err != nil {
		p.logger.Warningf("Could not send %s notification: %s", e.Kind, err)
	}
}

// erroredAccounts returns the accounts of the errored outcomes.
func (p *pass) erroredAccounts(outcomes []model.Outcome) []model.Account {
	var res []model.Account
	for _, o := range outcomes {
		if !o.IsErrored() {
			continue
		}
		acc, ok := p.accounts[o.TaskID]
		if !ok {
			p.logger.Errorf("Unknown task %s, can't be retried", o.TaskID)
			continue
		}
		res = append(res, acc)
	}
	return res
}

func chunk(accounts []model.Account, size int) [][]model.Account {
	var batches [][]model.Account
	for size < len(accounts) {
		accounts, batches = accounts[size:], append(batches, accounts[0:size:size])
	}
	if len(accounts) > 0 {
		batches = append(batches, accounts)
	}
	return batches
}
