package booking

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/slok/slotrunner/internal/browser"
	"github.com/slok/slotrunner/internal/captcha"
	"github.com/slok/slotrunner/internal/clock"
	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/model"
)

// RunnerConfig is the configuration of the booking runner.
type RunnerConfig struct {
	Engine browser.Engine
	// Solver is optional, without it challenges can't be solved.
	Solver captcha.Solver
	Flow   Flow
	// NavigationTimeout bounds every navigation attempt.
	NavigationTimeout  time.Duration
	NavigationAttempts int
	// NavigationBackoff is multiplied by the attempt number to wait before retrying.
	NavigationBackoff time.Duration
	// StepTimeout bounds the waits for the post-conditions of every step.
	StepTimeout time.Duration
	// SnapshotDir is where diagnostic snapshots are stored, disabled if empty.
	SnapshotDir string
	// KeyDelay returns the pause between keystrokes.
	KeyDelay func() time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
	Identity func() browser.Identity
	Now      func() time.Time
	Logger   log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Engine == nil {
		return fmt.Errorf("browser engine is required")
	}

	if c.Flow.BaseURL == "" {
		return fmt.Errorf("flow base URL is required")
	}

	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = model.DefaultNavigationTimeout
	}

	if c.NavigationAttempts <= 0 {
		c.NavigationAttempts = 3
	}

	if c.NavigationBackoff <= 0 {
		c.NavigationBackoff = 2 * time.Second
	}

	if c.StepTimeout <= 0 {
		c.StepTimeout = model.DefaultStepTimeout
	}

	if c.KeyDelay == nil {
		c.KeyDelay = func() time.Duration {
			return 40*time.Millisecond + rand.N(120*time.Millisecond)
		}
	}

	if c.Sleep == nil {
		c.Sleep = clock.Sleep
	}

	if c.Identity == nil {
		c.Identity = func() browser.Identity { return browser.RandomIdentity(nil) }
	}

	if c.Now == nil {
		c.Now = time.Now
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "booking.Runner"})
	return nil
}

// Runner runs the booking flow of tasks, every task gets a fresh state machine.
type Runner struct {
	cfg    RunnerConfig
	logger log.Logger
}

// NewRunner returns a new booking runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// Run runs the task booking flow. It never fails, every error is returned as an
// errored outcome.
func (r *Runner) Run(ctx context.Context, task model.Task) model.Outcome {
	m := &machine{
		cfg:  &r.cfg,
		task: task,
		logger: r.logger.WithValues(log.Kv{
			"task_id": task.ID,
			"account": task.Account.Username,
			"attempt": task.Attempt,
			"region":  task.ProxyRegion(),
		}),
	}

	return m.run(ctx)
}
