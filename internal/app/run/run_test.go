package run_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/slotrunner/internal/app/run"
	"github.com/slok/slotrunner/internal/batch"
	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/notify"
	"github.com/slok/slotrunner/internal/notify/notifymock"
	"github.com/slok/slotrunner/internal/storage/memory"
	"github.com/slok/slotrunner/internal/storage/storagemock"
)

func newAccounts(n int) []model.Account {
	accs := make([]model.Account, 0, n)
	for i := range n {
		accs = append(accs, model.Account{Username: fmt.Sprintf("acc-%d", i), Password: "secret"})
	}
	return accs
}

var testProxies = []model.ProxyEndpoint{
	{Host: "p0", Port: 8000, Region: "al"},
	{Host: "p1", Port: 8001, Region: "es"},
	{Host: "p2", Port: 8002, Region: "gb"},
}

// testRunner records the executed tasks and returns the outcome of the behavior.
type testRunner struct {
	mu       sync.Mutex
	tasks    []model.Task
	behavior func(t model.Task) model.Outcome
}

func (r *testRunner) Run(_ context.Context, t model.Task) model.Outcome {
	r.mu.Lock()
	r.tasks = append(r.tasks, t)
	r.mu.Unlock()

	if r.behavior == nil {
		return success(t)
	}
	return r.behavior(t)
}

func (r *testRunner) attempt(n int) []model.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Task
	for _, t := range r.tasks {
		if t.Attempt == n {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].BatchIndex == res[j].BatchIndex {
			return res[i].Index < res[j].Index
		}
		return res[i].BatchIndex < res[j].BatchIndex
	})
	return res
}

func success(t model.Task) model.Outcome {
	return model.NewSuccessOutcome(model.OutcomeFromTask(t), model.Booking{Confirmation: "C-" + t.Account.Username, ProxyRegion: t.ProxyRegion()})
}

func failed(t model.Task) model.Outcome {
	return model.NewFailedOutcome(model.OutcomeFromTask(t), "no slots available")
}

func errored(t model.Task) model.Outcome {
	return model.NewErroredOutcome(model.OutcomeFromTask(t), model.ErrorKindNavigation, model.TaskStateInit, "boom")
}

func usernames(tasks []model.Task) []string {
	var res []string
	for _, t := range tasks {
		res = append(res, t.Account.Username)
	}
	sort.Strings(res)
	return res
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return ctx.Err()
}

func idGen() func() string {
	i := 0
	return func() string {
		i++
		return fmt.Sprintf("id-%03d", i)
	}
}

func TestServiceRun(t *testing.T) {
	tests := map[string]struct {
		settings  model.Settings
		req       run.Request
		behavior  func(t model.Task) model.Outcome
		cancelled bool
		exp       func(t *testing.T, res *run.Result, r *testRunner, sleeps []time.Duration)
		expErr    error
	}{
		"No accounts should fail before running any task.": {
			req:    run.Request{},
			expErr: model.ErrConfig,
			exp: func(t *testing.T, _ *run.Result, r *testRunner, _ []time.Duration) {
				assert.Empty(t, r.tasks)
			},
		},

		"Invalid accounts should fail before running any task.": {
			req:    run.Request{Accounts: []model.Account{{Username: "acc-0"}}},
			expErr: model.ErrConfig,
			exp: func(t *testing.T, _ *run.Result, r *testRunner, _ []time.Duration) {
				assert.Empty(t, r.tasks)
			},
		},

		"Accounts should be run in batches with wrapping proxies and pauses between batches.": {
			settings: model.Settings{BatchSize: 5, BatchPause: 30 * time.Second},
			req:      run.Request{Accounts: newAccounts(12), Proxies: testProxies},
			exp: func(t *testing.T, res *run.Result, r *testRunner, sleeps []time.Duration) {
				tasks := r.attempt(1)
				require.Len(t, tasks, 12)

				sizes := map[int]int{}
				for _, task := range tasks {
					sizes[task.BatchIndex]++
					expProxy := testProxies[(task.BatchIndex*5+task.Index)%3]
					require.NotNil(t, task.Proxy)
					assert.Equal(t, expProxy, *task.Proxy)
					assert.Equal(t, 1, task.Attempt)
				}
				assert.Equal(t, map[int]int{0: 5, 1: 5, 2: 2}, sizes)

				// Batch 1 wraps around: the 6th task uses the 3rd proxy.
				assert.Equal(t, "p2", tasks[5].Proxy.Host)
				assert.Equal(t, "acc-5", tasks[5].Account.Username)

				assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, sleeps)
				assert.Equal(t, model.RunStats{Total: 12, Success: 12}, res.Stats)
				assert.Len(t, res.Outcomes, 12)
				assert.True(t, res.Booked())
				assert.Empty(t, r.attempt(2))
			},
		},

		"Without proxies tasks should run without proxy.": {
			settings: model.Settings{BatchSize: 2},
			req:      run.Request{Accounts: newAccounts(3)},
			exp: func(t *testing.T, res *run.Result, r *testRunner, _ []time.Duration) {
				for _, task := range r.attempt(1) {
					assert.Nil(t, task.Proxy)
				}
				assert.Equal(t, model.RunStats{Total: 3, Success: 3}, res.Stats)
			},
		},

		"The retry pass should only run the errored accounts and reclassify them.": {
			settings: model.Settings{BatchSize: 2},
			req:      run.Request{Accounts: newAccounts(5)},
			behavior: func(t model.Task) model.Outcome {
				switch t.Account.Username {
				case "acc-0":
					return success(t)
				case "acc-1":
					return failed(t)
				case "acc-2":
					if t.Attempt == 2 {
						return success(t)
					}
					return errored(t)
				case "acc-3":
					if t.Attempt == 2 {
						return failed(t)
					}
					return errored(t)
				}
				return errored(t)
			},
			exp: func(t *testing.T, res *run.Result, r *testRunner, _ []time.Duration) {
				assert.Len(t, r.attempt(1), 5)
				retried := r.attempt(2)
				assert.Equal(t, []string{"acc-2", "acc-3", "acc-4"}, usernames(retried))
				for _, task := range retried {
					assert.Equal(t, 2, task.Attempt)
				}

				assert.Equal(t, model.RunStats{Total: 5, Success: 2, Failed: 2, Errored: 1, Retried: 3}, res.Stats)
				assert.NoError(t, res.Stats.Validate())
				assert.Len(t, res.Outcomes, 8)
			},
		},

		"A disabled retry pass should keep the errored accounts.": {
			settings: model.Settings{BatchSize: 2, DisableRetry: true},
			req:      run.Request{Accounts: newAccounts(3)},
			behavior: errored,
			exp: func(t *testing.T, res *run.Result, r *testRunner, _ []time.Duration) {
				assert.Empty(t, r.attempt(2))
				assert.Equal(t, model.RunStats{Total: 3, Errored: 3}, res.Stats)
				assert.False(t, res.Booked())
			},
		},

		"A retry pass should never recurse.": {
			settings: model.Settings{BatchSize: 5},
			req:      run.Request{Accounts: newAccounts(2)},
			behavior: errored,
			exp: func(t *testing.T, res *run.Result, r *testRunner, _ []time.Duration) {
				assert.Len(t, r.attempt(2), 2)
				assert.Empty(t, r.attempt(3))
				assert.Equal(t, model.RunStats{Total: 2, Errored: 2, Retried: 2}, res.Stats)
			},
		},

		"Panicking and failing tasks should not abort the run.": {
			settings: model.Settings{BatchSize: 3},
			req:      run.Request{Accounts: newAccounts(3)},
			behavior: func(t model.Task) model.Outcome {
				if t.Account.Username == "acc-1" && t.Attempt == 1 {
					panic("wanted panic")
				}
				return success(t)
			},
			exp: func(t *testing.T, res *run.Result, r *testRunner, _ []time.Duration) {
				assert.Equal(t, []string{"acc-1"}, usernames(r.attempt(2)))
				assert.Equal(t, model.RunStats{Total: 3, Success: 3, Retried: 1}, res.Stats)
			},
		},

		"A cancelled run should stop before the next batch and keep the pending accounts.": {
			settings:  model.Settings{BatchSize: 5, BatchPause: time.Second},
			req:       run.Request{Accounts: newAccounts(7)},
			behavior:  errored,
			cancelled: true,
			exp: func(t *testing.T, res *run.Result, r *testRunner, _ []time.Duration) {
				assert.Len(t, r.attempt(1), 5)
				assert.Empty(t, r.attempt(2))
				assert.Equal(t, model.RunStats{Total: 7, Errored: 5, Pending: 2}, res.Stats)
				assert.NoError(t, res.Stats.Validate())
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			runner := &testRunner{behavior: test.behavior}
			sleeps := &sleepRecorder{}
			sleep := sleeps.Sleep
			if test.cancelled {
				sleep = func(ctx context.Context, d time.Duration) error {
					cancel()
					return sleeps.Sleep(ctx, d)
				}
			}

			repo, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(err)

			svc, err := run.NewService(run.ServiceConfig{
				Runner:     runner,
				Repository: repo,
				Settings:   test.settings,
				Sleep:      sleep,
				NewID:      idGen(),
				Logger:     log.Noop,
			})
			require.NoError(err)

			res, err := svc.Run(ctx, test.req)

			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
				test.exp(t, res, runner, sleeps.sleeps)
				return
			}
			require.NoError(err)
			assert.NoError(t, res.Stats.Validate())
			test.exp(t, res, runner, sleeps.sleeps)

			// The history should match the result.
			stored, err := repo.GetRun(context.Background(), res.RunID)
			require.NoError(err)
			assert.Equal(t, res.Stats, stored.Stats)
			assert.NotNil(t, stored.FinishedAt)
			expStatus := model.RunStatusFinished
			if test.cancelled {
				expStatus = model.RunStatusAborted
			}
			assert.Equal(t, expStatus, stored.Status)

			outcomes, err := repo.ListOutcomes(context.Background(), res.RunID)
			require.NoError(err)
			assert.Len(t, outcomes, len(res.Outcomes))
		})
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (e *eventRecorder) Send(_ context.Context, ev notify.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func TestServiceRunNotifications(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	runner := &testRunner{behavior: func(t model.Task) model.Outcome {
		switch t.Account.Username {
		case "acc-0":
			return success(t)
		case "acc-1":
			return failed(t)
		}
		if t.Attempt == 2 {
			return success(t)
		}
		return errored(t)
	}}
	rec := &eventRecorder{}
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)
	svc, err := run.NewService(run.ServiceConfig{
		Runner:     runner,
		Repository: repo,
		Notifier:   rec,
		Settings:   model.Settings{BatchSize: 1, BatchPause: time.Millisecond},
		Sleep:      (&sleepRecorder{}).Sleep,
		NewID:      idGen(),
	})
	require.NoError(err)

	res, err := svc.Run(context.Background(), run.Request{Accounts: newAccounts(3)})
	require.NoError(err)

	type summary struct {
		kind    notify.EventKind
		batch   int
		retry   bool
		final   bool
		account string
	}
	var got []summary
	for _, e := range rec.events {
		assert.Equal(res.RunID, e.RunID)
		s := summary{kind: e.Kind, batch: e.Batch, retry: e.Retry, final: e.Final}
		if e.Outcome != nil {
			s.account = e.Outcome.Username
		}
		got = append(got, s)
	}

	exp := []summary{
		{kind: notify.EventKindStarted},
		{kind: notify.EventKindBatchStatus, batch: 1},
		{kind: notify.EventKindSuccess, account: "acc-0"},
		{kind: notify.EventKindBatchStatus, batch: 2},
		{kind: notify.EventKindBatchStatus, batch: 3},
		{kind: notify.EventKindError, account: "acc-2"},
		{kind: notify.EventKindBatchStatus, batch: 1, retry: true},
		{kind: notify.EventKindSuccess, account: "acc-2", retry: true},
		{kind: notify.EventKindBatchStatus, final: true},
	}
	assert.Equal(exp, got)

	assert.Equal(model.NewRunStats(3), rec.events[0].Stats)
	assert.Equal(model.RunStats{Total: 3, Success: 2, Failed: 1, Retried: 1}, rec.events[len(rec.events)-1].Stats)
	for _, e := range rec.events {
		assert.NoError(e.Stats.Validate())
	}
}

func TestServiceRunNotificationErrorsDontAbort(t *testing.T) {
	require := require.New(t)

	n := notifymock.NewMockNotifier(t)
	n.On("Send", mock.Anything, mock.Anything).Return(errors.New("wanted error"))
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)

	svc, err := run.NewService(run.ServiceConfig{
		Runner:     &testRunner{},
		Repository: repo,
		Notifier:   n,
		Settings:   model.Settings{BatchSize: 2},
		Sleep:      (&sleepRecorder{}).Sleep,
	})
	require.NoError(err)

	res, err := svc.Run(context.Background(), run.Request{Accounts: newAccounts(3)})
	require.NoError(err)
	assert.Equal(t, model.RunStats{Total: 3, Success: 3}, res.Stats)
	// started, 2 batches with 2 and 1 successes, final.
	n.AssertNumberOfCalls(t, "Send", 1+2+3+1)
}

func TestServiceRunStorage(t *testing.T) {
	tests := map[string]struct {
		mock   func(m *storagemock.MockRepository)
		expErr bool
	}{
		"Failing to create the run should fail before running tasks.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("CreateRun", mock.Anything, mock.Anything).Once().Return(errors.New("wanted error"))
			},
			expErr: true,
		},

		"Failing to store outcomes should not abort the run.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("CreateRun", mock.Anything, mock.Anything).Once().Return(nil)
				m.On("SaveOutcomes", mock.Anything, "id-001", mock.Anything).Once().Return(errors.New("wanted error"))
				m.On("UpdateRun", mock.Anything, mock.Anything).Return(errors.New("wanted error"))
			},
		},

		"The run should be created, updated after every batch and finished.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("CreateRun", mock.Anything, mock.MatchedBy(func(r model.Run) bool {
					return r.ID == "id-001" && r.Status == model.RunStatusRunning && r.Stats == model.NewRunStats(2)
				})).Once().Return(nil)
				m.On("SaveOutcomes", mock.Anything, "id-001", mock.MatchedBy(func(os []model.Outcome) bool {
					return len(os) == 2
				})).Once().Return(nil)
				m.On("UpdateRun", mock.Anything, mock.MatchedBy(func(r model.Run) bool {
					return r.Status == model.RunStatusRunning && r.FinishedAt == nil
				})).Once().Return(nil)
				m.On("UpdateRun", mock.Anything, mock.MatchedBy(func(r model.Run) bool {
					return r.Status == model.RunStatusFinished && r.FinishedAt != nil && r.Stats.Success == 2
				})).Once().Return(nil)
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			repo := storagemock.NewMockRepository(t)
			test.mock(repo)
			runner := &testRunner{}

			svc, err := run.NewService(run.ServiceConfig{
				Runner:     runner,
				Repository: repo,
				Settings:   model.Settings{BatchSize: 5},
				NewID:      idGen(),
			})
			require.NoError(err)

			res, err := svc.Run(context.Background(), run.Request{Accounts: newAccounts(2)})
			if test.expErr {
				require.Error(err)
				assert.Empty(t, runner.tasks)
				return
			}
			require.NoError(err)
			assert.Equal(t, model.RunStats{Total: 2, Success: 2}, res.Stats)
		})
	}
}

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		config run.ServiceConfig
		expErr bool
	}{
		"A valid config should create the service.": {
			config: run.ServiceConfig{Runner: &testRunner{}, Repository: &storagemock.MockRepository{}},
		},

		"A missing runner should fail.": {
			config: run.ServiceConfig{Repository: &storagemock.MockRepository{}},
			expErr: true,
		},

		"A missing repository should fail.": {
			config: run.ServiceConfig{Runner: batch.RunnerFunc(func(_ context.Context, t model.Task) model.Outcome { return success(t) })},
			expErr: true,
		},

		"A negative batch size should fail.": {
			config: run.ServiceConfig{Runner: &testRunner{}, Repository: &storagemock.MockRepository{}, Settings: model.Settings{BatchSize: -1}},
			expErr: true,
		},

		"A negative batch pause should fail.": {
			config: run.ServiceConfig{Runner: &testRunner{}, Repository: &storagemock.MockRepository{}, Settings: model.Settings{BatchPause: -time.Second}},
			expErr: true,
		},

		"A negative cleanup grace should fail.": {
			config: run.ServiceConfig{Runner: &testRunner{}, Repository: &storagemock.MockRepository{}, Settings: model.Settings{CleanupGrace: -time.Second}},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			svc, err := run.NewService(test.config)
			if test.expErr {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}
