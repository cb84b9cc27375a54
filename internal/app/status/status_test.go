package status_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/slotrunner/internal/app/status"
	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/storage/storagemock"
)

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		config status.ServiceConfig
		expErr bool
	}{
		"valid config should create service": {
			config: status.ServiceConfig{
				Repository: &storagemock.MockRepository{},
				Logger:     log.Noop,
			},
		},
		"missing repository should fail": {
			config: status.ServiceConfig{
				Logger: log.Noop,
			},
			expErr: true,
		},
		"nil logger should default to noop": {
			config: status.ServiceConfig{
				Repository: &storagemock.MockRepository{},
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			svc, err := status.NewService(test.config)

			if test.expErr {
				require.Error(err)
				require.Nil(svc)
			} else {
				require.NoError(err)
				require.NotNil(svc)
			}
		})
	}
}

func TestServiceRun(t *testing.T) {
	startedAt := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)

	run := func(id string) *model.Run {
		return &model.Run{ID: id, Status: model.RunStatusFinished, Stats: model.RunStats{Total: 1, Success: 1}, StartedAt: startedAt}
	}
	outcomes := func() []model.Outcome {
		return []model.Outcome{
			model.NewSuccessOutcome(model.OutcomeMeta{TaskID: "t1", Username: "alice", Attempt: 1}, model.Booking{Confirmation: "C1"}),
		}
	}

	tests := map[string]struct {
		mock      func(m *storagemock.MockRepository)
		req       status.Request
		expResult *status.Result
		expNotFnd bool
		expErr    bool
	}{
		"Getting a run by ID should return the run and its outcomes.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetRun", mock.Anything, "run1").Once().Return(run("run1"), nil)
				m.On("ListOutcomes", mock.Anything, "run1").Once().Return(outcomes(), nil)
			},
			req:       status.Request{RunID: "run1"},
			expResult: &status.Result{Run: *run("run1"), Outcomes: outcomes()},
		},
		"The latest run should be the first one of the history.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("ListRuns", mock.Anything).Once().Return([]model.Run{*run("run2"), *run("run1")}, nil)
				m.On("GetRun", mock.Anything, "run2").Once().Return(run("run2"), nil)
				m.On("ListOutcomes", mock.Anything, "run2").Once().Return(outcomes(), nil)
			},
			req:       status.Request{RunID: status.LatestRunID},
			expResult: &status.Result{Run: *run("run2"), Outcomes: outcomes()},
		},
		"An empty run ID should select the latest run.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("ListRuns", mock.Anything).Once().Return([]model.Run{*run("run2")}, nil)
				m.On("GetRun", mock.Anything, "run2").Once().Return(run("run2"), nil)
				m.On("ListOutcomes", mock.Anything, "run2").Once().Return([]model.Outcome{}, nil)
			},
			req:       status.Request{},
			expResult: &status.Result{Run: *run("run2"), Outcomes: []model.Outcome{}},
		},
		"The latest run on an empty history should be not found.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("ListRuns", mock.Anything).Once().Return([]model.Run{}, nil)
			},
			req:       status.Request{RunID: status.LatestRunID},
			expErr:    true,
			expNotFnd: true,
		},
		"A missing run should be not found.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetRun", mock.Anything, "missing").Once().Return(nil, model.ErrNotFound)
			},
			req:       status.Request{RunID: "missing"},
			expErr:    true,
			expNotFnd: true,
		},
		"Outcome listing errors should propagate.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetRun", mock.Anything, "run1").Once().Return(run("run1"), nil)
				m.On("ListOutcomes", mock.Anything, "run1").Once().Return(nil, fmt.Errorf("database error"))
			},
			req:    status.Request{RunID: "run1"},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			m := storagemock.NewMockRepository(t)
			test.mock(m)

			svc, err := status.NewService(status.ServiceConfig{Repository: m})
			require.NoError(err)

			result, err := svc.Run(context.Background(), test.req)
			if test.expErr {
				require.Error(err)
				assert.Equal(test.expNotFnd, errors.Is(err, model.ErrNotFound))
				return
			}
			require.NoError(err)
			assert.Equal(test.expResult, result)
		})
	}
}
