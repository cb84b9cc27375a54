package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/storage/sqlite"
)

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func runFixture(id string, startedAt time.Time) model.Run {
	return model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		Stats:     model.NewRunStats(3),
		StartedAt: startedAt,
	}
}

func outcomesFixture() []model.Outcome {
	meta := func(id, user string, attempt int) model.OutcomeMeta {
		return model.OutcomeMeta{
			TaskID:   id,
			Username: user,
			Attempt:  attempt,
			Duration: 1500 * time.Millisecond,
			Transitions: []model.Transition{
				{State: model.TaskStateInit, At: t0},
				{State: model.TaskStateBrowserReady, At: t0.Add(250 * time.Millisecond)},
			},
		}
	}

	return []model.Outcome{
		model.NewSuccessOutcome(meta("t-1", "a@x.io", 1), model.Booking{Confirmation: "C-1", Date: "2026-11-12", Time: "09:30", ProxyRegion: "al"}),
		model.NewFailedOutcome(meta("t-2", "b@x.io", 1), "no slots available"),
		model.NewErroredOutcome(meta("t-3", "c@x.io", 1), model.ErrorKindAuthRateLimited, model.TaskStateAuthenticating, "rate limited"),
	}
}

func newRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{
		DBPath: filepath.Join(t.TempDir(), "history", "test.db"),
		Logger: log.Noop,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepositoryRunCRUD(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	run := runFixture("run-1", t0)
	require.NoError(t, repo.CreateRun(ctx, run))

	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Equal(t, model.NewRunStats(3), got.Stats)
	assert.Equal(t, t0, got.StartedAt)
	assert.Nil(t, got.FinishedAt)

	finished := t0.Add(time.Minute)
	run.Status = model.RunStatusFinished
	run.Stats = model.RunStats{Total: 3, Success: 1, Failed: 1, Errored: 1, Retried: 1}
	run.FinishedAt = &finished
	require.NoError(t, repo.UpdateRun(ctx, run))

	got, err = repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFinished, got.Status)
	assert.Equal(t, run.Stats, got.Stats)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, finished, *got.FinishedAt)
}

func TestRepositoryListRuns(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	runs, err := repo.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)

	require.NoError(t, repo.CreateRun(ctx, runFixture("run-1", t0)))
	require.NoError(t, repo.CreateRun(ctx, runFixture("run-3", t0.Add(2*time.Hour))))
	require.NoError(t, repo.CreateRun(ctx, runFixture("run-2", t0.Add(time.Hour))))

	runs, err = repo.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, "run-2", runs[1].ID)
	assert.Equal(t, "run-1", runs[2].ID)
}

func TestRepositoryRunConstraints(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.CreateRun(ctx, runFixture("run-1", t0)))

	err := repo.CreateRun(ctx, runFixture("run-1", t0))
	assert.ErrorIs(t, err, model.ErrAlreadyExists)

	err = repo.UpdateRun(ctx, runFixture("run-x", t0))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = repo.GetRun(ctx, "run-x")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRepositoryOutcomes(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.CreateRun(ctx, runFixture("run-1", t0)))

	exp := outcomesFixture()
	require.NoError(t, repo.SaveOutcomes(ctx, "run-1", exp))

	retry := model.NewSuccessOutcome(model.OutcomeMeta{TaskID: "t-4", Username: "c@x.io", Attempt: 2}, model.Booking{Confirmation: "C-2"})
	require.NoError(t, repo.SaveOutcomes(ctx, "run-1", []model.Outcome{retry}))

	got, err := repo.ListOutcomes(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 4)

	for i := range exp {
		assert.Equal(t, exp[i], got[i])
	}
	assert.Equal(t, "t-4", got[3].TaskID)
	assert.Equal(t, 2, got[3].Attempt)
	assert.Empty(t, got[3].Transitions)

	none, err := repo.ListOutcomes(ctx, "run-x")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepositoryOutcomeConstraints(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.CreateRun(ctx, runFixture("run-1", t0)))

	err := repo.SaveOutcomes(ctx, "run-x", outcomesFixture())
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, repo.SaveOutcomes(ctx, "run-1", outcomesFixture()[:1]))

	// The whole batch is rolled back on error.
	err = repo.SaveOutcomes(ctx, "run-1", outcomesFixture())
	assert.ErrorIs(t, err, model.ErrAlreadyExists)

	got, err := repo.ListOutcomes(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, repo.SaveOutcomes(ctx, "run-1", nil))
}

func TestRepositoryPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: path})
	require.NoError(t, err)
	require.NoError(t, repo.CreateRun(ctx, runFixture("run-1", t0)))
	require.NoError(t, repo.SaveOutcomes(ctx, "run-1", outcomesFixture()))
	require.NoError(t, repo.Close())

	repo, err = sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: path})
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	got, err := repo.ListOutcomes(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestNewRepositoryInvalidConfig(t *testing.T) {
	_, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{})
	assert.Error(t, err)
}
