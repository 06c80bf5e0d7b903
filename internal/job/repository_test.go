package job

import (
	"testing"
	"time"

	"github.com/samson-media/barn/internal/barndir"
	"github.com/samson-media/barn/internal/barnclock"
	"github.com/samson-media/barn/internal/manifest"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (*Repository, *barnclock.Fake) {
	t.Helper()
	dirs := barndir.New(t.TempDir())
	require.NoError(t, dirs.Init())
	clock := barnclock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(dirs, clock), clock
}

func TestCreateThenFindByID(t *testing.T) {
	repo, _ := newTestRepo(t)

	j, err := repo.Create([]string{"echo", "hi"}, nil, manifest.LoadMedium, &manifest.Manifest{})
	require.NoError(t, err)
	require.Equal(t, Queued, j.State)
	require.Len(t, j.ID, 8)

	got, err := repo.FindByID(j.ID)
	require.NoError(t, err)
	require.Equal(t, j.ID, got.ID)
	require.Equal(t, Queued, got.State)
}

func TestCreateRejectsEmptyCommand(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.Create(nil, nil, manifest.LoadMedium, &manifest.Manifest{})
	require.Error(t, err)
}

func TestMarkStartedThenMarkCompletedSucceeded(t *testing.T) {
	repo, clock := newTestRepo(t)
	j, err := repo.Create([]string{"true"}, nil, manifest.LoadLow, &manifest.Manifest{})
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, repo.MarkStarted(j.ID, 4242))

	got, err := repo.FindByID(j.ID)
	require.NoError(t, err)
	require.Equal(t, Running, got.State)
	require.NotNil(t, got.PID)
	require.Equal(t, 4242, *got.PID)
	require.NotNil(t, got.Heartbeat)

	clock.Advance(time.Second)
	require.NoError(t, repo.MarkCompleted(j.ID, 0, nil))

	got, err = repo.FindByID(j.ID)
	require.NoError(t, err)
	require.Equal(t, Succeeded, got.State)
	require.NotNil(t, got.FinishedAt)
	require.NotNil(t, got.ExitCode)
	require.Equal(t, "0", *got.ExitCode)
}

func TestMarkCompletedNonZeroExitIsFailed(t *testing.T) {
	repo, _ := newTestRepo(t)
	j, err := repo.Create([]string{"false"}, nil, manifest.LoadLow, &manifest.Manifest{})
	require.NoError(t, err)
	require.NoError(t, repo.MarkStarted(j.ID, 1))
	require.NoError(t, repo.MarkCompleted(j.ID, 1, nil))

	got, err := repo.FindByID(j.ID)
	require.NoError(t, err)
	require.Equal(t, Failed, got.State)
}

func TestUpdateStateRejectsInvalidTransition(t *testing.T) {
	repo, _ := newTestRepo(t)
	j, err := repo.Create([]string{"true"}, nil, manifest.LoadLow, &manifest.Manifest{})
	require.NoError(t, err)

	err = repo.UpdateState(j.ID, Succeeded)
	require.Error(t, err)
}

func TestIncrementRetryResetsToQueued(t *testing.T) {
	repo, clock := newTestRepo(t)
	j, err := repo.Create([]string{"false"}, nil, manifest.LoadLow, &manifest.Manifest{})
	require.NoError(t, err)
	require.NoError(t, repo.MarkStarted(j.ID, 99))
	errMsg := "Process exited with code 1"
	require.NoError(t, repo.MarkCompleted(j.ID, 1, &errMsg))

	nextRetryAt := clock.Now().Add(5 * time.Second)
	require.NoError(t, repo.IncrementRetry(j.ID, 1, &errMsg, nextRetryAt))

	got, err := repo.FindByID(j.ID)
	require.NoError(t, err)
	require.Equal(t, Queued, got.State)
	require.Equal(t, 1, got.RetryCount)
	require.Nil(t, got.PID)
	require.Nil(t, got.FinishedAt)
	require.NotNil(t, got.RetryAt)
}

func TestFindByStateOrdersByCreatedAtThenID(t *testing.T) {
	repo, clock := newTestRepo(t)
	first, err := repo.Create([]string{"a"}, nil, manifest.LoadLow, &manifest.Manifest{})
	require.NoError(t, err)

	clock.Advance(time.Second)
	second, err := repo.Create([]string{"b"}, nil, manifest.LoadLow, &manifest.Manifest{})
	require.NoError(t, err)

	queued, err := repo.FindByState(Queued)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	require.Equal(t, first.ID, queued[0].ID)
	require.Equal(t, second.ID, queued[1].ID)
}

func TestDeleteRemovesDirectory(t *testing.T) {
	repo, _ := newTestRepo(t)
	j, err := repo.Create([]string{"a"}, nil, manifest.LoadLow, &manifest.Manifest{})
	require.NoError(t, err)

	require.NoError(t, repo.Delete(j.ID))
	_, err = repo.FindByID(j.ID)
	require.Error(t, err)
}
