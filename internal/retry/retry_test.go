package retry

import (
	"testing"
	"time"

	"github.com/samson-media/barn/internal/barnclock"
	"github.com/samson-media/barn/internal/barndir"
	"github.com/samson-media/barn/internal/job"
	"github.com/samson-media/barn/internal/manifest"
	"github.com/stretchr/testify/require"
)

func TestEvaluateExhaustedRetriesStaysFailed(t *testing.T) {
	clock := barnclock.NewFake(time.Unix(0, 0))
	m := &manifest.Manifest{MaxRetries: 2, RetryDelaySeconds: 5, RetryBackoffMultiplier: 2}

	d := Evaluate(clock, m, 2, 1)
	require.False(t, d.ShouldRetry)
}

func TestEvaluateExitCodeNotInAllowlistStaysFailed(t *testing.T) {
	clock := barnclock.NewFake(time.Unix(0, 0))
	m := &manifest.Manifest{MaxRetries: 5, RetryOnExitCodes: []int{1, 2}, RetryDelaySeconds: 5, RetryBackoffMultiplier: 2}

	d := Evaluate(clock, m, 0, 99)
	require.False(t, d.ShouldRetry)
}

func TestEvaluateComputesExponentialBackoff(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := barnclock.NewFake(start)
	m := &manifest.Manifest{MaxRetries: 5, RetryDelaySeconds: 10, RetryBackoffMultiplier: 2}

	d := Evaluate(clock, m, 0, 1)
	require.True(t, d.ShouldRetry)
	require.Equal(t, start.Add(10*time.Second), d.RetryAt)

	d = Evaluate(clock, m, 2, 1)
	require.True(t, d.ShouldRetry)
	require.Equal(t, start.Add(40*time.Second), d.RetryAt)
}

func TestControllerHandleFailureRequeues(t *testing.T) {
	dirs := barndir.New(t.TempDir())
	require.NoError(t, dirs.Init())
	clock := barnclock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	repo := job.New(dirs, clock)

	m := &manifest.Manifest{MaxRetries: 3, RetryDelaySeconds: 5, RetryBackoffMultiplier: 2}
	j, err := repo.Create([]string{"false"}, nil, manifest.LoadLow, m)
	require.NoError(t, err)
	require.NoError(t, repo.MarkStarted(j.ID, 1))
	errMsg := "Process exited with code 1"
	require.NoError(t, repo.MarkCompleted(j.ID, 1, &errMsg))

	ctrl := NewController(repo, clock)
	decision, err := ctrl.HandleFailure(j.ID, 1, &errMsg)
	require.NoError(t, err)
	require.True(t, decision.ShouldRetry)
	require.NotEmpty(t, decision.CorrelationID)

	got, err := repo.FindByID(j.ID)
	require.NoError(t, err)
	require.Equal(t, job.Queued, got.State)
	require.Equal(t, 1, got.RetryCount)
}

func TestControllerHandleFailureTerminalWhenExhausted(t *testing.T) {
	dirs := barndir.New(t.TempDir())
	require.NoError(t, dirs.Init())
	clock := barnclock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	repo := job.New(dirs, clock)

	m := &manifest.Manifest{MaxRetries: 0, RetryDelaySeconds: 5, RetryBackoffMultiplier: 2}
	j, err := repo.Create([]string{"false"}, nil, manifest.LoadLow, m)
	require.NoError(t, err)
	require.NoError(t, repo.MarkStarted(j.ID, 1))
	errMsg := "Process exited with code 1"
	require.NoError(t, repo.MarkCompleted(j.ID, 1, &errMsg))

	ctrl := NewController(repo, clock)
	decision, err := ctrl.HandleFailure(j.ID, 1, &errMsg)
	require.NoError(t, err)
	require.False(t, decision.ShouldRetry)

	got, err := repo.FindByID(j.ID)
	require.NoError(t, err)
	require.Equal(t, job.Failed, got.State)
}
