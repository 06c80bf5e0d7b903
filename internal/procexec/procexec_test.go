package procexec

import (
	"context"
	"testing"
	"time"

	"github.com/samson-media/barn/internal/barnclock"
	"github.com/samson-media/barn/internal/barndir"
	"github.com/samson-media/barn/internal/barnlog"
	"github.com/samson-media/barn/internal/job"
	"github.com/samson-media/barn/internal/manifest"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) (*Executor, *job.Repository, *barndir.Dirs) {
	t.Helper()
	dirs := barndir.New(t.TempDir())
	require.NoError(t, dirs.Init())
	clock := barnclock.New()
	repo := job.New(dirs, clock)
	log, err := barnlog.New("dev", dirs.DaemonLogFile())
	require.NoError(t, err)

	timers := Timers{
		HeartbeatInterval:    50 * time.Millisecond,
		UsageSampleInterval:  50 * time.Millisecond,
		TerminationGraceTime: 200 * time.Millisecond,
	}
	return NewExecutor(dirs, repo, clock, log, timers), repo, dirs
}

func TestRunSuccessfulExit(t *testing.T) {
	exec, repo, _ := newTestExecutor(t)
	j, err := repo.Create([]string{"true"}, nil, manifest.LoadLow, &manifest.Manifest{})
	require.NoError(t, err)

	outcome, err := exec.Run(context.Background(), j.ID, NewHandle())
	require.NoError(t, err)
	require.Equal(t, 0, outcome.ExitCode)

	got, err := repo.FindByID(j.ID)
	require.NoError(t, err)
	require.Equal(t, job.Succeeded, got.State)
}

func TestRunNonZeroExitIsFailed(t *testing.T) {
	exec, repo, _ := newTestExecutor(t)
	j, err := repo.Create([]string{"false"}, nil, manifest.LoadLow, &manifest.Manifest{})
	require.NoError(t, err)

	outcome, err := exec.Run(context.Background(), j.ID, NewHandle())
	require.NoError(t, err)
	require.NotEqual(t, 0, outcome.ExitCode)

	got, err := repo.FindByID(j.ID)
	require.NoError(t, err)
	require.Equal(t, job.Failed, got.State)
	require.NotNil(t, got.Error)
}

func TestRunSpawnFailureMarksFailed(t *testing.T) {
	exec, repo, _ := newTestExecutor(t)
	j, err := repo.Create([]string{"/no/such/executable-xyz"}, nil, manifest.LoadLow, &manifest.Manifest{})
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), j.ID, NewHandle())
	require.Error(t, err)

	got, err := repo.FindByID(j.ID)
	require.NoError(t, err)
	require.Equal(t, job.Failed, got.State)
}

func TestRunCancelRequestsGracefulTermination(t *testing.T) {
	exec, repo, _ := newTestExecutor(t)
	j, err := repo.Create([]string{"sleep", "5"}, nil, manifest.LoadLow, &manifest.Manifest{})
	require.NoError(t, err)

	handle := NewHandle()
	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := exec.Run(context.Background(), j.ID, handle)
		done <- outcome
	}()

	time.Sleep(100 * time.Millisecond)
	handle.RequestCancel()

	select {
	case outcome := <-done:
		require.True(t, outcome.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not terminate the process in time")
	}

	got, err := repo.FindByID(j.ID)
	require.NoError(t, err)
	require.Equal(t, job.Canceled, got.State)
}

func TestRunKillRequestSetsExitCodeAndKilledState(t *testing.T) {
	exec, repo, _ := newTestExecutor(t)
	j, err := repo.Create([]string{"sleep", "5"}, nil, manifest.LoadLow, &manifest.Manifest{})
	require.NoError(t, err)

	handle := NewHandle()
	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := exec.Run(context.Background(), j.ID, handle)
		done <- outcome
	}()

	time.Sleep(100 * time.Millisecond)
	handle.RequestKill()

	var outcome Outcome
	select {
	case outcome = <-done:
		require.True(t, outcome.Killed)
		require.NotEqual(t, 0, outcome.ExitCode, "a signal-terminated child must not be reported with exit_code 0")
	case <-time.After(5 * time.Second):
		t.Fatal("kill did not terminate the process in time")
	}

	got, err := repo.FindByID(j.ID)
	require.NoError(t, err)
	require.Equal(t, job.Killed, got.State)
	require.NotNil(t, got.ExitCode)
	require.NotEqual(t, "0", *got.ExitCode)
}
