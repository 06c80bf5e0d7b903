package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/samson-media/barn/internal/barnclock"
	"github.com/samson-media/barn/internal/barndir"
	"github.com/samson-media/barn/internal/barnlog"
	"github.com/samson-media/barn/internal/config"
	"github.com/samson-media/barn/internal/job"
	"github.com/samson-media/barn/internal/manifest"
	"github.com/samson-media/barn/internal/procexec"
	"github.com/samson-media/barn/internal/retry"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, jobsCfg config.JobsConfig) (*Scheduler, *job.Repository) {
	t.Helper()
	dirs := barndir.New(t.TempDir())
	require.NoError(t, dirs.Init())
	clock := barnclock.New()
	repo := job.New(dirs, clock)
	log, err := barnlog.New("dev", dirs.DaemonLogFile())
	require.NoError(t, err)

	timers := procexec.Timers{
		HeartbeatInterval:    50 * time.Millisecond,
		UsageSampleInterval:  50 * time.Millisecond,
		TerminationGraceTime: 200 * time.Millisecond,
	}
	exec := procexec.NewExecutor(dirs, repo, clock, log, timers)
	ctrl := retry.NewController(repo, clock)

	cfgGetter := func() config.SchedulerConfig {
		return config.SchedulerConfig{PollInterval: 20 * time.Millisecond}
	}

	return New(dirs, repo, clock, log, exec, ctrl, cfgGetter, jobsCfg), repo
}

func TestSchedulerDispatchesQueuedJobToCompletion(t *testing.T) {
	jobsCfg := config.JobsConfig{MaxHighJobs: 1, MaxMediumJobs: 1, MaxLowJobs: 1}
	s, repo := newTestScheduler(t, jobsCfg)

	j, err := repo.Create([]string{"true"}, nil, manifest.LoadLow, &manifest.Manifest{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Run(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		got, err := repo.FindByID(j.ID)
		return err == nil && got.State == job.Succeeded
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSchedulerRespectsPerLevelConcurrencyCeiling(t *testing.T) {
	jobsCfg := config.JobsConfig{MaxHighJobs: 1, MaxMediumJobs: 1, MaxLowJobs: 1}
	s, repo := newTestScheduler(t, jobsCfg)

	var ids []string
	for i := 0; i < 3; i++ {
		j, err := repo.Create([]string{"sleep", "1"}, nil, manifest.LoadLow, &manifest.Manifest{})
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	time.Sleep(300 * time.Millisecond)

	runningCount := 0
	for _, id := range ids {
		got, err := repo.FindByID(id)
		require.NoError(t, err)
		if got.State == job.Running {
			runningCount++
		}
	}
	require.LessOrEqual(t, runningCount, 1, "LOW ceiling of 1 must not be exceeded")
}

// TestSchedulerSeedsRunningCountFromDisk simulates what a daemon
// restart leaves behind: a job Recovery found alive and left RUNNING,
// never dispatched by this scheduler instance. The scheduler must
// still count it against the LOW ceiling, or it will happily dispatch
// a second LOW job on top of it.
func TestSchedulerSeedsRunningCountFromDisk(t *testing.T) {
	jobsCfg := config.JobsConfig{MaxHighJobs: 1, MaxMediumJobs: 1, MaxLowJobs: 1}
	s, repo := newTestScheduler(t, jobsCfg)

	alreadyRunning, err := repo.Create([]string{"sleep", "5"}, nil, manifest.LoadLow, &manifest.Manifest{})
	require.NoError(t, err)
	require.NoError(t, repo.MarkStarted(alreadyRunning.ID, 1))

	queued, err := repo.Create([]string{"true"}, nil, manifest.LoadLow, &manifest.Manifest{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	time.Sleep(300 * time.Millisecond)

	got, err := repo.FindByID(queued.ID)
	require.NoError(t, err)
	require.Equal(t, job.Queued, got.State, "the LOW ceiling is already occupied by the pre-existing running job")
}
