package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	require.Equal(t, 1, cfg.Jobs.MaxHighJobs)
	require.Equal(t, 4, cfg.Jobs.MaxMediumJobs)
	require.Equal(t, 16, cfg.Jobs.MaxLowJobs)
	require.Equal(t, time.Second, cfg.Scheduler.PollInterval)
	require.Equal(t, 30, cfg.Recovery.StaleHeartbeatThresholdSeconds)
}

func TestFromEnvOverridesJobsConfig(t *testing.T) {
	t.Setenv("BARN_JOBS_MAX_HIGH_JOBS", "3")
	t.Setenv("BARN_JOBS_MAX_LOW_JOBS", "32")

	cfg := FromEnv()
	require.Equal(t, 3, cfg.Jobs.MaxHighJobs)
	require.Equal(t, 32, cfg.Jobs.MaxLowJobs)
	require.Equal(t, 4, cfg.Jobs.MaxMediumJobs, "unset keys keep their default")
}

func TestFromEnvLegacyRatioDerivation(t *testing.T) {
	t.Setenv("BARN_JOBS_MAX_CONCURRENT_JOBS", "21")

	cfg := FromEnv()
	require.Equal(t, 1, cfg.Jobs.MaxHighJobs)
	require.Equal(t, 4, cfg.Jobs.MaxMediumJobs)
	require.Equal(t, 16, cfg.Jobs.MaxLowJobs)
}

func TestFromEnvSchedulerPollIntervalMilliseconds(t *testing.T) {
	t.Setenv("BARN_SCHEDULER_POLL_INTERVAL_MS", "500")

	cfg := FromEnv()
	require.Equal(t, 500*time.Millisecond, cfg.Scheduler.PollInterval)
}

func TestDiffDetectsChangedSections(t *testing.T) {
	cur := Default()
	next := Default()
	next.Jobs.MaxHighJobs = 2

	changes := Diff(cur, next)
	require.Equal(t, []string{"jobs"}, changes)
}

func TestDiffEmptyWhenUnchanged(t *testing.T) {
	cur := Default()
	next := Default()
	require.Empty(t, Diff(cur, next))
}
