// Package config provides Barn's daemon configuration. File-based
// configuration is explicitly out of this daemon's concern (that
// belongs to whatever CLI or provisioning layer owns the host); Barn
// only reads compiled-in defaults and BARN_<SECTION>_<KEY> environment
// variable overrides, in that order.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the daemon's core components need.
type Config struct {
	BaseDir   string `json:"base_dir"`
	ConfigDir string `json:"config_dir"`

	Jobs      JobsConfig      `json:"jobs"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Retry     RetryConfig     `json:"retry"`
	Cleanup   CleanupConfig   `json:"cleanup"`
	Recovery  RecoveryConfig  `json:"recovery"`
	Process   ProcessConfig   `json:"process"`
}

// JobsConfig sets the admission ceiling per load category.
type JobsConfig struct {
	MaxHighJobs   int `json:"max_high_jobs"`
	MaxMediumJobs int `json:"max_medium_jobs"`
	MaxLowJobs    int `json:"max_low_jobs"`
}

// SchedulerConfig controls the scheduler's tick loop.
type SchedulerConfig struct {
	PollInterval time.Duration `json:"poll_interval"`
}

// RetryConfig sets the default retry policy manifests fall back to
// when a caller does not specify one explicitly.
type RetryConfig struct {
	DefaultMaxRetries             int     `json:"default_max_retries"`
	DefaultRetryDelaySeconds      int     `json:"default_retry_delay_seconds"`
	DefaultRetryBackoffMultiplier float64 `json:"default_retry_backoff_multiplier"`
}

// CleanupConfig controls the periodic and on-demand cleanup engine.
type CleanupConfig struct {
	MaxAgeHours            int     `json:"max_age_hours"`
	KeepFailedJobs         bool    `json:"keep_failed_jobs"`
	KeepFailedJobsHours    int     `json:"keep_failed_jobs_hours"`
	MaxDiskUsageGB         float64 `json:"max_disk_usage_gb"`
	CleanupIntervalMinutes int     `json:"cleanup_interval_minutes"`
}

// RecoveryConfig controls the startup reconciliation pass.
type RecoveryConfig struct {
	StaleHeartbeatThresholdSeconds int `json:"stale_heartbeat_threshold_seconds"`
}

// ProcessConfig controls the executor's cooperative timers and
// termination grace window.
type ProcessConfig struct {
	HeartbeatInterval    time.Duration `json:"heartbeat_interval"`
	UsageSampleInterval  time.Duration `json:"usage_sample_interval"`
	TerminationGraceTime time.Duration `json:"termination_grace_time"`
}

// Default returns Barn's compiled-in defaults: the scheduler poll
// interval, executor heartbeat and termination grace window, usage
// sampler interval, and recovery's stale heartbeat threshold.
func Default() *Config {
	return &Config{
		BaseDir:   defaultBaseDir(),
		ConfigDir: defaultConfigDir(),
		Jobs: JobsConfig{
			MaxHighJobs:   1,
			MaxMediumJobs: 4,
			MaxLowJobs:    16,
		},
		Scheduler: SchedulerConfig{
			PollInterval: time.Second,
		},
		Retry: RetryConfig{
			DefaultMaxRetries:             0,
			DefaultRetryDelaySeconds:      5,
			DefaultRetryBackoffMultiplier: 2.0,
		},
		Cleanup: CleanupConfig{
			MaxAgeHours:            168,
			KeepFailedJobs:         true,
			KeepFailedJobsHours:    336,
			MaxDiskUsageGB:         50,
			CleanupIntervalMinutes: 60,
		},
		Recovery: RecoveryConfig{
			StaleHeartbeatThresholdSeconds: 30,
		},
		Process: ProcessConfig{
			HeartbeatInterval:    5 * time.Second,
			UsageSampleInterval:  5 * time.Second,
			TerminationGraceTime: 10 * time.Second,
		},
	}
}

func defaultBaseDir() string {
	if dir := os.Getenv("BARN_BASE_DIR"); dir != "" {
		return dir
	}
	return "/var/lib/barn"
}

// defaultConfigDir is the system config directory the load classifier's
// whitelist files live in (/etc/barn or a platform equivalent).
func defaultConfigDir() string {
	if dir := os.Getenv("BARN_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "/etc/barn"
}

// FromEnv returns Default() with every BARN_<SECTION>_<KEY>
// environment variable present in the process environment applied on
// top. Unset variables leave the default untouched.
func FromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("BARN_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("BARN_CONFIG_DIR"); v != "" {
		cfg.ConfigDir = v
	}

	applyInt(&cfg.Jobs.MaxHighJobs, "BARN_JOBS_MAX_HIGH_JOBS")
	applyInt(&cfg.Jobs.MaxMediumJobs, "BARN_JOBS_MAX_MEDIUM_JOBS")
	applyInt(&cfg.Jobs.MaxLowJobs, "BARN_JOBS_MAX_LOW_JOBS")

	// Backward compatibility: a single legacy max_concurrent_jobs value
	// derives HIGH:MEDIUM:LOW via the fixed 1:4:16 ratio, any remainder
	// going to LOW.
	if v := os.Getenv("BARN_JOBS_MAX_CONCURRENT_JOBS"); v != "" {
		if total, err := strconv.Atoi(v); err == nil {
			cfg.Jobs = deriveLegacyRatio(total)
		}
	}

	applyDuration(&cfg.Scheduler.PollInterval, "BARN_SCHEDULER_POLL_INTERVAL_MS", time.Millisecond)

	applyInt(&cfg.Retry.DefaultMaxRetries, "BARN_RETRY_DEFAULT_MAX_RETRIES")
	applyInt(&cfg.Retry.DefaultRetryDelaySeconds, "BARN_RETRY_DEFAULT_RETRY_DELAY_SECONDS")
	applyFloat(&cfg.Retry.DefaultRetryBackoffMultiplier, "BARN_RETRY_DEFAULT_RETRY_BACKOFF_MULTIPLIER")

	applyInt(&cfg.Cleanup.MaxAgeHours, "BARN_CLEANUP_MAX_AGE_HOURS")
	applyBool(&cfg.Cleanup.KeepFailedJobs, "BARN_CLEANUP_KEEP_FAILED_JOBS")
	applyInt(&cfg.Cleanup.KeepFailedJobsHours, "BARN_CLEANUP_KEEP_FAILED_JOBS_HOURS")
	applyFloat(&cfg.Cleanup.MaxDiskUsageGB, "BARN_CLEANUP_MAX_DISK_USAGE_GB")
	applyInt(&cfg.Cleanup.CleanupIntervalMinutes, "BARN_CLEANUP_CLEANUP_INTERVAL_MINUTES")

	applyInt(&cfg.Recovery.StaleHeartbeatThresholdSeconds, "BARN_RECOVERY_STALE_HEARTBEAT_THRESHOLD_SECONDS")

	applyDuration(&cfg.Process.HeartbeatInterval, "BARN_PROCESS_HEARTBEAT_INTERVAL_MS", time.Millisecond)
	applyDuration(&cfg.Process.UsageSampleInterval, "BARN_PROCESS_USAGE_SAMPLE_INTERVAL_MS", time.Millisecond)
	applyDuration(&cfg.Process.TerminationGraceTime, "BARN_PROCESS_TERMINATION_GRACE_TIME_MS", time.Millisecond)

	return cfg
}

// deriveLegacyRatio splits total concurrent job slots 1:4:16 across
// HIGH:MEDIUM:LOW, adding any remainder to LOW. HIGH gets at least one
// slot when total is positive, taken out of LOW's share.
func deriveLegacyRatio(total int) JobsConfig {
	const highShare, mediumShare, lowShare = 1, 4, 16
	const shareSum = highShare + mediumShare + lowShare

	high := total * highShare / shareSum
	if high < 1 && total > 0 {
		high = 1
	}
	medium := total * mediumShare / shareSum
	low := total - high - medium
	return JobsConfig{MaxHighJobs: high, MaxMediumJobs: medium, MaxLowJobs: low}
}

// Diff reports which sections of next (config_dir and each sub-config;
// base_dir is not compared) differ from cur's, so a SIGHUP
// reload can log exactly what changed without a full config dump
// (SPEC_FULL.md's supplemented config-reload feature).
func Diff(cur, next *Config) []string {
	var changes []string
	if cur.ConfigDir != next.ConfigDir {
		changes = append(changes, "config_dir")
	}
	if cur.Jobs != next.Jobs {
		changes = append(changes, "jobs")
	}
	if cur.Scheduler != next.Scheduler {
		changes = append(changes, "scheduler")
	}
	if cur.Retry != next.Retry {
		changes = append(changes, "retry")
	}
	if cur.Cleanup != next.Cleanup {
		changes = append(changes, "cleanup")
	}
	if cur.Recovery != next.Recovery {
		changes = append(changes, "recovery")
	}
	if cur.Process != next.Process {
		changes = append(changes, "process")
	}
	return changes
}

func applyInt(dst *int, envKey string) {
	v := os.Getenv(envKey)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func applyFloat(dst *float64, envKey string) {
	v := os.Getenv(envKey)
	if v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

func applyBool(dst *bool, envKey string) {
	v := os.Getenv(envKey)
	switch v {
	case "true", "1":
		*dst = true
	case "false", "0":
		*dst = false
	}
}

func applyDuration(dst *time.Duration, envKey string, unit time.Duration) {
	v := os.Getenv(envKey)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * unit
	}
}
