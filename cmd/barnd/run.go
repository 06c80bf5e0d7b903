package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/samson-media/barn/internal/barnclock"
	"github.com/samson-media/barn/internal/barndir"
	"github.com/samson-media/barn/internal/barnlog"
	"github.com/samson-media/barn/internal/cleanup"
	"github.com/samson-media/barn/internal/config"
	"github.com/samson-media/barn/internal/job"
	"github.com/samson-media/barn/internal/loadclass"
	"github.com/samson-media/barn/internal/procexec"
	"github.com/samson-media/barn/internal/recovery"
	"github.com/samson-media/barn/internal/retry"
	"github.com/samson-media/barn/internal/scheduler"
)

var logModeFlag string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Barn daemon and run until terminated",
	RunE:  runServe,
}

func init() {
	runCmd.Flags().StringVar(&logModeFlag, "log-mode", "prod", "Log encoding: prod (JSON) or dev (console)")
}

// resolveConfig layers flag overrides on top of config.FromEnv().
func resolveConfig() *config.Config {
	cfg := config.FromEnv()
	if baseDirFlag != "" {
		cfg.BaseDir = baseDirFlag
	}
	if configDirFlag != "" {
		cfg.ConfigDir = configDirFlag
	}
	return cfg
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := resolveConfig()

	dirs := barndir.New(cfg.BaseDir)
	if err := dirs.Init(); err != nil {
		return err
	}

	log, err := barnlog.New(logModeFlag, dirs.DaemonLogFile())
	if err != nil {
		return err
	}
	defer log.Sync()

	clock := barnclock.New()
	repo := job.New(dirs, clock)

	classifier, err := loadclass.NewClassifier(
		filepath.Join(cfg.ConfigDir, "high.txt"),
		filepath.Join(cfg.ConfigDir, "medium.txt"),
		filepath.Join(cfg.ConfigDir, "low.txt"),
	)
	if err != nil {
		log.Warn("failed to load whitelists, falling back to empty whitelists", "error", err)
		classifier, _ = loadclass.NewClassifier("", "", "")
	}
	_ = classifier // wired in by an external IPC layer's job-submission path when it resolves load_level

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("running startup recovery pass")
	staleThreshold := time.Duration(cfg.Recovery.StaleHeartbeatThresholdSeconds) * time.Second
	rec := recovery.New(dirs, repo, clock, log, staleThreshold)
	if err := rec.Run(ctx); err != nil {
		log.Warn("recovery pass failed", "error", err)
	}

	exec := procexec.NewExecutor(dirs, repo, clock, log, procexec.Timers{
		HeartbeatInterval:    cfg.Process.HeartbeatInterval,
		UsageSampleInterval:  cfg.Process.UsageSampleInterval,
		TerminationGraceTime: cfg.Process.TerminationGraceTime,
	})
	ctrl := retry.NewController(repo, clock)

	liveCfg := cfg
	sched := scheduler.New(dirs, repo, clock, log, exec, ctrl, func() config.SchedulerConfig {
		return liveCfg.Scheduler
	}, liveCfg.Jobs)

	cleaner := cleanup.New(dirs, repo, clock, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(ctx) }()

	cleanupStop := runCleanupLoop(ctx, cleaner, log, func() config.CleanupConfig { return liveCfg.Cleanup }, clock)

	log.Info("barnd started", "base_dir", cfg.BaseDir, "config_dir", cfg.ConfigDir)

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				next := config.FromEnv()
				if baseDirFlag != "" {
					next.BaseDir = baseDirFlag
				}
				if configDirFlag != "" {
					next.ConfigDir = configDirFlag
				}
				changes := config.Diff(liveCfg, next)
				liveCfg = next
				log.Info("reloaded configuration", "changed_sections", changes)
				if newClassifier, err := loadclass.NewClassifier(
					filepath.Join(liveCfg.ConfigDir, "high.txt"),
					filepath.Join(liveCfg.ConfigDir, "medium.txt"),
					filepath.Join(liveCfg.ConfigDir, "low.txt"),
				); err != nil {
					log.Warn("failed to reload whitelists", "error", err)
				} else {
					classifier = newClassifier
				}
			default:
				log.Info("received shutdown signal", "signal", sig.String())
				cancel()
				close(cleanupStop)
				sched.Stop()
				<-schedDone
				return nil
			}
		case <-ctx.Done():
			close(cleanupStop)
			sched.Stop()
			<-schedDone
			return nil
		}
	}
}

// runCleanupLoop drives Cleanup.Run on cleanup_interval_minutes until
// the returned stop channel is closed.
func runCleanupLoop(ctx context.Context, c *cleanup.Cleanup, log *barnlog.Logger, cfg func() config.CleanupConfig, clock barnclock.Clock) chan struct{} {
	stop := make(chan struct{})
	go func() {
		for {
			interval := cfg().CleanupIntervalMinutes
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-clock.After(time.Duration(interval) * time.Minute):
				snapshot := cfg()
				opts := cleanup.Options{
					MaxAge:         time.Duration(snapshot.MaxAgeHours) * time.Hour,
					KeepFailedJobs: snapshot.KeepFailedJobs,
					KeepFailedAge:  time.Duration(snapshot.KeepFailedJobsHours) * time.Hour,
					MaxDiskUsageGB: snapshot.MaxDiskUsageGB,
				}
				report, err := c.Run(opts)
				if err != nil {
					log.Warn("periodic cleanup failed", "error", err)
					continue
				}
				log.Info("periodic cleanup finished", "deleted", len(report.Deleted), "skipped", len(report.Skipped))
			}
		}
	}()
	return stop
}
