// Package recovery runs the daemon's one-time startup reconciliation
// pass over every job directory, orphaning jobs left RUNNING by a
// crashed or restarted daemon.
package recovery

import (
	"context"
	"os"
	"strings"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v4/process"

	"github.com/samson-media/barn/internal/barnclock"
	"github.com/samson-media/barn/internal/barndir"
	"github.com/samson-media/barn/internal/barnlog"
	"github.com/samson-media/barn/internal/job"
	"github.com/samson-media/barn/internal/worker"
)

const orphanError = "daemon restart orphaned this job"

// Recovery performs the startup reconciliation pass.
type Recovery struct {
	dirs                   *barndir.Dirs
	repo                   *job.Repository
	clock                  barnclock.Clock
	log                    *barnlog.Logger
	staleHeartbeatDuration time.Duration
}

// New creates a Recovery. staleHeartbeatDuration comes from
// config.RecoveryConfig.StaleHeartbeatThresholdSeconds.
func New(dirs *barndir.Dirs, repo *job.Repository, clock barnclock.Clock, log *barnlog.Logger, staleHeartbeatDuration time.Duration) *Recovery {
	return &Recovery{dirs: dirs, repo: repo, clock: clock, log: log, staleHeartbeatDuration: staleHeartbeatDuration}
}

// Run scans every job directory once, in parallel, and orphans any
// RUNNING job whose process is gone, whose command no longer matches
// what's on record, or whose heartbeat has gone stale. It is idempotent:
// replaying Run on an already-recovered directory is a no-op, since
// those jobs are no longer RUNNING.
func (r *Recovery) Run(ctx context.Context) error {
	entries, err := os.ReadDir(r.dirs.JobsRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}

	pool := worker.NewPool[struct{}](0)
	pool.Process(ids, func(id string) (struct{}, error) {
		r.reconcileOne(ctx, id)
		return struct{}{}, nil
	})

	return nil
}

// reconcileOne applies the per-job reconciliation rules. Missing
// required files and any lookup error are logged and skipped, never
// deleted.
func (r *Recovery) reconcileOne(ctx context.Context, id string) {
	j, err := r.repo.FindByID(id)
	if err != nil {
		r.log.Warn("recovery: skipping job with missing or unreadable state", "job_id", id, "error", err)
		return
	}

	if j.State != job.Running {
		return
	}

	alive := j.PID != nil && r.processMatches(ctx, *j.PID, id)
	stale := j.Heartbeat != nil && r.clock.Now().Sub(*j.Heartbeat) > r.staleHeartbeatDuration

	if alive && !stale {
		return
	}

	if err := r.repo.MarkOrphaned(id, orphanError); err != nil {
		r.log.Warn("recovery: failed to orphan job", "job_id", id, "error", err)
		return
	}
	r.log.Info("recovery: orphaned job from prior daemon run", "job_id", id, "pid", j.PID, "stale_heartbeat", stale)
}

// processMatches is a best-effort defense against PID reuse: the
// recorded pid must both exist and belong to a process whose command
// line still looks like the job's manifest command.
func (r *Recovery) processMatches(ctx context.Context, pid int, id string) bool {
	proc, err := gopsprocess.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	running, err := proc.IsRunningWithContext(ctx)
	if err != nil || !running {
		return false
	}

	m, err := r.repo.LoadManifest(id)
	if err != nil || len(m.Command) == 0 {
		return true
	}

	cmdline, err := proc.CmdlineWithContext(ctx)
	if err != nil || cmdline == "" {
		return true
	}
	return strings.Contains(cmdline, m.Command[0])
}
