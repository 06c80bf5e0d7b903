// Package cleanup implements Barn's periodic and on-demand terminal-job
// removal, both age-based and disk-pressure-based.
package cleanup

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samson-media/barn/internal/barnclock"
	"github.com/samson-media/barn/internal/barndir"
	"github.com/samson-media/barn/internal/barnerr"
	"github.com/samson-media/barn/internal/barnlog"
	"github.com/samson-media/barn/internal/job"
	"github.com/samson-media/barn/internal/lock"
	"github.com/samson-media/barn/internal/worker"
)

// Options controls one Run, sourced from config.CleanupConfig.
type Options struct {
	MaxAge         time.Duration
	KeepFailedJobs bool
	KeepFailedAge  time.Duration
	MaxDiskUsageGB float64
	DryRun         bool
}

// Report summarizes what a Run did (or, for a dry run, would do).
type Report struct {
	Deleted     []string
	Skipped     []string
	BytesBefore int64
	BytesAfter  int64
}

// Cleanup removes terminal job directories once they age out or once
// disk usage under the base directory exceeds its budget.
type Cleanup struct {
	dirs  *barndir.Dirs
	repo  *job.Repository
	clock barnclock.Clock
	log   *barnlog.Logger
}

// New creates a Cleanup.
func New(dirs *barndir.Dirs, repo *job.Repository, clock barnclock.Clock, log *barnlog.Logger) *Cleanup {
	return &Cleanup{dirs: dirs, repo: repo, clock: clock, log: log}
}

// Run performs one cleanup pass: the normal age-based sweep, then, if
// the base directory is still over MaxDiskUsageGB, a disk-pressure pass
// that deletes the oldest remaining eligible jobs until under budget or
// no candidates remain.
func (c *Cleanup) Run(opts Options) (Report, error) {
	all, err := c.repo.FindAll()
	if err != nil {
		return Report{}, err
	}

	report := Report{}
	remaining := make([]*job.Job, 0, len(all))
	now := c.clock.Now()

	pool := worker.NewPool[bool](0)
	ids := make([]string, 0, len(all))
	byID := make(map[string]*job.Job, len(all))
	for _, j := range all {
		if !c.eligible(j, now, opts) {
			remaining = append(remaining, j)
			continue
		}
		ids = append(ids, j.ID)
		byID[j.ID] = j
	}

	results := pool.Process(ids, func(id string) (bool, error) {
		return c.deleteOne(id, opts.DryRun)
	})

	for _, res := range results {
		id := ids[res.Index]
		if res.Err != nil {
			report.Skipped = append(report.Skipped, id)
			c.log.Warn("cleanup: failed to delete job", "job_id", id, "error", res.Err)
			remaining = append(remaining, byID[id])
			continue
		}
		if res.Value {
			report.Deleted = append(report.Deleted, id)
		} else {
			report.Skipped = append(report.Skipped, id)
			remaining = append(remaining, byID[id])
		}
	}

	report.BytesBefore, _ = dirSize(c.dirs.Base)

	if opts.MaxDiskUsageGB > 0 {
		c.diskPressurePass(&report, remaining, opts)
	}

	report.BytesAfter, _ = dirSize(c.dirs.Base)
	return report, nil
}

// eligible applies the per-state age rules. RUNNING and QUEUED jobs
// are never eligible.
func (c *Cleanup) eligible(j *job.Job, now time.Time, opts Options) bool {
	if j.State == job.Running || j.State == job.Queued {
		return false
	}
	if j.FinishedAt == nil {
		return false
	}
	age := now.Sub(*j.FinishedAt)

	if j.State == job.Failed && opts.KeepFailedJobs {
		return age >= opts.KeepFailedAge
	}
	return age >= opts.MaxAge
}

// deleteOne acquires the job's per-job lock (skipping on contention,
// since another actor is mid-work on it), re-verifies it is still
// terminal, and deletes the directory. Returns false, nil when skipped
// for a reason that isn't an error (contention, state changed).
func (c *Cleanup) deleteOne(id string, dryRun bool) (bool, error) {
	if dryRun {
		j, err := c.repo.FindByID(id)
		if err != nil {
			return false, nil
		}
		return j.State.Terminal(), nil
	}

	lockPath, err := c.dirs.JobLockFile(id)
	if err != nil {
		return false, err
	}

	deleted := false
	err = lock.WithJobLock(lockPath, func() error {
		j, findErr := c.repo.FindByID(id)
		if findErr != nil {
			return nil
		}
		if !j.State.Terminal() {
			return nil
		}
		if delErr := c.repo.Delete(id); delErr != nil {
			return delErr
		}
		deleted = true
		c.log.Info("cleanup: deleted job", "job_id", id, "state", j.State)
		return nil
	})
	if barnerr.Is(err, barnerr.KindLockContended) {
		return false, nil
	}
	return deleted, err
}

// diskPressurePass deletes the oldest remaining eligible-in-principle
// jobs, by finished_at ascending, until the base directory is under
// budget or there are no more candidates.
func (c *Cleanup) diskPressurePass(report *Report, remaining []*job.Job, opts Options) {
	candidates := make([]*job.Job, 0, len(remaining))
	for _, j := range remaining {
		if j.State.Terminal() && j.FinishedAt != nil {
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].FinishedAt.Before(*candidates[k].FinishedAt)
	})

	budgetBytes := int64(opts.MaxDiskUsageGB * 1024 * 1024 * 1024)

	for _, j := range candidates {
		size, err := dirSize(c.dirs.Base)
		if err != nil || size <= budgetBytes {
			break
		}
		ok, err := c.deleteOne(j.ID, opts.DryRun)
		if err != nil {
			report.Skipped = append(report.Skipped, j.ID)
			continue
		}
		if ok {
			report.Deleted = append(report.Deleted, j.ID)
		} else {
			report.Skipped = append(report.Skipped, j.ID)
		}
	}

	if size, err := dirSize(c.dirs.Base); err == nil && size > budgetBytes {
		c.log.Warn("cleanup: still over disk usage budget after disk-pressure pass",
			"base_dir", c.dirs.Base, "bytes", size, "budget_bytes", budgetBytes)
	}
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, barnerr.IoError(err, "measure disk usage under %s", root)
	}
	return total, nil
}
