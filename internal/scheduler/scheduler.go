// Package scheduler implements Barn's tick-loop dispatcher: per tick it
// lists eligible QUEUED jobs, enforces independent per-load-level
// concurrency ceilings, and hands dispatched jobs off to a
// ProcessExecutor on their own goroutine.
package scheduler

import (
	"context"
	"sync"

	"github.com/samson-media/barn/internal/barnclock"
	"github.com/samson-media/barn/internal/barndir"
	"github.com/samson-media/barn/internal/barnerr"
	"github.com/samson-media/barn/internal/barnlog"
	"github.com/samson-media/barn/internal/config"
	"github.com/samson-media/barn/internal/job"
	"github.com/samson-media/barn/internal/lock"
	"github.com/samson-media/barn/internal/manifest"
	"github.com/samson-media/barn/internal/procexec"
	"github.com/samson-media/barn/internal/retry"
)

// Scheduler runs the admission-control tick loop.
type Scheduler struct {
	dirs    *barndir.Dirs
	repo    *job.Repository
	clock   barnclock.Clock
	log     *barnlog.Logger
	exec    *procexec.Executor
	ctrl    *retry.Controller
	jobsCfg config.JobsConfig

	pollInterval func() config.SchedulerConfig

	mu       sync.Mutex
	running  map[manifest.LoadLevel]int
	handles  map[string]*procexec.Handle
	stop     chan struct{}
	stopped  chan struct{}
	lockFile *lock.Lock
}

// New creates a Scheduler. cfg is read fresh on every tick via a getter
// so a SIGHUP reload can change the poll interval without restarting
// the daemon. jobsCfg is copied once here: the per-level concurrency
// ceilings stay at their construction-time values and a reload does not
// change them.
func New(dirs *barndir.Dirs, repo *job.Repository, clock barnclock.Clock, log *barnlog.Logger, exec *procexec.Executor, ctrl *retry.Controller, cfg func() config.SchedulerConfig, jobsCfg config.JobsConfig) *Scheduler {
	return &Scheduler{
		dirs:         dirs,
		repo:         repo,
		clock:        clock,
		log:          log,
		exec:         exec,
		ctrl:         ctrl,
		jobsCfg:      jobsCfg,
		pollInterval: cfg,
		running:      map[manifest.LoadLevel]int{},
		handles:      map[string]*procexec.Handle{},
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Run acquires the daemon-wide scheduler lock and ticks until Stop is
// called or ctx is done. Before releasing the lock it waits for every
// job run it dispatched to return, so their terminal state writes are
// on disk when Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.stopped)
	s.lockFile = lock.New(s.dirs.SchedulerLockFile())
	ok, err := s.lockFile.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return barnerr.LockContended("scheduler lock %s is already held", s.dirs.SchedulerLockFile())
	}
	defer s.lockFile.Unlock()

	if err := s.seedRunningCounts(); err != nil {
		s.log.Warn("failed to seed running-job counts", "error", err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-s.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-s.clock.After(s.pollInterval().PollInterval):
			s.tick(ctx, &wg)
		}
	}
}

// Stop signals the tick loop to exit after its current tick, and
// blocks until Run has returned.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.stopped
}

// seedRunningCounts counts jobs Recovery left RUNNING (because their
// pid was still alive and fresh) per load level, so this tick loop's
// in-memory admission counters start from the true on-disk occupancy
// instead of zero. Without this, a daemon restart would let the
// scheduler dispatch a fresh full ceiling of jobs on top of whatever
// survived recovery, violating the per-category concurrency limit.
func (s *Scheduler) seedRunningCounts() error {
	running, err := s.repo.FindByState(job.Running)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, j := range running {
		s.running[manifest.LoadLevel(j.Load)]++
	}
	s.mu.Unlock()
	return nil
}

// tick performs one scheduling pass: list QUEUED jobs ready for
// dispatch, sort FIFO, and dispatch as many as each category's ceiling
// allows.
func (s *Scheduler) tick(ctx context.Context, wg *sync.WaitGroup) {
	queued, err := s.repo.FindByState(job.Queued)
	if err != nil {
		s.log.Warn("failed to list queued jobs", "error", err)
		return
	}

	now := s.clock.Now()
	s.mu.Lock()
	running := map[manifest.LoadLevel]int{
		manifest.LoadHigh:   s.running[manifest.LoadHigh],
		manifest.LoadMedium: s.running[manifest.LoadMedium],
		manifest.LoadLow:    s.running[manifest.LoadLow],
	}
	s.mu.Unlock()

	limits := map[manifest.LoadLevel]int{
		manifest.LoadHigh:   s.jobsCfg.MaxHighJobs,
		manifest.LoadMedium: s.jobsCfg.MaxMediumJobs,
		manifest.LoadLow:    s.jobsCfg.MaxLowJobs,
	}

	for _, j := range queued {
		if !j.ReadyForDispatch(now) {
			continue
		}
		level := manifest.LoadLevel(j.Load)
		if running[level] >= limits[level] {
			continue
		}
		running[level]++
		s.dispatch(ctx, j.ID, wg)
	}
}

// dispatch acquires the job's lock, marks it started, and hands it off
// to the executor on its own goroutine, releasing the scheduler's
// bookkeeping handle but keeping the file lock held for the executor's
// entire run.
func (s *Scheduler) dispatch(ctx context.Context, id string, wg *sync.WaitGroup) {
	j, err := s.repo.FindByID(id)
	if err != nil {
		s.log.Warn("dispatch: job vanished before lock", "job_id", id, "error", err)
		return
	}
	level := manifest.LoadLevel(j.Load)

	lockPath, err := s.dirs.JobLockFile(id)
	if err != nil {
		s.log.Warn("dispatch: invalid job id", "job_id", id, "error", err)
		return
	}

	handle := procexec.NewHandle()
	s.mu.Lock()
	s.handles[id] = handle
	s.running[level]++
	s.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			s.mu.Lock()
			s.running[level]--
			delete(s.handles, id)
			s.mu.Unlock()
		}()

		err := lock.WithJobLock(lockPath, func() error {
			outcome, runErr := s.exec.Run(ctx, id, handle)
			if runErr != nil {
				return runErr
			}
			if outcome.Error != nil && !outcome.Canceled && !outcome.Killed {
				decision, retryErr := s.ctrl.HandleFailure(id, outcome.ExitCode, outcome.Error)
				if retryErr != nil {
					s.log.Warn("retry evaluation failed", "job_id", id, "correlation_id", decision.CorrelationID, "error", retryErr)
				} else {
					s.log.Info("retry evaluated", "job_id", id, "correlation_id", decision.CorrelationID, "should_retry", decision.ShouldRetry)
				}
			}
			return nil
		})
		if err != nil {
			s.log.Warn("job run failed", "job_id", id, "error", err)
		}
	}()
}

// RequestCancel asks the job identified by id to stop gracefully, if
// it is currently being run by this scheduler instance.
func (s *Scheduler) RequestCancel(id string) bool {
	s.mu.Lock()
	h, ok := s.handles[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.RequestCancel()
	return true
}

// RequestKill asks the job identified by id to stop with terminal state
// KILLED, if it is currently being run by this scheduler instance.
func (s *Scheduler) RequestKill(id string) bool {
	s.mu.Lock()
	h, ok := s.handles[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.RequestKill()
	return true
}
