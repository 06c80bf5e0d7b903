// Package procexec runs one job's command to completion: it owns the
// child process's full lifetime, the heartbeat and usage-sampling
// timers, timeout enforcement, and process-tree termination.
package procexec

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/samson-media/barn/internal/barnclock"
	"github.com/samson-media/barn/internal/barndir"
	"github.com/samson-media/barn/internal/barnerr"
	"github.com/samson-media/barn/internal/barnlog"
	"github.com/samson-media/barn/internal/job"
	"github.com/samson-media/barn/internal/manifest"
	"github.com/samson-media/barn/internal/usage"
)

// Outcome describes how a run ended.
type Outcome struct {
	ExitCode int
	Error    *string
	// Canceled/Killed report which externally requested termination
	// path was taken, if any; both false means the process exited on
	// its own (or timed out, which is reported as a FAILED exit with
	// Error set to "timeout", not as Killed).
	Canceled bool
	Killed   bool
}

// Executor runs a single job's command.
type Executor struct {
	dirs   *barndir.Dirs
	repo   *job.Repository
	clock  barnclock.Clock
	log    *barnlog.Logger
	config Timers
}

// Timers bundles the cooperative-timer and grace-window durations the
// executor needs, set from internal/config.ProcessConfig.
type Timers struct {
	HeartbeatInterval    time.Duration
	UsageSampleInterval  time.Duration
	TerminationGraceTime time.Duration
}

// NewExecutor creates an Executor for one job run.
func NewExecutor(dirs *barndir.Dirs, repo *job.Repository, clock barnclock.Clock, log *barnlog.Logger, timers Timers) *Executor {
	return &Executor{dirs: dirs, repo: repo, clock: clock, log: log, config: timers}
}

// cancelRequest is how an external kill command asks Run to stop a job
// early. Both values go through the same two-stage SIGTERM-then-SIGKILL
// termination; graceful true records the terminal state CANCELED, false
// records KILLED.
type cancelRequest struct {
	graceful bool
}

// Handle is returned to callers that may need to cancel a running job
// from outside the goroutine that's running it.
type Handle struct {
	cancel chan cancelRequest
	once   sync.Once
}

// NewHandle creates a Handle ready to be passed into Run.
func NewHandle() *Handle {
	return &Handle{cancel: make(chan cancelRequest, 1)}
}

// RequestCancel asks the executor to gracefully stop the job (SIGTERM,
// then SIGKILL after the grace window if it doesn't exit).
func (h *Handle) RequestCancel() {
	h.once.Do(func() { h.cancel <- cancelRequest{graceful: true} })
}

// RequestKill asks the executor to stop the job with terminal state
// KILLED. Termination is the same SIGTERM-then-SIGKILL sequence
// RequestCancel uses.
func (h *Handle) RequestKill() {
	h.once.Do(func() { h.cancel <- cancelRequest{graceful: false} })
}

// Run spawns id's command and blocks until it terminates, handling
// mark_started, the heartbeat/usage timers, timeout enforcement, and
// the terminal state transition. The caller is expected to already
// hold id's per-job lock for Run's entire duration.
func (e *Executor) Run(ctx context.Context, id string, handle *Handle) (Outcome, error) {
	m, err := e.repo.LoadManifest(id)
	if err != nil {
		return Outcome{}, err
	}

	workDir, err := e.dirs.JobWorkDir(id)
	if err != nil {
		return Outcome{}, err
	}
	stdoutPath, err := e.dirs.JobStdoutLog(id)
	if err != nil {
		return Outcome{}, err
	}
	stderrPath, err := e.dirs.JobStderrLog(id)
	if err != nil {
		return Outcome{}, err
	}

	cmd, stdoutFile, stderrFile, err := e.buildCommand(ctx, m, workDir, stdoutPath, stderrPath)
	if err != nil {
		return Outcome{}, err
	}
	defer stdoutFile.Close()
	defer stderrFile.Close()

	if err := cmd.Start(); err != nil {
		errMsg := "spawn failed: " + err.Error()
		// The job is still QUEUED here, and FAILED is only reachable from
		// RUNNING, so record the attempt as RUNNING before failing it.
		if markErr := e.repo.UpdateState(id, job.Running); markErr != nil {
			e.log.Warn("failed to record spawn failure", "job_id", id, "error", markErr)
		} else if markErr := e.repo.MarkCompleted(id, -1, &errMsg); markErr != nil {
			e.log.Warn("failed to record spawn failure", "job_id", id, "error", markErr)
		}
		return Outcome{}, barnerr.ProcessSpawnFailed(err, "spawn job %s", id)
	}

	if err := e.repo.MarkStarted(id, cmd.Process.Pid); err != nil {
		return Outcome{}, err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	csvPath, err := e.dirs.JobUsageCSV(id)
	if err != nil {
		return Outcome{}, err
	}
	sampler := usage.NewSampler(e.clock, cmd.Process.Pid, workDir, csvPath)

	outcome := e.supervise(runCtx, id, cmd, sampler, m, handle, exited)

	if err := e.finalize(id, outcome); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// finalize applies outcome's terminal state to the job repository.
func (e *Executor) finalize(id string, outcome Outcome) error {
	switch {
	case outcome.Canceled:
		return e.repo.MarkCanceled(id)
	case outcome.Killed:
		return e.repo.MarkKilled(id, outcome.ExitCode)
	default:
		return e.repo.MarkCompleted(id, outcome.ExitCode, outcome.Error)
	}
}

func (e *Executor) buildCommand(ctx context.Context, m *manifest.Manifest, workDir, stdoutPath, stderrPath string) (*exec.Cmd, *os.File, *os.File, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, nil, nil, barnerr.IoError(err, "create work dir %s", workDir)
	}

	stdoutFile, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, nil, barnerr.IoError(err, "open %s", stdoutPath)
	}
	stderrFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		stdoutFile.Close()
		return nil, nil, nil, barnerr.IoError(err, "open %s", stderrPath)
	}

	cmd := exec.CommandContext(ctx, m.Command[0], m.Command[1:]...)
	cmd.Dir = workDir
	cmd.Stdin = nil
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	setProcessGroup(cmd)

	return cmd, stdoutFile, stderrFile, nil
}
