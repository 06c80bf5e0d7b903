package procexec

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/samson-media/barn/internal/manifest"
	"github.com/samson-media/barn/internal/usage"
)

// supervise runs the heartbeat, usage-sampling, and timeout/cancel
// watch loop until the child exits or is terminated, and returns the
// resulting Outcome.
func (e *Executor) supervise(ctx context.Context, id string, cmd *exec.Cmd, sampler *usage.Sampler, m *manifest.Manifest, handle *Handle, exited <-chan error) Outcome {
	heartbeat := e.clock.After(e.config.HeartbeatInterval)
	sample := e.clock.After(e.config.UsageSampleInterval)

	var timeoutAt <-chan time.Time
	if m.TimeoutSeconds > 0 {
		timeoutAt = e.clock.After(time.Duration(m.TimeoutSeconds) * time.Second)
	}

	for {
		select {
		case err := <-exited:
			return outcomeFromExit(err)

		case <-heartbeat:
			if hbErr := e.repo.UpdateHeartbeat(id); hbErr != nil {
				e.log.Warn("heartbeat write failed", "job_id", id, "error", hbErr)
			}
			heartbeat = e.clock.After(e.config.HeartbeatInterval)

		case <-sample:
			if sampleErr := sampler.SampleOnce(ctx); sampleErr != nil {
				e.log.Debug("usage sample failed", "job_id", id, "error", sampleErr)
			}
			sample = e.clock.After(e.config.UsageSampleInterval)

		case <-timeoutAt:
			exitErr := e.terminateTwoStage(cmd, exited)
			errMsg := "timeout"
			return Outcome{ExitCode: exitCodeFromErr(exitErr), Error: &errMsg}

		case req := <-handle.cancel:
			exitErr := e.terminateTwoStage(cmd, exited)
			code := exitCodeFromErr(exitErr)
			if req.graceful {
				return Outcome{ExitCode: code, Canceled: true}
			}
			return Outcome{ExitCode: code, Killed: true}
		}
	}
}

// terminateTwoStage sends the platform-appropriate terminate signal to
// the whole process tree, waits up to the grace window for the child
// to exit, force-kills the tree if it hasn't, and returns the child's
// actual wait result so the caller can derive its real exit code
// instead of assuming zero.
func (e *Executor) terminateTwoStage(cmd *exec.Cmd, exited <-chan error) error {
	_ = terminateTree(cmd)

	select {
	case err := <-exited:
		return err
	case <-e.clock.After(e.config.TerminationGraceTime):
	}

	_ = killTree(cmd)
	return <-exited
}

// exitCodeFromErr derives a job's numeric exit code from cmd.Wait's
// result: 0 on a clean exit, the process's own exit code on a normal
// nonzero exit, or 128+signal when a signal (rather than a self-chosen
// status) ended it, per spec.md's "sets exit_code to 128+signal" rule.
func exitCodeFromErr(err error) int {
	if err == nil {
		return 0
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1
	}
	code := exitErr.ExitCode()
	if code < 0 {
		if status, ok := exitSignal(exitErr); ok {
			code = 128 + status
		}
	}
	return code
}

func outcomeFromExit(err error) Outcome {
	if err == nil {
		return Outcome{ExitCode: 0}
	}
	if _, ok := err.(*exec.ExitError); ok {
		code := exitCodeFromErr(err)
		errMsg := fmt.Sprintf("Process exited with code %d", code)
		return Outcome{ExitCode: code, Error: &errMsg}
	}
	errMsg := err.Error()
	return Outcome{ExitCode: -1, Error: &errMsg}
}
