//go:build !windows

package procexec

import (
	"os/exec"
	"syscall"

	"github.com/samson-media/barn/internal/barnerr"
)

// setProcessGroup places the child in its own process group so the
// entire descendant tree can be signaled at once.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateTree sends SIGTERM to cmd's process group.
func terminateTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil {
		return barnerr.IoError(err, "SIGTERM process group %d", cmd.Process.Pid)
	}
	return nil
}

// killTree sends SIGKILL to cmd's process group.
func killTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return barnerr.IoError(err, "SIGKILL process group %d", cmd.Process.Pid)
	}
	return nil
}

// exitSignal extracts the terminating signal number from an
// *exec.ExitError on Unix, where WaitStatus reports it directly.
func exitSignal(exitErr *exec.ExitError) (int, bool) {
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return 0, false
	}
	return int(status.Signal()), true
}
