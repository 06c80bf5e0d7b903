//go:build windows

package procexec

import (
	"os/exec"
	"strconv"
	"syscall"

	"github.com/samson-media/barn/internal/barnerr"
)

// setProcessGroup requests a new process group for the child so it can
// be targeted as a unit. No job object is created; descendant-tree
// termination relies on taskkill's /T flag (see treeKill).
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

const createNewProcessGroup = 0x00000200

// terminateTree and killTree both fall back to taskkill's tree-kill
// flag: Windows has no SIGTERM equivalent, so the "graceful" and
// "forced" stages differ only by how long the caller waits before
// escalating, not by the OS call used.
func terminateTree(cmd *exec.Cmd) error {
	return treeKill(cmd)
}

func killTree(cmd *exec.Cmd) error {
	return treeKill(cmd)
}

func treeKill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	if err := kill.Run(); err != nil {
		return barnerr.IoError(err, "taskkill process tree %d", cmd.Process.Pid)
	}
	return nil
}

// exitSignal has no meaning on Windows; exit codes are never negative.
func exitSignal(exitErr *exec.ExitError) (int, bool) {
	return 0, false
}
