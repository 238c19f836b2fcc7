//go:build unix

package toolchain

import (
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// setupProcessGroup runs the tool in its own process group so that a
// timeout also kills anything the tool spawned.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
}
