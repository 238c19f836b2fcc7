//go:build !unix

package toolchain

import (
	"os/exec"
	"time"
)

func setupProcessGroup(cmd *exec.Cmd) {
	cmd.WaitDelay = 5 * time.Second
}
