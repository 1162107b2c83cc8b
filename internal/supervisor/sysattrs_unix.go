//go:build !linux && !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr creates a new process group for group signalling.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
