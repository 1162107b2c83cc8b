//go:build linux

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group for group
// signalling and ties its lifetime to ours with a parent-death signal.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
