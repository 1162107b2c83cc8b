package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/loykin/panelsvc/internal/detector"
)

// daemonChildEnv marks the re-executed background process.
const daemonChildEnv = "PANELSVC_DAEMON_CHILD"

func isDaemonChild() bool { return os.Getenv(daemonChildEnv) == "1" }

// daemonize re-executes the current command in the background without
// --daemonize and returns the child's PID. The child writes its own log.
func daemonize(pidFile string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to get executable path: %w", err)
	}

	newArgs := make([]string, 0, len(os.Args))
	for _, arg := range os.Args[1:] {
		if arg == "--daemonize" || arg == "--daemonize=true" {
			continue
		}
		newArgs = append(newArgs, arg)
	}

	// #nosec G204 re-executes our own binary
	cmd := exec.Command(executable, newArgs...)
	cmd.Env = append(os.Environ(), daemonChildEnv+"=1")
	configureDaemonAttrs(cmd)
	// stdin/stdout/stderr go to the null device

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon process: %w", err)
	}
	pid := cmd.Process.Pid
	if pidFile != "" {
		if err := detector.WritePIDFile(pidFile, pid); err != nil {
			return pid, fmt.Errorf("failed to write PID file: %w", err)
		}
	}
	_ = cmd.Process.Release()
	return pid, nil
}
