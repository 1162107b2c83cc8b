package supervisor

import "context"

// Process is a launched or adopted OS process as seen by the supervisor.
type Process interface {
	PID() int
	// Alive is an immediate, non-blocking liveness query.
	Alive() bool
	// Terminate asks the process to exit. Kill forces it.
	Terminate() error
	Kill() error
	// Wait blocks until the process exits or ctx ends.
	Wait(ctx context.Context) error
	// Release frees resources held for the process (pipes, log files).
	Release() error
}

// Launcher creates processes. ExecLauncher is the OS implementation; tests
// substitute a fake to count launches without touching real processes.
type Launcher interface {
	Launch(ctx context.Context, cfg ServiceConfig) (Process, error)
	// Adopt wraps an already running process found through a PID file.
	Adopt(pid int) (Process, error)
}
