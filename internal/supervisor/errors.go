package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingDependency: the executable or script does not exist. No launch was attempted.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrSpawnFailed: the OS refused to create the process.
	ErrSpawnFailed = errors.New("spawn failed")
	// ErrTerminationIncomplete: the process survived termination. Reported only; the handle is still released.
	ErrTerminationIncomplete = errors.New("termination incomplete")
)

// Kind classifies a LaunchError.
type Kind string

const (
	KindMissingDependency Kind = "missing_dependency"
	KindSpawnFailed       Kind = "spawn_failed"
)

// LaunchError is returned by EnsureRunning. It matches ErrMissingDependency
// or ErrSpawnFailed with errors.Is.
type LaunchError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	switch e.Kind {
	case KindMissingDependency:
		return fmt.Sprintf("missing dependency: %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("spawn failed: %s: %v", e.Path, e.Err)
	}
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) Is(target error) bool {
	switch target {
	case ErrMissingDependency:
		return e.Kind == KindMissingDependency
	case ErrSpawnFailed:
		return e.Kind == KindSpawnFailed
	}
	return false
}

// IsMissingDependency reports whether err is a missing-dependency failure.
func IsMissingDependency(err error) bool { return errors.Is(err, ErrMissingDependency) }
