package detector

import (
	"context"
	"errors"
	"time"
)

// Detector determines if something is up, such as a process recorded in a
// PID file or a listening socket. It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the target is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// ErrNotReady is returned by WaitUntil when the deadline passes first.
var ErrNotReady = errors.New("detector: target not ready")

// ErrGone is returned by WaitWhile when the watched target went away first.
var ErrGone = errors.New("detector: target gone")

// WaitUntil polls d every interval until it reports alive or ctx ends.
// Probe errors are treated as "not yet".
func WaitUntil(ctx context.Context, d Detector, interval time.Duration) error {
	return WaitWhile(ctx, d, interval, nil)
}

// WaitWhile is WaitUntil that also gives up with ErrGone once running
// reports false. A nil running never gives up.
func WaitWhile(ctx context.Context, d Detector, interval time.Duration, running func() bool) error {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if ok, _ := d.Alive(); ok {
			return nil
		}
		if running != nil && !running() {
			return ErrGone
		}
		select {
		case <-ctx.Done():
			return errors.Join(ErrNotReady, ctx.Err())
		case <-t.C:
		}
	}
}
