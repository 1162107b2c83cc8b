package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/panelsvc/internal/detector"
)

// ExecLauncher starts the service with os/exec.
type ExecLauncher struct{}

// Launch starts the executable with Argv in WorkDir. Output is discarded
// unless cfg.Output names log files. The child keeps a process group of its
// own but is not detached.
func (ExecLauncher) Launch(_ context.Context, cfg ServiceConfig) (Process, error) {
	// #nosec G204 executable comes from operator configuration
	cmd := exec.Command(cfg.ExecutablePath, cfg.Argv()...)
	cmd.Dir = cfg.WorkDir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	configureSysProcAttr(cmd)

	p := &execProcess{cmd: cmd, exited: make(chan struct{})}
	outW, errW, err := cfg.Output.Writers(cfg.Name)
	if err != nil {
		return nil, err
	}
	p.outW, p.errW = outW, errW
	if outW != nil {
		cmd.Stdout = outW
	}
	if errW != nil {
		cmd.Stderr = errW
	}
	// nil Stdout/Stderr go to the null device

	if err := cmd.Start(); err != nil {
		_ = p.Release()
		return nil, err
	}
	go p.reap()
	return p, nil
}

// Adopt wraps pid without owning it as a child.
func (ExecLauncher) Adopt(pid int) (Process, error) {
	if !detector.PIDAlive(pid) {
		return nil, os.ErrProcessDone
	}
	return &adoptedProcess{pid: pid}, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error

	mu         sync.Mutex
	outW, errW io.WriteCloser
}

func (p *execProcess) reap() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

func (p *execProcess) Terminate() error {
	if !p.Alive() {
		return nil
	}
	return terminateGroup(p.cmd.Process)
}

func (p *execProcess) Kill() error {
	if !p.Alive() {
		return nil
	}
	return killGroup(p.cmd.Process)
}

func (p *execProcess) Wait(ctx context.Context) error {
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExitErr is the result of cmd.Wait once the process has exited.
func (p *execProcess) ExitErr() error {
	select {
	case <-p.exited:
		return p.waitErr
	default:
		return nil
	}
}

func (p *execProcess) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.outW != nil {
		errs = append(errs, p.outW.Close())
		p.outW = nil
	}
	if p.errW != nil {
		errs = append(errs, p.errW.Close())
		p.errW = nil
	}
	return errors.Join(errs...)
}

// adoptedProcess is a prior instance found through a PID file. It is not our
// child, so exit is observed by polling.
type adoptedProcess struct {
	pid int
}

func (p *adoptedProcess) PID() int    { return p.pid }
func (p *adoptedProcess) Alive() bool { return detector.PIDAlive(p.pid) }

func (p *adoptedProcess) Terminate() error {
	proc, err := os.FindProcess(p.pid)
	if err != nil {
		return err
	}
	return terminateGroup(proc)
}

func (p *adoptedProcess) Kill() error {
	proc, err := os.FindProcess(p.pid)
	if err != nil {
		return err
	}
	return killGroup(proc)
}

func (p *adoptedProcess) Wait(ctx context.Context) error {
	t := time.NewTicker(25 * time.Millisecond)
	defer t.Stop()
	for p.Alive() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (p *adoptedProcess) Release() error { return nil }
