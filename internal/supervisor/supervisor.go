package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/panelsvc/internal/detector"
	"github.com/loykin/panelsvc/internal/history"
	"github.com/loykin/panelsvc/internal/metrics"
)

const (
	killGrace      = 500 * time.Millisecond
	historyTimeout = 2 * time.Second
	readyInterval  = 50 * time.Millisecond
)

// Supervisor owns at most one service process. All handle reads and writes
// happen under mu, so concurrent EnsureRunning calls cannot double-launch.
type Supervisor struct {
	cfg      ServiceConfig
	launcher Launcher
	logger   *slog.Logger
	sink     history.Sink
	ready    detector.Detector

	mu     sync.Mutex
	proc   Process
	handle Handle
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLauncher replaces the OS launcher.
func WithLauncher(l Launcher) Option { return func(s *Supervisor) { s.launcher = l } }

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// WithHistory records lifecycle events to sink.
func WithHistory(sink history.Sink) Option { return func(s *Supervisor) { s.sink = sink } }

// WithReadiness replaces the probe chosen by ReadyProbe.
func WithReadiness(d detector.Detector) Option { return func(s *Supervisor) { s.ready = d } }

// New creates a supervisor for cfg. cfg is copied and never mutated.
func New(cfg ServiceConfig, opts ...Option) *Supervisor {
	s := &Supervisor{cfg: cfg.WithDefaults(), launcher: ExecLauncher{}}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("service", s.cfg.Name)
	if s.ready == nil {
		s.ready = readinessFor(s.cfg)
	}
	return s
}

// readinessFor picks the probe used after a launch when ReadyTimeout is set.
func readinessFor(cfg ServiceConfig) detector.Detector {
	if cfg.ReadyProbe == ProbeHTTP {
		return detector.HTTPDetector{URL: cfg.URL()}
	}
	return detector.TCPDetector{Address: cfg.Address()}
}

// Config returns the immutable service config.
func (s *Supervisor) Config() ServiceConfig { return s.cfg }

// EnsureRunning makes sure exactly one service process is alive. It is a
// no-op when the current process is alive. Otherwise it adopts a prior
// instance from the PID file or launches a new process. Errors are
// *LaunchError values; none is fatal to the caller.
func (s *Supervisor) EnsureRunning(ctx context.Context) (Handle, error) {
	h, launched, err := s.ensure(ctx)
	if err != nil || launched == nil || s.cfg.ReadyTimeout <= 0 {
		return h, err
	}
	s.waitReady(ctx, launched)
	return h, nil
}

// ensure returns the freshly launched process, or nil when nothing was launched.
func (s *Supervisor) ensure(ctx context.Context) (Handle, Process, error) {
	if err := s.checkDependencies(); err != nil {
		s.logger.Warn("service dependency not found, not launching", "path", err.Path, "error", err.Err)
		s.fail(err)
		return Handle{}, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle.Valid && s.proc != nil {
		if s.proc.Alive() {
			s.logger.Info("service already running", "pid", s.handle.PID)
			return s.handle, nil, nil
		}
		s.logger.Warn("service exited externally, relaunching", "pid", s.handle.PID)
		s.releaseLocked(history.EventStop, nil)
	}

	if h, ok := s.adoptLocked(); ok {
		return h, nil, nil
	}

	proc, err := s.launcher.Launch(ctx, s.cfg)
	if err != nil {
		lerr := &LaunchError{Kind: KindSpawnFailed, Path: s.cfg.ExecutablePath, Err: err}
		s.logger.Error("failed to start service", "error", err)
		s.fail(lerr)
		return Handle{}, nil, lerr
	}
	s.proc = proc
	s.handle = Handle{PID: proc.PID(), Valid: true, StartedAt: time.Now()}
	if err := detector.WritePIDFile(s.cfg.PIDFile, s.handle.PID); err != nil {
		s.logger.Warn("failed to write pid file", "path", s.cfg.PIDFile, "error", err)
	}
	s.logger.Info("service started", "pid", s.handle.PID, "url", s.cfg.URL())
	metrics.IncLaunch(s.cfg.Name)
	metrics.SetRunning(s.cfg.Name, true)
	s.record(history.Event{Type: history.EventStart, PID: s.handle.PID})
	return s.handle, proc, nil
}

// adoptLocked takes over a prior instance recorded in the PID file.
func (s *Supervisor) adoptLocked() (Handle, bool) {
	if s.cfg.PIDFile == "" {
		return Handle{}, false
	}
	pid, alive, err := detector.PIDFileDetector{PIDFile: s.cfg.PIDFile}.Lookup()
	if err != nil {
		s.logger.Debug("ignoring unreadable pid file", "path", s.cfg.PIDFile, "error", err)
		detector.RemovePIDFile(s.cfg.PIDFile)
		return Handle{}, false
	}
	if !alive {
		if pid != 0 {
			detector.RemovePIDFile(s.cfg.PIDFile)
		}
		return Handle{}, false
	}
	proc, err := s.launcher.Adopt(pid)
	if err != nil {
		s.logger.Debug("cannot adopt prior instance", "pid", pid, "error", err)
		return Handle{}, false
	}
	started := time.Now()
	if su := detector.ProcessStartUnix(pid); su > 0 {
		started = time.Unix(su, 0)
	}
	s.proc = proc
	s.handle = Handle{PID: pid, Valid: true, StartedAt: started, Adopted: true}
	s.logger.Info("adopted running service", "pid", pid)
	metrics.IncAdopt(s.cfg.Name)
	metrics.SetRunning(s.cfg.Name, true)
	s.record(history.Event{Type: history.EventAdopt, PID: pid})
	return s.handle, true
}

// waitReady blocks until the service address accepts connections, proc
// exits or ReadyTimeout passes. Neither outcome fails the launch.
func (s *Supervisor) waitReady(ctx context.Context, proc Process) {
	start := time.Now()
	wctx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()
	err := detector.WaitWhile(wctx, s.ready, readyInterval, proc.Alive)
	switch {
	case errors.Is(err, detector.ErrGone):
		s.logger.Warn("service exited during readiness wait", "pid", proc.PID(), "after", time.Since(start))
		return
	case err != nil:
		s.logger.Warn("service not ready within timeout", "probe", s.ready.Describe(), "timeout", s.cfg.ReadyTimeout)
		return
	}
	metrics.ObserveReadyWait(s.cfg.Name, time.Since(start).Seconds())
	s.logger.Debug("service ready", "probe", s.ready.Describe(), "after", time.Since(start))
}

func (s *Supervisor) checkDependencies() *LaunchError { return checkDependencies(s.cfg) }

// CheckDependencies reports the first missing executable or script of cfg
// without launching anything. A nil result means a launch would be attempted.
func CheckDependencies(cfg ServiceConfig) error {
	if err := checkDependencies(cfg); err != nil {
		return err
	}
	return nil
}

func checkDependencies(cfg ServiceConfig) *LaunchError {
	if err := fileExists(cfg.ExecutablePath, true); err != nil {
		return &LaunchError{Kind: KindMissingDependency, Path: cfg.ExecutablePath, Err: err}
	}
	if script := cfg.ScriptFullPath(); script != "" {
		if err := fileExists(script, false); err != nil {
			return &LaunchError{Kind: KindMissingDependency, Path: script, Err: err}
		}
	}
	return nil
}

// fileExists accepts bare command names through PATH lookup when lookPath is set.
func fileExists(path string, lookPath bool) error {
	if path == "" {
		return errors.New("path is empty")
	}
	if lookPath && !strings.ContainsAny(path, `/\`) {
		_, err := exec.LookPath(path)
		return err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// IsAlive reports whether the held process is running. It never mutates state.
func (s *Supervisor) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle.Valid && s.proc != nil && s.proc.Alive()
}

// Handle returns a copy of the current handle.
func (s *Supervisor) Handle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// State is Running while a valid handle is held and its process is alive.
func (s *Supervisor) State() State {
	if s.IsAlive() {
		return StateRunning
	}
	return StateStopped
}

// Stop terminates the process and releases the handle. Termination failures
// are logged and recorded, never returned. Calling Stop without a handle is a no-op.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.handle.Valid || s.proc == nil {
		return
	}
	pid := s.handle.PID
	var termErr error
	if s.proc.Alive() {
		termErr = s.terminateLocked()
	}
	if termErr != nil {
		s.logger.Error("service did not terminate cleanly", "pid", pid, "error", termErr)
		metrics.IncTerminationIncomplete(s.cfg.Name)
		s.record(history.Event{Type: history.EventTerminationIncomplete, PID: pid, Error: termErr.Error()})
	} else {
		s.logger.Info("service stopped", "pid", pid)
	}
	s.releaseLocked(history.EventStop, termErr)
}

// terminateLocked asks for a graceful exit, escalating to a kill after
// StopTimeout. It returns an ErrTerminationIncomplete error when the process
// is still alive afterwards.
func (s *Supervisor) terminateLocked() error {
	pid := s.handle.PID
	if err := s.proc.Terminate(); err != nil {
		s.logger.Debug("graceful termination refused, forcing", "pid", pid, "error", err)
	} else if s.waitExit(s.cfg.StopTimeout) {
		return nil
	}
	if err := s.proc.Kill(); err != nil {
		s.logger.Debug("kill failed", "pid", pid, "error", err)
	}
	if s.waitExit(killGrace) {
		return nil
	}
	return fmt.Errorf("%w: pid %d still alive", ErrTerminationIncomplete, pid)
}

func (s *Supervisor) waitExit(d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.proc.Wait(ctx) == nil
}

// releaseLocked drops the handle regardless of how termination went.
func (s *Supervisor) releaseLocked(t history.EventType, cause error) {
	if err := s.proc.Release(); err != nil {
		s.logger.Debug("release failed", "pid", s.handle.PID, "error", err)
	}
	detector.RemovePIDFile(s.cfg.PIDFile)
	ev := history.Event{Type: t, PID: s.handle.PID}
	if cause != nil {
		ev.Error = cause.Error()
	}
	s.proc = nil
	s.handle = Handle{}
	metrics.IncStop(s.cfg.Name)
	metrics.SetRunning(s.cfg.Name, false)
	s.record(ev)
}

// Stats samples CPU and memory of the live process.
func (s *Supervisor) Stats() (Stats, error) {
	h := s.Handle()
	if !h.Valid {
		return Stats{}, errors.New("service not running")
	}
	p, err := gopsproc.NewProcess(int32(h.PID))
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	var st Stats
	if st.CPUPercent, err = p.CPUPercent(); err != nil {
		s.logger.Debug("failed to get CPU percent", "pid", h.PID, "error", err)
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	st.MemoryRSS = mem.RSS
	if st.NumThreads, err = p.NumThreads(); err != nil {
		s.logger.Debug("failed to get thread count", "pid", h.PID, "error", err)
	}
	metrics.SetProcessStats(s.cfg.Name, st.CPUPercent, st.MemoryRSS)
	return st, nil
}

// Status assembles a snapshot for diagnostics.
func (s *Supervisor) Status() Status {
	st := Status{Service: s.cfg.Name, State: s.State(), Handle: s.Handle(), URL: s.cfg.URL(), At: time.Now()}
	if st.State == StateRunning {
		if stats, err := s.Stats(); err == nil {
			st.Stats = &stats
		}
	}
	return st
}

func (s *Supervisor) fail(err *LaunchError) {
	metrics.IncLaunchFailure(s.cfg.Name, string(err.Kind))
	s.record(history.Event{Type: history.EventLaunchFailed, Error: err.Error()})
}

func (s *Supervisor) record(e history.Event) {
	if s.sink == nil {
		return
	}
	e.Service = s.cfg.Name
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.sink.Send(ctx, e); err != nil {
		s.logger.Warn("failed to record history event", "type", e.Type, "error", err)
	}
}
