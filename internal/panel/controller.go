package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loykin/panelsvc/internal/metrics"
	"github.com/loykin/panelsvc/internal/supervisor"
)

// Service is the part of *supervisor.Supervisor the controller drives.
type Service interface {
	EnsureRunning(ctx context.Context) (supervisor.Handle, error)
	IsAlive() bool
	Stop()
	Config() supervisor.ServiceConfig
}

// Renderer attaches a view to the service address. It is owned by the UI host.
type Renderer interface {
	Attach(target ViewTarget) error
}

// ViewTarget is what the view layer needs to show the service. It is returned
// even when the launch failed; rendering a connection error is the view's job.
type ViewTarget struct {
	URL     string `json:"url"`
	Address string `json:"address"`
	PID     int    `json:"pid,omitempty"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type State string

const (
	StateInactive State = "inactive"
	StateActive   State = "active"
)

type Event string

const (
	EventStartup  Event = "startup"
	EventOpen     Event = "open"
	EventClose    Event = "close"
	EventShutdown Event = "shutdown"
)

var ErrUnknownEvent = errors.New("unknown panel event")

// ParseEvent maps a wire name to an Event.
func ParseEvent(s string) (Event, error) {
	switch e := Event(s); e {
	case EventStartup, EventOpen, EventClose, EventShutdown:
		return e, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEvent, s)
}

// Controller translates panel lifecycle events into supervisor calls.
//
// Closing a panel never stops the service, so reopening is instant. Only
// application shutdown stops it, once; a repeated shutdown is a no-op until
// the next open.
type Controller struct {
	svc      Service
	renderer Renderer
	logger   *slog.Logger
	startup  bool

	mu       sync.Mutex
	state    State
	open     int
	stopped  bool
	lastView ViewTarget
}

type Option func(*Controller)

func WithRenderer(r Renderer) Option { return func(c *Controller) { c.renderer = r } }

func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

// WithLaunchOnStartup makes OnApplicationStartup ensure the service is running.
func WithLaunchOnStartup(on bool) Option { return func(c *Controller) { c.startup = on } }

func New(svc Service, opts ...Option) *Controller {
	c := &Controller{svc: svc, state: StateInactive}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// OnApplicationStartup launches the service early when configured to and
// re-arms shutdown. Failures are only logged; the next open retries.
func (c *Controller) OnApplicationStartup(ctx context.Context) {
	metrics.IncPanelEvent(string(EventStartup))
	if !c.startup {
		return
	}
	c.mu.Lock()
	c.stopped = false
	c.mu.Unlock()
	if _, err := c.svc.EnsureRunning(ctx); err != nil {
		c.logger.Warn("service not started at application startup", "error", err)
	}
}

// OnPanelOpen ensures the service runs and returns where to find it.
func (c *Controller) OnPanelOpen(ctx context.Context) ViewTarget {
	metrics.IncPanelEvent(string(EventOpen))
	h, err := c.svc.EnsureRunning(ctx)

	cfg := c.svc.Config()
	vt := ViewTarget{URL: cfg.URL(), Address: cfg.Address(), Running: c.svc.IsAlive()}
	if err != nil {
		vt.Error = err.Error()
	} else {
		vt.PID = h.PID
	}

	c.mu.Lock()
	c.state = StateActive
	c.stopped = false
	c.open++
	c.lastView = vt
	c.mu.Unlock()

	if c.renderer != nil {
		if err := c.renderer.Attach(vt); err != nil {
			c.logger.Warn("renderer failed to attach view", "url", vt.URL, "error", err)
		}
	}
	return vt
}

// OnPanelClose only tracks the open panel count. The service keeps running.
func (c *Controller) OnPanelClose() {
	metrics.IncPanelEvent(string(EventClose))
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open > 0 {
		c.open--
	}
}

// OnApplicationShutdown stops the service. It must run before the host tears
// down further, since termination needs the OS process APIs.
func (c *Controller) OnApplicationShutdown() {
	metrics.IncPanelEvent(string(EventShutdown))
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		c.logger.Debug("shutdown already handled")
		return
	}
	c.svc.Stop()
	c.stopped = true
	c.state = StateInactive
	c.open = 0
}

// Dispatch is the single entry point for UI hosts that deliver events as
// messages. Only open yields a ViewTarget.
func (c *Controller) Dispatch(ctx context.Context, ev Event) (ViewTarget, error) {
	switch ev {
	case EventStartup:
		c.OnApplicationStartup(ctx)
	case EventOpen:
		return c.OnPanelOpen(ctx), nil
	case EventClose:
		c.OnPanelClose()
	case EventShutdown:
		c.OnApplicationShutdown()
	default:
		return ViewTarget{}, fmt.Errorf("%w: %q", ErrUnknownEvent, string(ev))
	}
	return ViewTarget{}, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OpenPanels is the number of panels opened and not yet closed.
func (c *Controller) OpenPanels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// LastView returns the target handed out by the most recent open.
func (c *Controller) LastView() ViewTarget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastView
}
