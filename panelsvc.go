package panelsvc

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/panelsvc/internal/config"
	"github.com/loykin/panelsvc/internal/history"
	"github.com/loykin/panelsvc/internal/history/factory"
	"github.com/loykin/panelsvc/internal/metrics"
	"github.com/loykin/panelsvc/internal/panel"
	iapi "github.com/loykin/panelsvc/internal/server"
	"github.com/loykin/panelsvc/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type ServiceConfig = supervisor.ServiceConfig

type Handle = supervisor.Handle

type Status = supervisor.Status

type LaunchError = supervisor.LaunchError

type ViewTarget = panel.ViewTarget

type Renderer = panel.Renderer

type Event = panel.Event

type Config = cfg.Config

type HistorySink = history.Sink

type EchoServer = iapi.EchoServer

const (
	EventStartup  = panel.EventStartup
	EventOpen     = panel.EventOpen
	EventClose    = panel.EventClose
	EventShutdown = panel.EventShutdown
)

var (
	ErrMissingDependency     = supervisor.ErrMissingDependency
	ErrSpawnFailed           = supervisor.ErrSpawnFailed
	ErrTerminationIncomplete = supervisor.ErrTerminationIncomplete
	ErrUnknownEvent          = panel.ErrUnknownEvent
)

// Options are optional collaborators for New.
type Options struct {
	Logger          *slog.Logger
	Renderer        Renderer
	History         HistorySink
	LaunchOnStartup bool
}

// Panel binds one supervised service to a panel lifecycle. It is the
// embedding entry point for UI hosts written in Go.
type Panel struct {
	sup  *supervisor.Supervisor
	ctrl *panel.Controller
}

func New(sc ServiceConfig, o Options) *Panel {
	var sopts []supervisor.Option
	var popts []panel.Option
	if o.Logger != nil {
		sopts = append(sopts, supervisor.WithLogger(o.Logger))
		popts = append(popts, panel.WithLogger(o.Logger))
	}
	if o.History != nil {
		sopts = append(sopts, supervisor.WithHistory(o.History))
	}
	if o.Renderer != nil {
		popts = append(popts, panel.WithRenderer(o.Renderer))
	}
	popts = append(popts, panel.WithLaunchOnStartup(o.LaunchOnStartup))
	sup := supervisor.New(sc, sopts...)
	return &Panel{sup: sup, ctrl: panel.New(sup, popts...)}
}

// NewFromConfig builds a Panel from a loaded config file. The history sink,
// when enabled, is opened here and must be closed by the caller.
func NewFromConfig(c *Config, logger *slog.Logger) (*Panel, HistorySink, error) {
	o := Options{Logger: logger, LaunchOnStartup: c.Panel.LaunchOnStartup}
	if c.History.Enabled {
		sink, err := factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			return nil, nil, err
		}
		o.History = sink
	}
	return New(c.ServiceConfig(), o), o.History, nil
}

func (p *Panel) Startup(ctx context.Context)         { p.ctrl.OnApplicationStartup(ctx) }
func (p *Panel) Open(ctx context.Context) ViewTarget { return p.ctrl.OnPanelOpen(ctx) }
func (p *Panel) Close()                              { p.ctrl.OnPanelClose() }
func (p *Panel) Shutdown()                           { p.ctrl.OnApplicationShutdown() }
func (p *Panel) IsAlive() bool                       { return p.sup.IsAlive() }
func (p *Panel) Handle() Handle                      { return p.sup.Handle() }
func (p *Panel) Status() Status                      { return p.sup.Status() }

func (p *Panel) Dispatch(ctx context.Context, e Event) (ViewTarget, error) {
	return p.ctrl.Dispatch(ctx, e)
}

// Handler returns the control API for mounting in an existing mux.
func (p *Panel) Handler(basePath string, withMetrics bool) http.Handler {
	return iapi.NewRouter(p.ctrl, p.sup, basePath, withMetrics).Handler()
}

// CheckDependencies reports a missing executable or script without launching.
func CheckDependencies(sc ServiceConfig) error { return supervisor.CheckDependencies(sc) }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// NewHTTPServer starts an HTTP server exposing the control API of p.
func NewHTTPServer(addr, basePath string, p *Panel, logger *slog.Logger) (*http.Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return iapi.NewServer(addr, p.Handler(basePath, true), logger)
}

// NewEchoServer is NewHTTPServer on an echo instance.
func NewEchoServer(addr, basePath string, p *Panel, logger *slog.Logger) (*EchoServer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return iapi.NewEchoServer(addr, basePath, p.Handler(basePath, true), logger)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
