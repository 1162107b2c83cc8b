package server

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/loykin/panelsvc/internal/metrics"
	"github.com/loykin/panelsvc/internal/panel"
	"github.com/loykin/panelsvc/internal/supervisor"
)

// StatusSource is satisfied by *supervisor.Supervisor.
type StatusSource interface {
	Status() supervisor.Status
	Config() supervisor.ServiceConfig
}

// Router exposes the panel controller over HTTP so a UI host in another
// process can dispatch lifecycle events.
// Endpoints:
//
//	POST {basePath}/panel/open      -> ViewTarget
//	POST {basePath}/panel/close
//	POST {basePath}/shutdown
//	POST {basePath}/events/:event   open|close|startup|shutdown
//	GET  {basePath}/status
//	GET  {basePath}/metrics         when metrics are enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctrl     *panel.Controller
	src      StatusSource
	basePath string
	metrics  bool
}

func NewRouter(ctrl *panel.Controller, src StatusSource, basePath string, withMetrics bool) *Router {
	return &Router{ctrl: ctrl, src: src, basePath: sanitizeBase(basePath), metrics: withMetrics}
}

// BasePath is the sanitized prefix every route is mounted under.
func (r *Router) BasePath() string { return r.basePath }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/panel/open", r.handleOpen)
	group.POST("/panel/close", r.handleClose)
	group.POST("/shutdown", r.handleShutdown)
	group.POST("/events/:event", r.handleEvent)
	group.GET("/status", r.handleStatus)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	supervisor.Status
	Address    string      `json:"address"`
	Panel      panel.State `json:"panel"`
	OpenPanels int         `json:"open_panels"`
}

// A failed launch is still 200: the ViewTarget carries the error for the view to render.
func (r *Router) handleOpen(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctrl.OnPanelOpen(c.Request.Context()))
}

func (r *Router) handleClose(c *gin.Context) {
	r.ctrl.OnPanelClose()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleShutdown(c *gin.Context) {
	r.ctrl.OnApplicationShutdown()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleEvent(c *gin.Context) {
	ev, err := panel.ParseEvent(c.Param("event"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	vt, err := r.ctrl.Dispatch(c.Request.Context(), ev)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if ev == panel.EventOpen {
		writeJSON(c, http.StatusOK, vt)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, StatusResponse{
		Status:     r.src.Status(),
		Address:    r.src.Config().Address(),
		Panel:      r.ctrl.State(),
		OpenPanels: r.ctrl.OpenPanels(),
	})
}

// NewServer binds addr and serves h in the background. Binding errors are
// returned; later serve errors are logged.
func NewServer(addr string, h http.Handler, logger *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// panel/open may wait for readiness
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control API stopped", "error", err)
		}
	}()
	return server, nil
}

// MountEcho mounts h (usually Router.Handler) under basePath of e.
func MountEcho(e *echo.Echo, basePath string, h http.Handler) {
	base := sanitizeBase(basePath)
	wrapped := echo.WrapHandler(h)
	if base == "" {
		e.Any("/*", wrapped)
		return
	}
	e.Any(base, wrapped)
	e.Any(base+"/*", wrapped)
}

// EchoServer is an echo instance started on its own listener.
type EchoServer struct {
	*echo.Echo
	Addr string
}

// NewEchoServer serves h through echo on addr in the background.
func NewEchoServer(addr, basePath string, h http.Handler, logger *slog.Logger) (*EchoServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Listener = ln
	e.Use(middleware.Recover())
	MountEcho(e, basePath, h)
	go func() {
		if err := e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control API stopped", "error", err)
		}
	}()
	return &EchoServer{Echo: e, Addr: ln.Addr().String()}, nil
}
