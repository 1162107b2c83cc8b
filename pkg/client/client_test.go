package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/panelsvc/internal/panel"
	"github.com/loykin/panelsvc/internal/server"
	"github.com/loykin/panelsvc/internal/supervisor"
)

type stubService struct {
	mu    sync.Mutex
	alive bool
	err   error
}

func (s *stubService) EnsureRunning(context.Context) (supervisor.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return supervisor.Handle{}, s.err
	}
	s.alive = true
	return supervisor.Handle{PID: 77, Valid: true, StartedAt: time.Now()}, nil
}

func (s *stubService) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

func (s *stubService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
}

func (s *stubService) Config() supervisor.ServiceConfig {
	return supervisor.ServiceConfig{Name: "web", Port: 8123}.WithDefaults()
}

func (s *stubService) Status() supervisor.Status {
	st := supervisor.Status{Service: "web", State: supervisor.StateStopped, URL: s.Config().URL(), At: time.Now()}
	if s.IsAlive() {
		st.State = supervisor.StateRunning
		st.Handle = supervisor.Handle{PID: 77, Valid: true}
	}
	return st
}

func newTestClient(t *testing.T, svc *stubService) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := server.NewRouter(panel.New(svc), svc, "/api", false)
	ts := httptest.NewServer(r.Handler())
	t.Cleanup(ts.Close)
	return New(Config{BaseURL: ts.URL + "/api/", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func TestClientLifecycle(t *testing.T) {
	svc := &stubService{}
	c := newTestClient(t, svc)
	ctx := context.Background()

	require.True(t, c.IsReachable(ctx))

	vt, err := c.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8123/index.html", vt.URL)
	assert.Equal(t, 77, vt.PID)
	assert.True(t, vt.Running)

	require.NoError(t, c.Close(ctx))
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running())
	assert.Equal(t, "active", st.Panel)
	assert.Equal(t, 0, st.OpenPanels)
	assert.Equal(t, "localhost:8123", st.Address)
	assert.Equal(t, 77, st.Handle.PID)

	require.NoError(t, c.Shutdown(ctx))
	st, err = c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running())
	assert.Equal(t, "inactive", st.Panel)
}

func TestClientOpenFailureInBody(t *testing.T) {
	c := newTestClient(t, &stubService{err: errors.New("spawn failed: permission denied")})
	vt, err := c.Open(context.Background())
	require.NoError(t, err)
	assert.False(t, vt.Running)
	assert.Contains(t, vt.Error, "permission denied")
}

func TestClientDispatch(t *testing.T) {
	svc := &stubService{}
	c := newTestClient(t, svc)
	require.NoError(t, c.Dispatch(context.Background(), "open"))
	assert.True(t, svc.IsAlive())

	err := c.Dispatch(context.Background(), "maximize")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown panel event")
}

func TestClientUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(Config{BaseURL: url, Timeout: time.Second, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.Status(context.Background())
	assert.Error(t, err)
}

func TestClientNonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	t.Cleanup(ts.Close)
	c := New(Config{BaseURL: ts.URL, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	err := c.Close(context.Background())
	require.Error(t, err)
	assert.Equal(t, "HTTP 418", err.Error())
}
