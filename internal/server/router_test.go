package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"

	"github.com/loykin/panelsvc/internal/panel"
	"github.com/loykin/panelsvc/internal/supervisor"
)

type fakeService struct {
	mu    sync.Mutex
	alive bool
	stops int
	err   error
}

func (f *fakeService) EnsureRunning(context.Context) (supervisor.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return supervisor.Handle{}, f.err
	}
	f.alive = true
	return supervisor.Handle{PID: 4242, Valid: true}, nil
}

func (f *fakeService) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeService) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.alive = false
}

func (f *fakeService) Config() supervisor.ServiceConfig {
	return supervisor.ServiceConfig{Name: "web"}.WithDefaults()
}

func (f *fakeService) Status() supervisor.Status {
	st := supervisor.Status{Service: "web", State: supervisor.StateStopped, URL: f.Config().URL(), At: time.Now()}
	if f.IsAlive() {
		st.State = supervisor.StateRunning
		st.Handle = supervisor.Handle{PID: 4242, Valid: true}
	}
	return st
}

func setupRouter(t *testing.T, base string, svc *fakeService) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctrl := panel.New(svc)
	return NewRouter(ctrl, svc, base, true).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestOpenReturnsViewTarget(t *testing.T) {
	svc := &fakeService{}
	h := setupRouter(t, "/api", svc)
	rec := doReq(t, h, http.MethodPost, "/api/panel/open")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var vt panel.ViewTarget
	if err := json.Unmarshal(rec.Body.Bytes(), &vt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if vt.URL != "http://localhost:8000/index.html" || !vt.Running || vt.PID != 4242 {
		t.Fatalf("unexpected view target: %+v", vt)
	}
}

func TestOpenFailureStillOK(t *testing.T) {
	svc := &fakeService{err: errors.New("missing dependency: /opt/python")}
	h := setupRouter(t, "", svc)
	rec := doReq(t, h, http.MethodPost, "/panel/open")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var vt panel.ViewTarget
	_ = json.Unmarshal(rec.Body.Bytes(), &vt)
	if vt.Running || !strings.Contains(vt.Error, "missing dependency") || vt.URL == "" {
		t.Fatalf("unexpected view target: %+v", vt)
	}
}

func TestCloseKeepsServiceAndShutdownStops(t *testing.T) {
	svc := &fakeService{}
	h := setupRouter(t, "/api", svc)
	doReq(t, h, http.MethodPost, "/api/panel/open")

	rec := doReq(t, h, http.MethodPost, "/api/panel/close")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("close: %d %s", rec.Code, rec.Body.String())
	}
	if !svc.IsAlive() {
		t.Fatalf("close must not stop the service")
	}

	for i := 0; i < 2; i++ {
		rec = doReq(t, h, http.MethodPost, "/api/shutdown")
		if rec.Code != http.StatusOK {
			t.Fatalf("shutdown: %d", rec.Code)
		}
	}
	if svc.IsAlive() || svc.stops != 1 {
		t.Fatalf("expected single stop, alive=%v stops=%d", svc.IsAlive(), svc.stops)
	}
}

func TestStatus(t *testing.T) {
	svc := &fakeService{}
	h := setupRouter(t, "/api", svc)
	doReq(t, h, http.MethodPost, "/api/panel/open")

	rec := doReq(t, h, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m["state"] != "running" || m["panel"] != "active" || m["address"] != "localhost:8000" {
		t.Fatalf("unexpected status: %v", m)
	}
	if m["open_panels"].(float64) != 1 {
		t.Fatalf("open_panels = %v", m["open_panels"])
	}
}

func TestEvents(t *testing.T) {
	svc := &fakeService{}
	h := setupRouter(t, "/api", svc)

	rec := doReq(t, h, http.MethodPost, "/api/events/open")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"url"`) {
		t.Fatalf("open event: %d %s", rec.Code, rec.Body.String())
	}
	rec = doReq(t, h, http.MethodPost, "/api/events/shutdown")
	if rec.Code != http.StatusOK || svc.IsAlive() {
		t.Fatalf("shutdown event: %d alive=%v", rec.Code, svc.IsAlive())
	}
	rec = doReq(t, h, http.MethodPost, "/api/events/minimize")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown event, got %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	h := setupRouter(t, "/api", &fakeService{})
	rec := doReq(t, h, http.MethodGet, "/api/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("expected prometheus exposition")
	}

	gin.SetMode(gin.TestMode)
	svc := &fakeService{}
	noMetrics := NewRouter(panel.New(svc), svc, "/api", false).Handler()
	if rec := doReq(t, noMetrics, http.MethodGet, "/api/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics, got %d", rec.Code)
	}
}

func TestMountEcho(t *testing.T) {
	svc := &fakeService{}
	e := echo.New()
	MountEcho(e, "/api/", setupRouter(t, "/api", svc))

	req := httptest.NewRequest(http.MethodPost, "/api/panel/open", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !svc.IsAlive() {
		t.Fatalf("echo mount: %d alive=%v", rec.Code, svc.IsAlive())
	}
}

func TestNewServer(t *testing.T) {
	svc := &fakeService{}
	srv, err := NewServer("127.0.0.1:0", setupRouter(t, "/api", svc), discardLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer func() { _ = srv.Close() }()

	resp, err := http.Get("http://" + srv.Addr + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"state":"stopped"`) {
		t.Fatalf("status: %d %s", resp.StatusCode, body)
	}
}

func TestNewEchoServer(t *testing.T) {
	svc := &fakeService{}
	srv, err := NewEchoServer("127.0.0.1:0", "/api", setupRouter(t, "/api", svc), discardLogger())
	if err != nil {
		t.Fatalf("NewEchoServer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Post("http://"+srv.Addr+"/api/panel/open", "application/json", nil)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !svc.IsAlive() {
		t.Fatalf("open via echo: %d", resp.StatusCode)
	}
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
