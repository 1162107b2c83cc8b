package panel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/panelsvc/internal/supervisor"
)

type fakeService struct {
	mu      sync.Mutex
	alive   bool
	pid     int
	ensures int
	stops   int
	err     error
}

func (f *fakeService) EnsureRunning(context.Context) (supervisor.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures++
	if f.err != nil {
		return supervisor.Handle{}, f.err
	}
	if !f.alive {
		f.pid++
		f.alive = true
	}
	return supervisor.Handle{PID: f.pid, Valid: true}, nil
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
	return supervisor.ServiceConfig{}.WithDefaults()
}

type fakeRenderer struct {
	targets []ViewTarget
	err     error
}

func (r *fakeRenderer) Attach(vt ViewTarget) error {
	r.targets = append(r.targets, vt)
	return r.err
}

func TestOpen_ReturnsViewTarget(t *testing.T) {
	svc := &fakeService{}
	c := New(svc)
	assert.Equal(t, StateInactive, c.State())

	vt := c.OnPanelOpen(context.Background())
	assert.Equal(t, "http://localhost:8000/index.html", vt.URL)
	assert.Equal(t, "localhost:8000", vt.Address)
	assert.True(t, vt.Running)
	assert.Equal(t, 1, vt.PID)
	assert.Empty(t, vt.Error)
	assert.Equal(t, StateActive, c.State())
	assert.Equal(t, vt, c.LastView())
}

func TestOpen_Reentrant(t *testing.T) {
	svc := &fakeService{}
	c := New(svc)
	a := c.OnPanelOpen(context.Background())
	b := c.OnPanelOpen(context.Background())
	assert.Equal(t, a.PID, b.PID)
	assert.Equal(t, 2, svc.ensures)
	assert.Equal(t, 2, c.OpenPanels())
	assert.Equal(t, StateActive, c.State())
}

func TestOpen_FailureStillReturnsTarget(t *testing.T) {
	svc := &fakeService{err: &supervisor.LaunchError{Kind: supervisor.KindMissingDependency, Path: "/opt/python", Err: errors.New("no such file")}}
	r := &fakeRenderer{}
	c := New(svc, WithRenderer(r))

	vt := c.OnPanelOpen(context.Background())
	assert.Equal(t, "http://localhost:8000/index.html", vt.URL)
	assert.False(t, vt.Running)
	assert.Zero(t, vt.PID)
	assert.Contains(t, vt.Error, "missing dependency")
	require.Len(t, r.targets, 1)
	assert.Equal(t, vt, r.targets[0])
}

func TestRendererErrorIsNotFatal(t *testing.T) {
	r := &fakeRenderer{err: errors.New("no webview")}
	c := New(&fakeService{}, WithRenderer(r))
	vt := c.OnPanelOpen(context.Background())
	assert.True(t, vt.Running)
	assert.Len(t, r.targets, 1)
}

func TestClose_KeepsServiceRunning(t *testing.T) {
	svc := &fakeService{}
	c := New(svc)
	c.OnPanelOpen(context.Background())
	c.OnPanelClose()
	c.OnPanelClose() // extra close never goes negative

	assert.True(t, svc.IsAlive())
	assert.Equal(t, 0, svc.stops)
	assert.Equal(t, 0, c.OpenPanels())
	assert.Equal(t, StateActive, c.State())
}

func TestShutdown_StopsOnce(t *testing.T) {
	svc := &fakeService{}
	c := New(svc)
	c.OnPanelOpen(context.Background())

	c.OnApplicationShutdown()
	assert.False(t, svc.IsAlive())
	assert.Equal(t, StateInactive, c.State())
	c.OnApplicationShutdown()
	assert.Equal(t, 1, svc.stops)

	// reopening re-arms shutdown
	c.OnPanelOpen(context.Background())
	assert.True(t, svc.IsAlive())
	c.OnApplicationShutdown()
	assert.Equal(t, 2, svc.stops)
}

func TestShutdownWithoutOpen(t *testing.T) {
	svc := &fakeService{}
	c := New(svc, WithLaunchOnStartup(true))
	c.OnApplicationStartup(context.Background())
	assert.True(t, svc.IsAlive())
	assert.Equal(t, StateInactive, c.State())

	c.OnApplicationShutdown()
	assert.False(t, svc.IsAlive())
	assert.Equal(t, 1, svc.stops)
}

func TestShutdown_AfterStartupRelaunch(t *testing.T) {
	svc := &fakeService{}
	c := New(svc, WithLaunchOnStartup(true))
	c.OnPanelOpen(context.Background())
	c.OnApplicationShutdown()
	require.False(t, svc.IsAlive())

	c.OnApplicationStartup(context.Background())
	require.True(t, svc.IsAlive())

	c.OnApplicationShutdown()
	assert.False(t, svc.IsAlive())
	assert.Equal(t, 2, svc.stops)
}

func TestStartup_Disabled(t *testing.T) {
	svc := &fakeService{}
	c := New(svc)
	c.OnApplicationStartup(context.Background())
	assert.Equal(t, 0, svc.ensures)
}

func TestStartup_FailureLoggedOnly(t *testing.T) {
	svc := &fakeService{err: errors.New("boom")}
	c := New(svc, WithLaunchOnStartup(true))
	c.OnApplicationStartup(context.Background())
	assert.Equal(t, 1, svc.ensures)
	assert.Equal(t, StateInactive, c.State())
}

func TestDispatch(t *testing.T) {
	svc := &fakeService{}
	c := New(svc)
	ctx := context.Background()

	vt, err := c.Dispatch(ctx, EventOpen)
	require.NoError(t, err)
	assert.True(t, vt.Running)

	_, err = c.Dispatch(ctx, EventClose)
	require.NoError(t, err)
	assert.True(t, svc.IsAlive())

	_, err = c.Dispatch(ctx, EventShutdown)
	require.NoError(t, err)
	assert.False(t, svc.IsAlive())

	_, err = c.Dispatch(ctx, Event("minimize"))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestParseEvent(t *testing.T) {
	for _, s := range []string{"startup", "open", "close", "shutdown"} {
		ev, err := ParseEvent(s)
		require.NoError(t, err)
		assert.Equal(t, Event(s), ev)
	}
	_, err := ParseEvent("OPEN")
	assert.ErrorIs(t, err, ErrUnknownEvent)
}
