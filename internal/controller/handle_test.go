package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvanghelue/surfpack/internal/protocol"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

// pipeLauncher hands the sandbox end of a pipe to the test
type pipeLauncher struct {
	sandbox *protocol.PipePort
}

func (l *pipeLauncher) Launch(context.Context) (*Instance, error) {
	controller, sandbox := protocol.NewPipe("controller", "sandbox")
	l.sandbox = sandbox
	return &Instance{Port: controller, Sandbox: "sandbox"}, nil
}

func recvToSandbox(t *testing.T, p protocol.Port) protocol.ToSandbox {
	t.Helper()
	select {
	case env := <-p.Receive():
		msg, err := protocol.DecodeToSandbox(env.Data)
		require.NoError(t, err)
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the controller")
		return nil
	}
}

func noMessage(t *testing.T, p protocol.Port) {
	t.Helper()
	select {
	case env := <-p.Receive():
		t.Fatalf("unexpected message: %s", env.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func collect(h *Handle) <-chan Event {
	events := make(chan Event, 64)
	h.Subscribe(func(ev Event) { events <- ev })
	return events
}

func waitEvent[T Event](t *testing.T, events <-chan Event) T {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-events:
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %s", zero.EventName())
			return zero
		}
	}
}

func TestPendingFilesAreFlushedOnce(t *testing.T) {
	launcher := &pipeLauncher{}
	h, err := Init(context.Background(), launcher, Options{
		Files: []vfs.SourceFile{{Path: "a.js", Content: "1"}},
		Entry: "a.js",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Destroy() })
	ctx := context.Background()

	require.NoError(t, h.ReplaceFiles(ctx, []vfs.SourceFile{{Path: "b.js", Content: "2"}}, ""))
	require.NoError(t, h.PatchFile(ctx, vfs.SourceFile{Path: "./c.js", Content: "3"}))
	require.NoError(t, h.Navigate(ctx, "/later"))
	require.NoError(t, h.SetOverlay(ctx, protocol.ErrorOverlaySetup{Enabled: true, Policy: protocol.DefaultPolicy()}))
	noMessage(t, launcher.sandbox)
	assert.False(t, h.Ready())

	require.NoError(t, protocol.Send(ctx, launcher.sandbox, protocol.SandboxReady{Version: protocol.Version}))

	setup, ok := recvToSandbox(t, launcher.sandbox).(protocol.ErrorOverlaySetup)
	require.True(t, ok)
	assert.True(t, setup.Enabled)

	update, ok := recvToSandbox(t, launcher.sandbox).(protocol.FilesUpdate)
	require.True(t, ok)
	assert.Equal(t, []vfs.SourceFile{{Path: "b.js", Content: "2"}, {Path: "c.js", Content: "3"}}, update.Files)
	assert.Equal(t, "a.js", update.Entry)
	assert.Equal(t, "/later", update.InitialRoute)

	// A repeated announcement flushes nothing
	require.NoError(t, protocol.Send(ctx, launcher.sandbox, protocol.SandboxReady{Version: protocol.Version}))
	noMessage(t, launcher.sandbox)
	assert.True(t, h.Ready())

	require.NoError(t, h.Navigate(ctx, "/now"))
	load, ok := recvToSandbox(t, launcher.sandbox).(protocol.LoadRoute)
	require.True(t, ok)
	assert.Equal(t, "/now", load.Route)
}

func TestRelativeRouteIsRejected(t *testing.T) {
	launcher := &pipeLauncher{}
	h, err := Init(context.Background(), launcher, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Destroy() })
	ctx := context.Background()

	require.NoError(t, protocol.Send(ctx, launcher.sandbox, protocol.SandboxReady{Version: protocol.Version}))
	require.Eventually(t, h.Ready, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, h.Navigate(ctx, "about"), ErrInvalidRoute)
	assert.Equal(t, "/", h.Route())
	noMessage(t, launcher.sandbox)

	require.NoError(t, h.ReplaceFiles(ctx, []vfs.SourceFile{{Path: "a.js", Content: "1"}}, "a.js"))
	update, ok := recvToSandbox(t, launcher.sandbox).(protocol.FilesUpdate)
	require.True(t, ok)
	assert.Equal(t, "/", update.InitialRoute)
}

func TestEventsFromSandbox(t *testing.T) {
	launcher := &pipeLauncher{}
	var ready, failed int
	h, err := Init(context.Background(), launcher, Options{
		OnReady:       func() { ready++ },
		OnBuildFailed: func(BuildFailed) { failed++ },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Destroy() })
	events := collect(h)
	ctx := context.Background()

	require.NoError(t, protocol.Send(ctx, launcher.sandbox, protocol.SandboxReady{Version: protocol.Version}))
	waitEvent[SandboxReady](t, events)

	require.NoError(t, protocol.Send(ctx, launcher.sandbox, protocol.BuildResult{FileCount: 3, Success: true, Warnings: []string{"w"}}))
	ok := waitEvent[BuildSucceeded](t, events)
	assert.Equal(t, BuildSucceeded{FileCount: 3, Warnings: []string{"w"}}, ok)

	require.NoError(t, protocol.Send(ctx, launcher.sandbox, protocol.BuildResult{FileCount: 1, Error: "Build failed"}))
	failure := waitEvent[BuildFailed](t, events)
	assert.Equal(t, "Build failed", failure.Message)

	require.NoError(t, protocol.Send(ctx, launcher.sandbox, protocol.RouteChanged{NewRoute: "/docs"}))
	changed := waitEvent[LocationChanged](t, events)
	assert.Equal(t, "/docs", changed.Route)
	assert.Equal(t, "/docs", h.Route())
	assert.Equal(t, 1, ready)
	assert.Equal(t, 1, failed)
}

// hubLauncher binds the controller to "sandbox" on a shared hub
type hubLauncher struct {
	hub *protocol.Hub
}

func (l *hubLauncher) Launch(context.Context) (*Instance, error) {
	port, err := l.hub.Join("controller", "sandbox")
	if err != nil {
		return nil, err
	}
	return &Instance{Port: port, Sandbox: "sandbox"}, nil
}

func TestForeignMessagesAreDropped(t *testing.T) {
	hub := protocol.NewHub()
	sandbox, err := hub.Join("sandbox", "controller")
	require.NoError(t, err)
	intruder, err := hub.Join("intruder", "controller")
	require.NoError(t, err)

	h, err := Init(context.Background(), &hubLauncher{hub: hub}, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Destroy() })
	events := collect(h)
	ctx := context.Background()

	require.NoError(t, protocol.Send(ctx, intruder, protocol.SandboxReady{Version: protocol.Version}))
	require.NoError(t, protocol.Send(ctx, intruder, protocol.RouteChanged{NewRoute: "/evil"}))
	require.NoError(t, sandbox.Post(ctx, []byte(`{"type":"route-changed","version":1,"payload":{"newRoute":"no-slash"}}`)))
	require.NoError(t, protocol.Send(ctx, sandbox, protocol.RouteChanged{NewRoute: "/good"}))

	changed := waitEvent[LocationChanged](t, events)
	assert.Equal(t, "/good", changed.Route)
	assert.False(t, h.Ready())
}

func TestDestroy(t *testing.T) {
	launcher := &pipeLauncher{}
	h, err := Init(context.Background(), launcher, Options{})
	require.NoError(t, err)

	require.NoError(t, h.Destroy())
	assert.ErrorIs(t, h.Destroy(), ErrDestroyed)
	assert.ErrorIs(t, h.ReplaceFiles(context.Background(), nil, ""), ErrDestroyed)
	assert.ErrorIs(t, h.Navigate(context.Background(), "/x"), ErrDestroyed)
	assert.ErrorIs(t, h.Navigate(context.Background(), ""), ErrEmptyRoute)
	assert.False(t, h.Ready())
}
