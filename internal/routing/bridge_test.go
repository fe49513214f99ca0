package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvanghelue/surfpack/internal/sandbox"
)

type reports struct {
	mu     sync.Mutex
	routes []string
}

func (r *reports) add(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *reports) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.routes...)
}

func newWindow(t *testing.T) *sandbox.Window {
	t.Helper()
	w, err := sandbox.NewWindow(sandbox.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestInitRestoresRouteAndReportsOnce(t *testing.T) {
	w := newWindow(t)
	got := &reports{}
	b := NewBridge(w, got.add, nil)

	require.NoError(t, b.Init(context.Background(), "/dashboard?tab=2"))
	assert.Equal(t, "/dashboard?tab=2", w.Location())
	assert.Equal(t, []string{"/dashboard?tab=2"}, got.all())

	// Every install re-asserts the route and reports it again
	require.NoError(t, b.Init(context.Background(), ""))
	assert.Equal(t, DefaultRoute, w.Location())
	assert.Equal(t, []string{"/dashboard?tab=2", "/"}, got.all())
}

func TestSandboxNavigationIsReported(t *testing.T) {
	w := newWindow(t)
	got := &reports{}
	b := NewBridge(w, got.add, nil)
	ctx := context.Background()
	require.NoError(t, b.Init(ctx, "/"))

	_, err := w.RunScript(ctx, "nav.js", `
		history.pushState(null, '', '/a');
		history.replaceState(null, '', '/a');
		history.pushState({step: 2}, '', '/b#top');
	`)
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/a", "/b#top"}, got.all())

	_, err = w.RunScript(ctx, "back.js", "history.back()")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(got.all()) == 4
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "/a", got.all()[3])
	assert.Equal(t, "/a", b.Route())
}

func TestLoadRouteIsEchoFree(t *testing.T) {
	w := newWindow(t)
	got := &reports{}
	b := NewBridge(w, got.add, nil)
	ctx := context.Background()
	require.NoError(t, b.Init(ctx, "/"))

	_, err := w.RunScript(ctx, "app.js", `
		var seen = [];
		addEventListener('popstate', function () { seen.push(location.pathname) });
	`)
	require.NoError(t, err)

	require.NoError(t, b.LoadRoute(ctx, "/x"))

	seen, err := w.RunScript(ctx, "seen.js", "seen.join(',')")
	require.NoError(t, err)
	assert.Equal(t, "/x", seen, "the app observes exactly one navigation")
	assert.Equal(t, []string{"/"}, got.all(), "nothing is echoed to the controller")
	assert.Equal(t, "/x", w.Location())

	// Later sandbox-originated changes still propagate
	_, err = w.RunScript(ctx, "next.js", "history.pushState(null, '', '/y')")
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/y"}, got.all())
}

func TestLoadRouteFailureRestoresLastRoute(t *testing.T) {
	w := newWindow(t)
	b := NewBridge(w, nil, nil)
	ctx := context.Background()
	require.NoError(t, b.Init(ctx, "/home"))

	err := b.LoadRoute(ctx, "https://elsewhere.test/x")
	require.Error(t, err)
	assert.Equal(t, "/home", b.Route())
	assert.Equal(t, "/home", w.Location())

	assert.True(t, errors.Is(b.LoadRoute(ctx, ""), ErrEmptyRoute))
}

func TestCloseStopsReporting(t *testing.T) {
	w := newWindow(t)
	got := &reports{}
	b := NewBridge(w, got.add, nil)
	ctx := context.Background()
	require.NoError(t, b.Init(ctx, "/"))

	b.Close()
	b.Close()
	_, err := w.RunScript(ctx, "after.js", "history.pushState(null, '', '/after')")
	require.NoError(t, err)
	assert.Equal(t, []string{"/"}, got.all())
}
