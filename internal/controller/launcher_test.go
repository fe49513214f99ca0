package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvanghelue/surfpack/internal/diagnostics"
	"github.com/vvanghelue/surfpack/internal/sandbox"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

var appFiles = []vfs.SourceFile{
	{Path: "index.html", Content: `<html><head><style>h1 { color: red; }</style></head><body><div id="root"></div><script type="module" src="./src/main.js"></script></body></html>`},
	{Path: "src/main.js", Content: "import { label } from './label';\ndocument.getElementById('root').textContent = label;\n"},
	{Path: "src/label.js", Content: "export const label = 'v1';\n"},
}

func TestInProcessPreview(t *testing.T) {
	ctx := context.Background()
	h, err := Init(ctx, &InProcessLauncher{}, Options{Files: appFiles})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Destroy() })
	events := collect(h)

	w := h.Instance().Window
	require.NotNil(t, w)

	built := waitEvent[BuildSucceeded](t, events)
	assert.Equal(t, 3, built.FileCount)
	assert.True(t, h.Ready())
	assert.Equal(t, "/", waitEvent[LocationChanged](t, events).Route)
	assert.Equal(t, "v1", w.Document().Text("#root"))

	// Patching one file rebuilds with the rest of the project
	require.NoError(t, h.PatchFile(ctx, vfs.SourceFile{Path: "src/label.js", Content: "export const label = 'v2';\n"}))
	waitEvent[BuildSucceeded](t, events)
	assert.Equal(t, "/", waitEvent[LocationChanged](t, events).Route)
	assert.Equal(t, "v2", w.Document().Text("#root"))
	assert.Len(t, h.Files(), 3)

	// Host navigation is applied but not echoed back
	require.NoError(t, h.Navigate(ctx, "/settings"))
	require.Eventually(t, func() bool { return w.Location() == "/settings" }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "/settings", h.Route())

	_, err = w.RunScript(ctx, "nav.js", "history.pushState(null, '', '/profile')")
	require.NoError(t, err)
	changed := waitEvent[LocationChanged](t, events)
	assert.Equal(t, "/profile", changed.Route)
	assert.Equal(t, "/profile", h.Route())

	// A rebuild restores the route the host last saw
	require.NoError(t, h.ReplaceFiles(ctx, appFiles, ""))
	waitEvent[BuildSucceeded](t, events)
	assert.Equal(t, "/profile", waitEvent[LocationChanged](t, events).Route)
	assert.Equal(t, "/profile", w.Location())
}

func TestInProcessBuildFailure(t *testing.T) {
	ctx := context.Background()
	var seen []diagnostics.Diagnostic
	launcher := &InProcessLauncher{}
	launcher.Runner.OnDiagnostic = func(d diagnostics.Diagnostic) { seen = append(seen, d) }

	h, err := Init(ctx, launcher, Options{
		Files: []vfs.SourceFile{{Path: "src/main.js", Content: "import './missing';\n"}},
		Entry: "src/main.js",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Destroy() })
	events := collect(h)

	failed := waitEvent[BuildFailed](t, events)
	assert.Contains(t, failed.Message, "missing")

	d, ok := h.Instance().Runner.Diagnostic()
	require.True(t, ok)
	assert.Equal(t, diagnostics.TitleCompilation, d.Title)
	require.Len(t, seen, 1)
}

func TestInProcessDestroyReleasesWindow(t *testing.T) {
	pool, err := sandbox.NewPool(sandbox.DefaultConfig(), 1, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	h, err := Init(context.Background(), &InProcessLauncher{Pool: pool}, Options{})
	require.NoError(t, err)
	w := h.Instance().Window
	assert.Equal(t, 0, pool.Stats().Available)

	require.NoError(t, h.Destroy())
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("window was not closed")
	}
	require.Eventually(t, func() bool { return pool.Stats().Available == 1 }, 5*time.Second, 10*time.Millisecond)
}
