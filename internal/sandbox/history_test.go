package sandbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryPushReplace(t *testing.T) {
	w := newTestWindow(t)
	ctx := context.Background()

	assert.Equal(t, "/", w.Location())

	require.NoError(t, w.PushState(ctx, "/about?tab=1#team"))
	assert.Equal(t, "/about?tab=1#team", w.Location())
	assert.Equal(t, DefaultOrigin+"/about?tab=1#team", w.Href())

	require.NoError(t, w.ReplaceState(ctx, "contact"))
	assert.Equal(t, "/contact", w.Location())

	length, err := w.RunScript(ctx, "len.js", "history.length")
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)
}

func TestHistoryRejectsOtherOrigins(t *testing.T) {
	w := newTestWindow(t)
	err := w.PushState(context.Background(), "https://elsewhere.test/x")
	require.Error(t, err)
	assert.Equal(t, "/", w.Location())
}

func TestHistoryJSBindings(t *testing.T) {
	w := newTestWindow(t)
	ctx := context.Background()

	got, err := w.RunScript(ctx, "nav.js", `
		history.pushState({ step: 1 }, '', '/a?q=2');
		[location.pathname, location.search, String(history.state.step)].join('|')
	`)
	require.NoError(t, err)
	assert.Equal(t, "/a|?q=2|1", got)
	assert.Equal(t, "/a?q=2", w.Location())
}

func TestWrapNavigation(t *testing.T) {
	w := newTestWindow(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	restore := w.WrapNavigation(func(kind NavigationKind, url string, next func() error) error {
		err := next()
		mu.Lock()
		seen = append(seen, kind.String()+" "+url+" -> "+w.Location())
		mu.Unlock()
		return err
	})

	_, err := w.RunScript(ctx, "nav.js", "history.pushState(null, '', '/one'); history.replaceState(null, '', '/two')")
	require.NoError(t, err)
	require.NoError(t, w.PushState(ctx, "/three"))

	restore()
	restore()
	require.NoError(t, w.PushState(ctx, "/four"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"push /one -> /one",
		"replace /two -> /two",
		"push /three -> /three",
	}, seen)
}

func TestPopState(t *testing.T) {
	w := newTestWindow(t)
	ctx := context.Background()

	pops := make(chan string, 4)
	remove := w.OnPopState(func() { pops <- w.Location() })

	require.NoError(t, w.PushState(ctx, "/a"))
	require.NoError(t, w.PushState(ctx, "/b"))
	assert.Len(t, pops, 0)

	_, err := w.RunScript(ctx, "back.js", "history.back()")
	require.NoError(t, err)
	select {
	case route := <-pops:
		assert.Equal(t, "/a", route)
	case <-time.After(time.Second):
		t.Fatal("expected popstate after history.back()")
	}

	require.NoError(t, w.DispatchPopState(ctx))
	assert.Equal(t, "/a", <-pops)

	remove()
	require.NoError(t, w.DispatchPopState(ctx))
	assert.Len(t, pops, 0)
}
