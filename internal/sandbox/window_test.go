package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWindow(t *testing.T, opts ...Option) *Window {
	t.Helper()
	w, err := NewWindow(DefaultConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// captureEvents records events of typ seen by a capturing Go listener
func captureEvents(w *Window, typ string) <-chan Event {
	ch := make(chan Event, 16)
	w.AddEventListener(typ, func(_ *goja.Runtime, e *Event) {
		e.PreventDefault()
		ch <- *e
	}, true)
	return ch
}

func TestWindowRunScript(t *testing.T) {
	w := newTestWindow(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		script string
		want   any
	}{
		{name: "simple return", script: "42", want: int64(42)},
		{name: "string operations", script: "'hello'.toUpperCase()", want: "HELLO"},
		{name: "window alias", script: "window === globalThis && self === window", want: true},
		{name: "node globals hidden", script: "typeof process", want: "undefined"},
		{name: "location", script: "location.pathname + location.search", want: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := w.RunScript(ctx, "test.js", tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWindowConsole(t *testing.T) {
	var hooked []LogEntry
	w := newTestWindow(t, WithConsoleHook(func(e LogEntry) { hooked = append(hooked, e) }))

	_, err := w.RunScript(context.Background(), "test.js", "console.log('hello', 1); console.warn('careful')")
	require.NoError(t, err)

	entries := w.Console()
	require.Len(t, entries, 2)
	assert.Equal(t, "log", entries[0].Level)
	assert.Equal(t, "hello 1", entries[0].Message)
	assert.Equal(t, "warn", entries[1].Level)
	assert.Len(t, hooked, 2)
}

func TestWindowTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	w, err := NewWindow(cfg)
	require.NoError(t, err)
	defer w.Close()

	start := time.Now()
	_, err = w.RunScript(context.Background(), "loop.js", "while(true) {}")
	require.Error(t, err)

	var interrupted *goja.InterruptedError
	assert.True(t, errors.As(err, &interrupted))
	assert.Less(t, time.Since(start), 2*time.Second)

	// The window keeps working after an interrupt
	got, err := w.RunScript(context.Background(), "after.js", "1 + 1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
}

func TestWindowClosed(t *testing.T) {
	w, err := NewWindow(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.RunScript(context.Background(), "test.js", "1")
	assert.ErrorIs(t, err, ErrWindowClosed)
}

func TestWindowErrorEvent(t *testing.T) {
	w := newTestWindow(t)
	events := captureEvents(w, EventError)

	_, err := w.EvaluateModule(context.Background(), "blob:surfpack/test", "throw new TypeError('boom')")
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Equal(t, "Uncaught TypeError: boom", e.Message)
		assert.Equal(t, "blob:surfpack/test", e.Filename)
		assert.Equal(t, 1, e.Line)
		assert.False(t, e.Target.Element)
		assert.Contains(t, e.Stack, "blob:surfpack/test")
	default:
		t.Fatal("expected an error event")
	}
}

func TestWindowSyntaxErrorEvent(t *testing.T) {
	w := newTestWindow(t)
	events := captureEvents(w, EventError)

	_, err := w.EvaluateModule(context.Background(), "blob:surfpack/bad", "var = ;")
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Contains(t, e.Message, "SyntaxError")
	default:
		t.Fatal("expected an error event")
	}
}

func TestWindowUnhandledRejection(t *testing.T) {
	w := newTestWindow(t)
	events := captureEvents(w, EventUnhandledRejection)
	ctx := context.Background()

	_, err := w.EvaluateModule(ctx, "blob:surfpack/handled", "Promise.reject(new Error('caught')).catch(() => {})")
	require.NoError(t, err)
	assert.Len(t, events, 0)

	_, err = w.EvaluateModule(ctx, "blob:surfpack/unhandled", "Promise.reject(new Error('nope'))")
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Equal(t, "Error: nope", e.Message)
		assert.NotNil(t, e.Reason)
	default:
		t.Fatal("expected an unhandledrejection event")
	}
}

func TestWindowJSListeners(t *testing.T) {
	w := newTestWindow(t)
	ctx := context.Background()

	_, err := w.RunScript(ctx, "listen.js", `
		var seen = '';
		addEventListener('error', function (e) {
			seen = e.message;
			e.preventDefault();
		});
	`)
	require.NoError(t, err)

	prevented := make(chan bool, 1)
	w.AddEventListener(EventError, func(_ *goja.Runtime, e *Event) {
		prevented <- e.DefaultPrevented()
	}, false)

	_, err = w.EvaluateModule(ctx, "blob:surfpack/x", "throw new Error('x')")
	require.NoError(t, err)

	seen, err := w.RunScript(ctx, "read.js", "seen")
	require.NoError(t, err)
	assert.Equal(t, "Uncaught Error: x", seen)
	assert.True(t, <-prevented)
}

func TestWindowResourceErrorReachesCaptureOnly(t *testing.T) {
	w := newTestWindow(t)
	captured := captureEvents(w, EventError)

	bubbled := make(chan struct{}, 1)
	w.AddEventListener(EventError, func(*goja.Runtime, *Event) {
		bubbled <- struct{}{}
	}, false)

	require.NoError(t, w.ReportResourceError(context.Background(), "img", "https://example.test/missing.png"))

	select {
	case e := <-captured:
		assert.True(t, e.Target.Element)
		assert.Equal(t, "IMG", e.Target.Tag)
		assert.Equal(t, "https://example.test/missing.png", e.Target.URL)
	default:
		t.Fatal("expected a captured resource error")
	}
	assert.Len(t, bubbled, 0)
}

func TestWindowTimers(t *testing.T) {
	w := newTestWindow(t)
	ctx := context.Background()

	_, err := w.RunScript(ctx, "timers.js", `
		setTimeout(function (who) { console.log('tick', who) }, 10, 'a');
		var cancelled = setTimeout(function () { console.log('never') }, 10);
		clearTimeout(cancelled);
	`)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(w.Console()) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	entries := w.Console()
	require.Len(t, entries, 1)
	assert.Equal(t, "tick a", entries[0].Message)
}

func TestWindowTimerExceptionIsReported(t *testing.T) {
	w := newTestWindow(t)
	events := captureEvents(w, EventError)

	_, err := w.RunScript(context.Background(), "late.js", "setTimeout(function () { throw new Error('late') }, 0)")
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Equal(t, "Uncaught Error: late", e.Message)
	case <-time.After(time.Second):
		t.Fatal("expected an error event from the timer")
	}
}

func TestWindowQueueMicrotask(t *testing.T) {
	w := newTestWindow(t)
	ctx := context.Background()

	_, err := w.RunScript(ctx, "micro.js", `
		var order = [];
		queueMicrotask(function () { order.push('micro') });
		order.push('sync');
	`)
	require.NoError(t, err)

	got, err := w.RunScript(ctx, "read.js", "order.join(',')")
	require.NoError(t, err)
	assert.Equal(t, "sync,micro", got)
}

func TestEvaluateModuleMountsDefaultExport(t *testing.T) {
	w := newTestWindow(t)

	code := `var __surfpack_exports__ = {
		default: function () { document.getElementById('root').textContent = 'mounted' }
	};`
	exported, err := w.EvaluateModule(context.Background(), "blob:surfpack/app", code)
	require.NoError(t, err)
	require.NotNil(t, exported)
	assert.Equal(t, "mounted", w.Document().Text("#root"))
}
