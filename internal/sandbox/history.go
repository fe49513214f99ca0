package sandbox

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/dop251/goja"
)

// NavigationKind distinguishes push from replace navigations
type NavigationKind int

const (
	NavigatePush NavigationKind = iota
	NavigateReplace
)

func (k NavigationKind) String() string {
	if k == NavigateReplace {
		return "replace"
	}
	return "push"
}

// Interceptor wraps history.pushState/replaceState. It must call next to
// perform the navigation and runs on the event loop.
type Interceptor func(kind NavigationKind, url string, next func() error) error

type historyEntry struct {
	url   *url.URL
	state goja.Value
}

// history is the session history of one window
type history struct {
	mu      sync.Mutex
	origin  *url.URL
	entries []historyEntry
	index   int

	hooksMu sync.Mutex
	hooks   []*interceptorHook
}

type interceptorHook struct {
	fn Interceptor
}

func newHistory(origin string) (*history, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", origin)
	}
	u.Path, u.RawQuery, u.Fragment = "", "", ""
	start := *u
	start.Path = "/"
	return &history{
		origin:  u,
		entries: []historyEntry{{url: &start}},
	}, nil
}

func (h *history) current() *url.URL {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index].url
}

// resolve parses target relative to the current entry and rejects other origins
func (h *history) resolve(target string) (*url.URL, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", target, err)
	}
	next := h.current().ResolveReference(ref)
	if next.Scheme != h.origin.Scheme || next.Host != h.origin.Host {
		return nil, fmt.Errorf("cannot navigate to %q from origin %s", target, h.origin)
	}
	return next, nil
}

func (h *history) push(u *url.URL, state goja.Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries[:h.index+1], historyEntry{url: u, state: state})
	h.index = len(h.entries) - 1
}

func (h *history) replace(u *url.URL, state goja.Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.index] = historyEntry{url: u, state: state}
}

// traverse moves delta entries and reports whether the index changed
func (h *history) traverse(delta int) (goja.Value, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := h.index + delta
	if delta == 0 || next < 0 || next >= len(h.entries) {
		return nil, false
	}
	h.index = next
	return h.entries[next].state, true
}

func (h *history) length() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func (h *history) state() goja.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index].state
}

func (h *history) interceptors() []*interceptorHook {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	return append([]*interceptorHook(nil), h.hooks...)
}

// routeOf renders pathname + search + hash
func routeOf(u *url.URL) string {
	r := u.EscapedPath()
	if r == "" {
		r = "/"
	}
	if u.RawQuery != "" {
		r += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		r += "#" + u.EscapedFragment()
	}
	return r
}

// ============================================================================
// Host API
// ============================================================================

// Location returns the current route (pathname + search + hash). Safe to
// call from any goroutine.
func (w *Window) Location() string {
	return routeOf(w.history.current())
}

// Href returns the absolute URL of the current entry
func (w *Window) Href() string {
	return w.history.current().String()
}

// WrapNavigation installs an interceptor around pushState and replaceState.
// Interceptors added later run outermost.
func (w *Window) WrapNavigation(fn Interceptor) (restore func()) {
	hook := &interceptorHook{fn: fn}
	h := w.history
	h.hooksMu.Lock()
	h.hooks = append(h.hooks, hook)
	h.hooksMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.hooksMu.Lock()
			defer h.hooksMu.Unlock()
			for i, other := range h.hooks {
				if other == hook {
					h.hooks = append(h.hooks[:i:i], h.hooks[i+1:]...)
					return
				}
			}
		})
	}
}

// PushState performs history.pushState(null, "", url) on the loop
func (w *Window) PushState(ctx context.Context, url string) error {
	return w.Run(ctx, func(*goja.Runtime) error {
		return w.navigate(NavigatePush, url, goja.Null())
	})
}

// ReplaceState performs history.replaceState(null, "", url) on the loop
func (w *Window) ReplaceState(ctx context.Context, url string) error {
	return w.Run(ctx, func(*goja.Runtime) error {
		return w.navigate(NavigateReplace, url, goja.Null())
	})
}

// DispatchPopState fires a synthetic popstate event carrying the current state
func (w *Window) DispatchPopState(ctx context.Context) error {
	return w.Run(ctx, func(*goja.Runtime) error {
		w.dispatch(&Event{Type: EventPopState, State: w.history.state()})
		return nil
	})
}

// OnPopState registers fn as a popstate listener
func (w *Window) OnPopState(fn func()) (remove func()) {
	return w.AddEventListener(EventPopState, func(*goja.Runtime, *Event) { fn() }, false)
}

// navigate runs the interceptor chain around the actual state change.
// Must run on the loop.
func (w *Window) navigate(kind NavigationKind, target string, state goja.Value) error {
	next := func() error {
		u, err := w.history.resolve(target)
		if err != nil {
			return err
		}
		if kind == NavigateReplace {
			w.history.replace(u, state)
		} else {
			w.history.push(u, state)
		}
		return nil
	}
	for _, hook := range w.history.interceptors() {
		inner, fn := next, hook.fn
		next = func() error { return fn(kind, target, inner) }
	}
	return next()
}

// traverse implements history.go(delta); popstate fires in a later task
func (w *Window) traverse(delta int) {
	w.Post(func(*goja.Runtime) error {
		state, moved := w.history.traverse(delta)
		if moved {
			w.dispatch(&Event{Type: EventPopState, State: state})
		}
		return nil
	})
}

// ============================================================================
// JS Bindings
// ============================================================================

func (w *Window) historyObject() *goja.Object {
	vm := w.vm
	obj := vm.NewObject()

	stateMethod := func(kind NavigationKind) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			target := w.Location()
			if u := call.Argument(2); !goja.IsUndefined(u) && !goja.IsNull(u) {
				target = u.String()
			}
			if err := w.navigate(kind, target, call.Argument(0)); err != nil {
				panic(vm.NewTypeError("%s", err.Error()))
			}
			return goja.Undefined()
		}
	}
	_ = obj.Set("pushState", stateMethod(NavigatePush))
	_ = obj.Set("replaceState", stateMethod(NavigateReplace))
	_ = obj.Set("back", func() { w.traverse(-1) })
	_ = obj.Set("forward", func() { w.traverse(1) })
	_ = obj.Set("go", func(call goja.FunctionCall) goja.Value {
		w.traverse(int(call.Argument(0).ToInteger()))
		return goja.Undefined()
	})

	_ = obj.DefineAccessorProperty("length", vm.ToValue(func() int {
		return w.history.length()
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = obj.DefineAccessorProperty("state", vm.ToValue(func() goja.Value {
		return orNull(w.history.state())
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)

	return obj
}

func (w *Window) locationObject() *goja.Object {
	vm := w.vm
	obj := vm.NewObject()

	accessor := func(name string, get func(u *url.URL) string) {
		_ = obj.DefineAccessorProperty(name, vm.ToValue(func() string {
			return get(w.history.current())
		}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}
	accessor("href", func(u *url.URL) string { return u.String() })
	accessor("origin", func(u *url.URL) string { return u.Scheme + "://" + u.Host })
	accessor("protocol", func(u *url.URL) string { return u.Scheme + ":" })
	accessor("host", func(u *url.URL) string { return u.Host })
	accessor("hostname", func(u *url.URL) string { return u.Hostname() })
	accessor("port", func(u *url.URL) string { return u.Port() })
	accessor("pathname", func(u *url.URL) string {
		if p := u.EscapedPath(); p != "" {
			return p
		}
		return "/"
	})
	accessor("search", func(u *url.URL) string {
		if u.RawQuery == "" {
			return ""
		}
		return "?" + u.RawQuery
	})
	accessor("hash", func(u *url.URL) string {
		if u.Fragment == "" {
			return ""
		}
		return "#" + u.EscapedFragment()
	})

	navigateTo := func(kind NavigationKind) func(string) {
		return func(target string) {
			if err := w.navigate(kind, target, goja.Null()); err != nil {
				panic(vm.NewTypeError("%s", err.Error()))
			}
		}
	}
	_ = obj.Set("assign", navigateTo(NavigatePush))
	_ = obj.Set("replace", navigateTo(NavigateReplace))
	_ = obj.Set("reload", func() {})
	_ = obj.Set("toString", func() string { return w.Href() })

	return obj
}
