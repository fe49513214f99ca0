package sandbox

import (
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Well-known event types
const (
	EventError              = "error"
	EventUnhandledRejection = "unhandledrejection"
	EventPopState           = "popstate"
)

// Target identifies what an event was fired at. The zero value is the
// window itself.
type Target struct {
	Element bool
	Tag     string
	URL     string
}

// Event is a window-level event seen by both Go and JS listeners
type Event struct {
	Type       string
	Target     Target
	Cancelable bool

	// error events
	Message  string
	Filename string
	Line     int
	Column   int
	Error    goja.Value
	Stack    string

	// unhandledrejection events
	Reason goja.Value

	// popstate events
	State goja.Value

	defaultPrevented bool
	stopped          bool
	stoppedNow       bool
	js               *goja.Object
}

// PreventDefault suppresses the default action of a cancelable event
func (e *Event) PreventDefault() {
	if e.Cancelable {
		e.defaultPrevented = true
	}
}

// DefaultPrevented reports whether PreventDefault was called
func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// StopPropagation stops delivery beyond the current phase
func (e *Event) StopPropagation() { e.stopped = true }

// StopImmediatePropagation stops delivery to any further listener
func (e *Event) StopImmediatePropagation() {
	e.stopped = true
	e.stoppedNow = true
}

// Listener is a Go event listener. It runs on the event loop.
type Listener func(vm *goja.Runtime, e *Event)

type listener struct {
	typ     string
	capture bool
	once    bool
	goFn    Listener
	jsFn    goja.Callable
	jsVal   goja.Value
	removed bool
}

// eventTarget keeps listeners in registration order
type eventTarget struct {
	mu        sync.Mutex
	listeners map[string][]*listener
}

func newEventTarget() *eventTarget {
	return &eventTarget{listeners: make(map[string][]*listener)}
}

func (t *eventTarget) add(l *listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners[l.typ] = append(t.listeners[l.typ], l)
}

func (t *eventTarget) remove(l *listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.removed = true
	list := t.listeners[l.typ]
	for i, other := range list {
		if other == l {
			t.listeners[l.typ] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// findJS returns the JS listener registered with fn and capture
func (t *eventTarget) findJS(typ string, fn goja.Value, capture bool) *listener {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range t.listeners[typ] {
		if l.jsVal != nil && l.capture == capture && l.jsVal.SameAs(fn) {
			return l
		}
	}
	return nil
}

func (t *eventTarget) snapshot(typ string) []*listener {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.listeners[typ]
	out := make([]*listener, len(list))
	copy(out, list)
	return out
}

// AddEventListener registers a Go listener on the window. Capturing
// listeners also see events targeted at elements.
func (w *Window) AddEventListener(typ string, fn Listener, capture bool) (remove func()) {
	l := &listener{typ: typ, capture: capture, goFn: fn}
	w.events.add(l)
	return func() { w.events.remove(l) }
}

// dispatch delivers e to capturing listeners, then to bubbling listeners
// when the event is targeted at the window. Must run on the loop.
func (w *Window) dispatch(e *Event) {
	list := w.events.snapshot(e.Type)

	for _, l := range list {
		if e.stoppedNow {
			return
		}
		if l.capture {
			w.invoke(l, e)
		}
	}
	if e.Target.Element {
		return
	}
	for _, l := range list {
		if e.stoppedNow {
			return
		}
		if !l.capture {
			w.invoke(l, e)
		}
	}
}

func (w *Window) invoke(l *listener, e *Event) {
	if l.removed {
		return
	}
	if l.once {
		w.events.remove(l)
	}
	if l.goFn != nil {
		l.goFn(w.vm, e)
		return
	}
	if _, err := l.jsFn(w.windowObj, w.jsEvent(e)); err != nil {
		if e.Type == EventError {
			w.logger.Error("Error listener threw", zap.Error(err))
			return
		}
		w.reportError(err)
	}
}

// jsEvent builds the JS view of e once per dispatch
func (w *Window) jsEvent(e *Event) *goja.Object {
	if e.js != nil {
		return e.js
	}
	vm := w.vm
	obj := vm.NewObject()
	_ = obj.Set("type", e.Type)
	_ = obj.Set("cancelable", e.Cancelable)
	_ = obj.Set("isTrusted", true)

	if e.Target.Element {
		target := vm.NewObject()
		_ = target.Set("tagName", e.Target.Tag)
		_ = target.Set("nodeName", e.Target.Tag)
		_ = target.Set("src", e.Target.URL)
		_ = target.Set("href", e.Target.URL)
		_ = obj.Set("target", target)
	} else {
		_ = obj.Set("target", w.windowObj)
	}

	switch e.Type {
	case EventError:
		_ = obj.Set("message", e.Message)
		_ = obj.Set("filename", e.Filename)
		_ = obj.Set("lineno", e.Line)
		_ = obj.Set("colno", e.Column)
		_ = obj.Set("error", orNull(e.Error))
	case EventUnhandledRejection:
		_ = obj.Set("reason", orNull(e.Reason))
	case EventPopState:
		_ = obj.Set("state", orNull(e.State))
	}

	_ = obj.DefineAccessorProperty("defaultPrevented", vm.ToValue(func() bool {
		return e.defaultPrevented
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = obj.Set("preventDefault", func() { e.PreventDefault() })
	_ = obj.Set("stopPropagation", func() { e.StopPropagation() })
	_ = obj.Set("stopImmediatePropagation", func() { e.StopImmediatePropagation() })

	e.js = obj
	return obj
}

func orNull(v goja.Value) goja.Value {
	if v == nil {
		return goja.Null()
	}
	return v
}

// ============================================================================
// JS Bindings
// ============================================================================

type listenerOptions struct {
	capture bool
	once    bool
}

func (w *Window) parseListenerOptions(v goja.Value) listenerOptions {
	var opts listenerOptions
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return opts
	}
	if obj, ok := v.(*goja.Object); ok {
		opts.capture = obj.Get("capture") != nil && obj.Get("capture").ToBoolean()
		opts.once = obj.Get("once") != nil && obj.Get("once").ToBoolean()
		return opts
	}
	opts.capture = v.ToBoolean()
	return opts
}

func (w *Window) jsAddEventListener(call goja.FunctionCall) goja.Value {
	typ := call.Argument(0).String()
	fnVal := call.Argument(1)
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		// handleEvent objects are not supported; browsers ignore null too
		return goja.Undefined()
	}
	opts := w.parseListenerOptions(call.Argument(2))
	if w.events.findJS(typ, fnVal, opts.capture) != nil {
		return goja.Undefined()
	}
	w.events.add(&listener{typ: typ, capture: opts.capture, once: opts.once, jsFn: fn, jsVal: fnVal})
	return goja.Undefined()
}

func (w *Window) jsRemoveEventListener(call goja.FunctionCall) goja.Value {
	typ := call.Argument(0).String()
	opts := w.parseListenerOptions(call.Argument(2))
	if l := w.events.findJS(typ, call.Argument(1), opts.capture); l != nil {
		w.events.remove(l)
	}
	return goja.Undefined()
}

func (w *Window) jsDispatchEvent(call goja.FunctionCall) goja.Value {
	obj := call.Argument(0).ToObject(w.vm)
	e := &Event{
		Type:       obj.Get("type").String(),
		Cancelable: obj.Get("cancelable") != nil && obj.Get("cancelable").ToBoolean(),
	}
	if s := obj.Get("state"); s != nil {
		e.State = s
	}
	if r := obj.Get("reason"); r != nil {
		e.Reason = r
	}
	if er := obj.Get("error"); er != nil && !goja.IsUndefined(er) {
		e.Error = er
	}
	if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
		e.Message = m.String()
	}
	w.dispatch(e)
	return w.vm.ToValue(!e.defaultPrevented)
}
