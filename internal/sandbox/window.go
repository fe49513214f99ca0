package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/bundler"
)

// Window is one isolated execution context: a goja VM plus the emulated
// document, history and event target it exposes. All of them are owned by
// a single event loop goroutine.
type Window struct {
	cfg    Config
	logger *zap.Logger
	vm     *goja.Runtime

	ctx       context.Context
	cancel    context.CancelFunc
	queue     *taskQueue
	stop      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	taskSeq        uint64
	rejections     []*goja.Promise
	reportingError bool

	events    *eventTarget
	windowObj *goja.Object
	history   *history
	document  *Document
	modules   *ModuleLoader

	timers   map[int64]*timer
	timerSeq int64

	fetcher     Fetcher
	consoleHook func(LogEntry)
	consoleMu   sync.Mutex
	console     []LogEntry
}

type timer struct {
	id       int64
	t        *time.Timer
	fn       goja.Callable
	args     []goja.Value
	delay    time.Duration
	interval bool
}

// NewWindow creates a window and starts its event loop
func NewWindow(cfg Config, opts ...Option) (*Window, error) {
	if cfg.Origin == "" {
		cfg.Origin = DefaultOrigin
	}
	if cfg.GlobalName == "" {
		cfg.GlobalName = bundler.DefaultGlobalName
	}
	if cfg.Target == "" {
		cfg.Target = bundler.DefaultTarget
	}

	hist, err := newHistory(cfg.Origin)
	if err != nil {
		return nil, err
	}

	w := &Window{
		cfg:      cfg,
		logger:   zap.NewNop(),
		vm:       goja.New(),
		queue:    newTaskQueue(),
		stop:     make(chan struct{}),
		exited:   make(chan struct{}),
		events:   newEventTarget(),
		history:  hist,
		document: NewDocument(),
		timers:   make(map[int64]*timer),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(w)
	}
	w.modules = newModuleLoader(w)

	if cfg.MaxCallStackSize > 0 {
		w.vm.SetMaxCallStackSize(cfg.MaxCallStackSize)
	}
	w.vm.SetPromiseRejectionTracker(w.trackRejection)

	if err := w.setupGlobals(); err != nil {
		w.cancel()
		return nil, fmt.Errorf("failed to set up globals: %w", err)
	}

	go w.loop()
	return w, nil
}

// Document returns the window's emulated document
func (w *Window) Document() *Document {
	return w.document
}

// Modules returns the loader backing require()
func (w *Window) Modules() *ModuleLoader {
	return w.modules
}

// Done is closed once the event loop has exited
func (w *Window) Done() <-chan struct{} {
	return w.exited
}

// Close stops the event loop and interrupts any running script. It must
// not be called from the loop.
func (w *Window) Close() error {
	w.closeOnce.Do(func() {
		w.cancel()
		close(w.stop)
		w.vm.Interrupt("window closed")
	})
	<-w.exited
	return nil
}

// teardown runs on the loop goroutine after it stops
func (w *Window) teardown() {
	for id, t := range w.timers {
		t.t.Stop()
		delete(w.timers, id)
	}
	w.rejections = nil
}

// ============================================================================
// Globals
// ============================================================================

// setupGlobals installs the browser-like global scope
func (w *Window) setupGlobals() error {
	vm := w.vm
	w.windowObj = vm.GlobalObject()

	for _, name := range []string{"window", "globalThis", "self"} {
		if err := vm.Set(name, w.windowObj); err != nil {
			return err
		}
	}

	// Node-style globals stay hidden; require is the loader's
	for _, name := range []string{"process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, w.makeConsoleFunc(level))
	}
	_ = vm.Set("console", console)

	_ = vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value { return w.setTimer(call, false) })
	_ = vm.Set("setInterval", func(call goja.FunctionCall) goja.Value { return w.setTimer(call, true) })
	_ = vm.Set("clearTimeout", w.clearTimer)
	_ = vm.Set("clearInterval", w.clearTimer)
	_ = vm.Set("queueMicrotask", w.queueMicrotask)
	_ = vm.Set("reportError", func(call goja.FunctionCall) goja.Value {
		w.reportValue(call.Argument(0))
		return goja.Undefined()
	})

	_ = vm.Set("addEventListener", w.jsAddEventListener)
	_ = vm.Set("removeEventListener", w.jsRemoveEventListener)
	_ = vm.Set("dispatchEvent", w.jsDispatchEvent)

	_ = vm.Set("location", w.locationObject())
	_ = vm.Set("history", w.historyObject())
	_ = vm.Set("document", w.document.bind(vm))
	_ = vm.Set("require", w.modules.require)

	return nil
}

// makeConsoleFunc creates a console function
func (w *Window) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if !w.cfg.EnableConsole {
			return goja.Undefined()
		}
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = valueString(arg)
		}
		entry := LogEntry{
			Level:   level,
			Message: strings.Join(parts, " "),
			Time:    time.Now(),
		}

		w.consoleMu.Lock()
		w.console = append(w.console, entry)
		if limit := w.cfg.ConsoleLimit; limit > 0 && len(w.console) > limit {
			w.console = w.console[len(w.console)-limit:]
		}
		w.consoleMu.Unlock()

		w.logger.Debug("console", zap.String("level", level), zap.String("message", entry.Message))
		if w.consoleHook != nil {
			w.consoleHook(entry)
		}
		return goja.Undefined()
	}
}

// Console returns a copy of the captured console output
func (w *Window) Console() []LogEntry {
	w.consoleMu.Lock()
	defer w.consoleMu.Unlock()
	return append([]LogEntry{}, w.console...)
}

// ============================================================================
// Timers
// ============================================================================

func (w *Window) setTimer(call goja.FunctionCall, interval bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(w.vm.NewTypeError("callback must be a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	if interval && delay < time.Millisecond {
		delay = time.Millisecond
	}
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	w.timerSeq++
	t := &timer{id: w.timerSeq, fn: fn, args: args, delay: delay, interval: interval}
	w.timers[t.id] = t
	w.armTimer(t)
	return w.vm.ToValue(t.id)
}

func (w *Window) armTimer(t *timer) {
	t.t = time.AfterFunc(t.delay, func() {
		w.Post(func(*goja.Runtime) error {
			return w.fireTimer(t)
		})
	})
}

func (w *Window) fireTimer(t *timer) error {
	if w.timers[t.id] != t {
		return nil
	}
	if t.interval {
		w.armTimer(t)
	} else {
		delete(w.timers, t.id)
	}
	_, err := t.fn(goja.Undefined(), t.args...)
	return err
}

func (w *Window) clearTimer(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if t, ok := w.timers[id]; ok {
		t.t.Stop()
		delete(w.timers, id)
	}
	return goja.Undefined()
}

// queueMicrotask schedules fn on the promise job queue. Exceptions are
// reported as error events, not as rejections.
func (w *Window) queueMicrotask(call goja.FunctionCall) goja.Value {
	vm := w.vm
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(vm.NewTypeError("callback must be a function"))
	}
	p, resolve, _ := vm.NewPromise()
	then, _ := goja.AssertFunction(vm.ToValue(p).ToObject(vm).Get("then"))
	job := func(goja.FunctionCall) goja.Value {
		if _, err := fn(goja.Undefined()); err != nil {
			w.reportError(err)
		}
		return goja.Undefined()
	}
	if _, err := then(vm.ToValue(p), vm.ToValue(job)); err != nil {
		panic(err)
	}
	_ = resolve(goja.Undefined())
	return goja.Undefined()
}

// ============================================================================
// Module Evaluation
// ============================================================================

// EvaluateModule compiles and runs a bundle under the given handle and
// returns its exports. Script failures are dispatched as error events on
// the window rather than returned; the error result only reports that the
// window could not run the task.
func (w *Window) EvaluateModule(ctx context.Context, handle, code string) (goja.Value, error) {
	var exported goja.Value
	err := w.Run(ctx, func(vm *goja.Runtime) error {
		exported = w.evaluate(handle, code)
		return nil
	})
	return exported, err
}

func (w *Window) evaluate(handle, code string) goja.Value {
	// Frames must keep compiled positions for the source map decoder
	ast, err := goja.Parse(handle, code, parser.WithDisableSourceMaps)
	if err != nil {
		w.reportError(err)
		return nil
	}
	prg, err := goja.CompileAST(ast, false)
	if err != nil {
		w.reportError(err)
		return nil
	}
	if _, err := w.vm.RunProgram(prg); err != nil {
		w.reportError(err)
		return nil
	}

	exported := w.vm.Get(w.cfg.GlobalName)
	if exported == nil || goja.IsUndefined(exported) || goja.IsNull(exported) {
		return exported
	}
	if !w.cfg.MountDefaultExport {
		return exported
	}
	if def := exported.ToObject(w.vm).Get("default"); def != nil {
		if mount, ok := goja.AssertFunction(def); ok {
			if _, err := mount(goja.Undefined()); err != nil {
				w.reportError(err)
			}
		}
	}
	return exported
}

// RunScript evaluates plain script source on the loop. Unlike
// EvaluateModule, failures are returned to the caller.
func (w *Window) RunScript(ctx context.Context, name, src string) (any, error) {
	var out any
	err := w.Run(ctx, func(vm *goja.Runtime) error {
		v, err := vm.RunScript(name, src)
		if err != nil {
			return err
		}
		if v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			out = v.Export()
		}
		return nil
	})
	return out, err
}

// ReportResourceError dispatches an error event targeted at an element,
// as a browser does when a sub-resource fails to load
func (w *Window) ReportResourceError(ctx context.Context, tag, url string) error {
	return w.Run(ctx, func(*goja.Runtime) error {
		w.dispatch(&Event{
			Type:       EventError,
			Target:     Target{Element: true, Tag: strings.ToUpper(tag), URL: url},
			Cancelable: false,
		})
		return nil
	})
}
