package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Task is work executed on the window's event loop
type Task func(vm *goja.Runtime) error

type job struct {
	ctx  context.Context
	fn   Task
	done chan error
}

// taskQueue is an unbounded FIFO of jobs
type taskQueue struct {
	mu     sync.Mutex
	items  []job
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{signal: make(chan struct{}, 1)}
}

func (q *taskQueue) push(j job) {
	q.mu.Lock()
	q.items = append(q.items, j)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *taskQueue) next(stop <-chan struct{}) (job, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			j := q.items[0]
			q.items[0] = job{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return j, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-stop:
			return job{}, false
		}
	}
}

// Run executes fn on the event loop and waits for it. The error returned by
// fn is handed back to the caller and not reported as an error event.
//
// Run must not be called from code already running on the loop (a Task,
// an event listener or a navigation hook); it would wait on itself.
func (w *Window) Run(ctx context.Context, fn Task) error {
	if w.isClosed() {
		return ErrWindowClosed
	}
	done := make(chan error, 1)
	w.queue.push(job{ctx: ctx, fn: fn, done: done})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.exited:
		return ErrWindowClosed
	}
}

// Post enqueues fn without waiting. Errors escaping fn are dispatched as
// window error events.
func (w *Window) Post(fn Task) {
	if w.isClosed() {
		return
	}
	w.queue.push(job{fn: fn})
}

func (w *Window) loop() {
	defer close(w.exited)
	defer w.teardown()

	for {
		j, ok := w.queue.next(w.stop)
		if !ok {
			return
		}
		err := w.execute(j)
		if j.done != nil {
			j.done <- err
		} else if err != nil {
			w.reportError(err)
		}
	}
}

// execute runs one job under the execution time limit, then delivers
// unhandled promise rejections observed during it
func (w *Window) execute(j job) (err error) {
	if j.ctx != nil {
		if cerr := j.ctx.Err(); cerr != nil {
			return cerr
		}
	}

	seq := atomic.AddUint64(&w.taskSeq, 1)
	var watchdog *time.Timer
	if w.cfg.Timeout > 0 {
		watchdog = time.AfterFunc(w.cfg.Timeout, func() {
			if atomic.LoadUint64(&w.taskSeq) == seq {
				w.vm.Interrupt(fmt.Sprintf("execution timeout exceeded (%s)", w.cfg.Timeout))
			}
		})
	}

	defer func() {
		if watchdog != nil {
			watchdog.Stop()
		}
		atomic.AddUint64(&w.taskSeq, 1)
		w.vm.ClearInterrupt()

		if r := recover(); r != nil {
			err = w.recoverPanic(r)
		}
		w.flushRejections()
	}()

	return j.fn(w.vm)
}

func (w *Window) recoverPanic(r any) error {
	switch v := r.(type) {
	case *goja.Exception:
		return v
	case *goja.InterruptedError:
		return v
	case error:
		w.logger.Error("Panic in sandbox task", zap.Error(v))
		return fmt.Errorf("sandbox task panicked: %w", v)
	default:
		w.logger.Error("Panic in sandbox task", zap.Any("value", v))
		return fmt.Errorf("sandbox task panicked: %v", v)
	}
}

func (w *Window) isClosed() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// ============================================================================
// Promise Rejection Tracking
// ============================================================================

func (w *Window) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		w.rejections = append(w.rejections, p)
	case goja.PromiseRejectionHandle:
		for i, pending := range w.rejections {
			if pending == p {
				w.rejections = append(w.rejections[:i], w.rejections[i+1:]...)
				break
			}
		}
	}
}

// flushRejections dispatches unhandledrejection for every promise rejected
// during the last task that still has no handler
func (w *Window) flushRejections() {
	for len(w.rejections) > 0 {
		pending := w.rejections
		w.rejections = nil
		for _, p := range pending {
			if p.State() != goja.PromiseStateRejected {
				continue
			}
			reason := p.Result()
			e := &Event{
				Type:       EventUnhandledRejection,
				Cancelable: true,
				Reason:     reason,
				Message:    valueString(reason),
			}
			w.dispatch(e)
			if !e.DefaultPrevented() {
				w.logger.Warn("Uncaught (in promise)", zap.String("reason", e.Message))
			}
		}
	}
}

// ============================================================================
// Error Reporting
// ============================================================================

// reportError converts an error escaping user code into a window error event
func (w *Window) reportError(err error) {
	if err == nil {
		return
	}
	e := &Event{Type: EventError, Cancelable: true}

	var ex *goja.Exception
	var interrupted *goja.InterruptedError
	var syntax *goja.CompilerSyntaxError
	switch {
	case errors.As(err, &ex):
		val := ex.Value()
		e.Error = val
		e.Message = "Uncaught " + valueString(val)
		e.Stack = ex.String()
		if frames := ex.Stack(); len(frames) > 0 {
			pos := frames[0].Position()
			e.Filename = frames[0].SrcName()
			e.Line = pos.Line
			e.Column = pos.Column
		}
	case errors.As(err, &interrupted):
		e.Message = fmt.Sprintf("Script interrupted: %v", interrupted.Value())
		e.Stack = interrupted.String()
	case errors.As(err, &syntax):
		e.Message = "Uncaught SyntaxError: " + syntax.Message
		e.Error = w.vm.NewGoError(err)
	default:
		e.Message = err.Error()
	}
	w.dispatchError(e)
}

// reportValue reports a thrown JS value, as the reportError global does
func (w *Window) reportValue(val goja.Value) {
	e := &Event{
		Type:       EventError,
		Cancelable: true,
		Error:      val,
		Message:    "Uncaught " + valueString(val),
	}
	if obj, ok := val.(*goja.Object); ok {
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
			e.Stack = stack.String()
		}
	}
	w.dispatchError(e)
}

func (w *Window) dispatchError(e *Event) {
	if w.reportingError {
		w.logger.Error("Error while reporting error", zap.String("message", e.Message))
		return
	}
	w.reportingError = true
	w.dispatch(e)
	w.reportingError = false

	if !e.DefaultPrevented() {
		w.logger.Warn("Uncaught error", zap.String("message", e.Message))
	}
}

// valueString renders a JS value without throwing
func valueString(v goja.Value) (s string) {
	if v == nil {
		return "undefined"
	}
	defer func() {
		if recover() != nil {
			s = "[object]"
		}
	}()
	return v.String()
}
