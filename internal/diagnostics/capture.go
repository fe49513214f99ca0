package diagnostics

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/bundler"
	"github.com/vvanghelue/surfpack/internal/infrastructure/monitoring"
	"github.com/vvanghelue/surfpack/internal/sandbox"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

// Sources resolves module handles to compiled code and exposes the project
// files of the installed bundle
type Sources interface {
	Source(handle string) (string, bool)
	Files() *vfs.FileMap
}

// Target is where capture listeners are registered
type Target interface {
	AddEventListener(typ string, fn sandbox.Listener, capture bool) (remove func())
}

// Options configures a Capture
type Options struct {
	Sources      Sources
	Surface      Surface
	Policy       *Policy
	Logger       *zap.Logger
	Metrics      *monitoring.Metrics
	OnDiagnostic func(Diagnostic)
}

// Capture turns window error events into diagnostics
type Capture struct {
	opts    Options
	logger  *zap.Logger
	decoder *Decoder

	once    sync.Once
	mu      sync.RWMutex
	policy  Policy
	removes []func()
}

// NewCapture creates a capture. Without a policy every category is shown.
func NewCapture(opts Options) *Capture {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	return &Capture{
		opts:    opts,
		logger:  logger,
		decoder: NewDecoder(),
		policy:  policy,
	}
}

// Install registers capturing error and unhandledrejection listeners on
// target. Only the first call has an effect.
func (c *Capture) Install(target Target) {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.removes = append(c.removes,
			target.AddEventListener(sandbox.EventError, c.onError, true),
			target.AddEventListener(sandbox.EventUnhandledRejection, c.onRejection, true),
		)
	})
}

// Close removes the listeners
func (c *Capture) Close() {
	c.mu.Lock()
	removes := c.removes
	c.removes = nil
	c.mu.Unlock()
	for _, remove := range removes {
		remove()
	}
}

// SetPolicy replaces the display policy
func (c *Capture) SetPolicy(p Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = p
}

// Policy returns the display policy
func (c *Capture) Policy() Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

// Clear removes the shown diagnostic
func (c *Capture) Clear() {
	if c.opts.Surface != nil {
		c.opts.Surface.Clear()
	}
}

// ============================================================================
// Event Handling
// ============================================================================

func (c *Capture) onError(_ *goja.Runtime, e *sandbox.Event) {
	e.PreventDefault()
	n := normalizeEvent(e)
	if IsResourceError(e.Target, n) {
		c.logger.Warn("Network/resource error ignored by diagnostics",
			zap.String("message", n.Message),
			zap.String("tag", e.Target.Tag),
			zap.String("url", e.Target.URL))
		return
	}
	c.runtime(n, sandbox.EventError, CategoryRuntime)
}

func (c *Capture) onRejection(_ *goja.Runtime, e *sandbox.Event) {
	e.PreventDefault()
	n := Normalize(e.Reason)
	if IsResourceError(sandbox.Target{}, n) {
		c.logger.Warn("Network/resource rejection ignored by diagnostics", zap.String("message", n.Message))
		return
	}
	c.runtime(n, sandbox.EventUnhandledRejection, CategoryRejection)
}

func (c *Capture) runtime(n Normalized, origin string, category Category) {
	c.logger.Error("Runtime error",
		zap.String("origin", origin),
		zap.String("message", n.Message))

	d := Diagnostic{
		Title:    title(TitleRuntime, origin),
		Category: category,
		Origin:   origin,
		Message:  n.Message,
		Stack:    n.Stack,
		Time:     time.Now(),
	}
	c.decorate(&d)
	c.show(d)
}

// decorate attaches decoded frames and a preview of the first one
func (c *Capture) decorate(d *Diagnostic) {
	if c.opts.Sources == nil || d.Stack == "" {
		return
	}
	frames, err := c.decoder.Decode(d.Stack, c.opts.Sources.Source)
	if err != nil {
		c.logger.Warn("Failed to decode source map", zap.Error(err))
	}
	d.Frames = frames

	for _, f := range frames {
		if f.Original.Source == "" || f.Original.Line == 0 {
			continue
		}
		preview, ok := CodePreview(f.Original.Source, f.Original.Line, f.Original.Column,
			c.opts.Sources.Files(), c.Policy().ContextLines)
		if ok {
			d.Preview = preview
		}
		return
	}
}

// ============================================================================
// Direct Reports
// ============================================================================

// ReportBuildFailure shows a failed build as a compilation diagnostic
func (c *Capture) ReportBuildFailure(err error) Diagnostic {
	n := NormalizeError(err)
	var ce *bundler.CompilationError
	if errors.As(err, &ce) && len(ce.Errors) > 0 {
		n.Stack = strings.Join(ce.Errors, "\n\n")
	}
	d := Diagnostic{
		Title:    TitleCompilation,
		Category: CategoryCompilation,
		Message:  n.Message,
		Stack:    n.Stack,
		Time:     time.Now(),
	}
	c.logger.Error("Build failed", zap.String("message", n.Message))
	c.show(d)
	return d
}

// Report shows err without an origin. Compilation errors keep their own
// title; anything else is a runtime diagnostic.
func (c *Capture) Report(err error) (Diagnostic, bool) {
	if bundler.IsCompilationError(err) {
		return c.ReportBuildFailure(err), true
	}
	n := NormalizeError(err)
	if IsNetworkMessage(n.Message) {
		c.logger.Warn("Network/resource error ignored by diagnostics", zap.String("message", n.Message))
		return Diagnostic{}, false
	}
	d := Diagnostic{
		Title:    TitleRuntime,
		Category: CategoryRuntime,
		Message:  n.Message,
		Stack:    n.Stack,
		Time:     time.Now(),
	}
	c.decorate(&d)
	c.show(d)
	return d, true
}

func (c *Capture) show(d Diagnostic) {
	c.opts.Metrics.RecordDiagnostic(string(d.Category))
	if c.opts.OnDiagnostic != nil {
		c.opts.OnDiagnostic(d)
	}
	if c.opts.Surface == nil || !c.Policy().Allows(d.Category) {
		return
	}
	if err := c.opts.Surface.Show(d); err != nil {
		c.logger.Error("Failed to show diagnostic", zap.Error(err), zap.String("title", d.Title))
	}
}
