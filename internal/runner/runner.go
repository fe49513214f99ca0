package runner

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/bundler"
	"github.com/vvanghelue/surfpack/internal/diagnostics"
	"github.com/vvanghelue/surfpack/internal/infrastructure/monitoring"
	"github.com/vvanghelue/surfpack/internal/protocol"
	"github.com/vvanghelue/surfpack/internal/routing"
	"github.com/vvanghelue/surfpack/internal/sandbox"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

// ErrAlreadyStarted is returned by a second call to Start
var ErrAlreadyStarted = errors.New("runner already started")

// Builder compiles a project into a bundle
type Builder interface {
	Build(ctx context.Context, files []vfs.SourceFile, entry string) (*bundler.CompiledBundle, error)
}

// Options configures a Runner
type Options struct {
	// Parent is the only port ID whose messages are acted on. Empty accepts
	// any source.
	Parent string
	// Builder compiles projects; nil selects an esbuild orchestrator
	Builder Builder
	// Bundler configures the default orchestrator
	Bundler bundler.Options
	// CDN is the base URL bare specifiers are rewritten to
	CDN string
	// Policy is the initial diagnostic policy
	Policy *diagnostics.Policy
	// OnDiagnostic receives every runtime and build diagnostic. It runs on
	// the window loop for runtime failures and must not block.
	OnDiagnostic func(diagnostics.Diagnostic)
	Logger       *zap.Logger
	Metrics      *monitoring.Metrics
}

// Runner drives one sandbox window from protocol messages
type Runner struct {
	window  *sandbox.Window
	port    protocol.Port
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics

	builder   Builder
	tokens    *sandbox.TokenSource
	installer *sandbox.Installer
	surface   *diagnostics.OverlaySurface
	capture   *diagnostics.Capture
	bridge    *routing.Bridge

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New wires a runner around w and port. Nothing runs until Start.
func New(w *sandbox.Window, port protocol.Port, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	builder := opts.Builder
	if builder == nil {
		bopts := opts.Bundler
		if bopts.Logger == nil {
			bopts.Logger = logger
		}
		if bopts.Metrics == nil {
			bopts.Metrics = opts.Metrics
		}
		builder = bundler.NewOrchestrator(nil, bopts)
	}

	r := &Runner{
		window:  w,
		port:    port,
		opts:    opts,
		logger:  logger.With(zap.String("port", port.ID())),
		metrics: opts.Metrics,
		builder: builder,
		tokens:  &sandbox.TokenSource{},
		surface: diagnostics.NewOverlaySurface(w.Document()),
	}
	r.installer = sandbox.NewInstaller(w, r.tokens, sandbox.InstallerOptions{
		CDN:             opts.CDN,
		ClearDiagnostic: func() { r.capture.Clear() },
		Logger:          r.logger,
		Metrics:         opts.Metrics,
	})
	r.capture = diagnostics.NewCapture(diagnostics.Options{
		Sources:      r.installer,
		Surface:      r.surface,
		Policy:       opts.Policy,
		Logger:       r.logger,
		Metrics:      opts.Metrics,
		OnDiagnostic: opts.OnDiagnostic,
	})
	r.bridge = routing.NewBridge(w, r.reportRoute, r.logger)
	return r
}

// Start installs error capture, sends sandbox-ready and begins serving
// inbound messages. It returns once serving has started.
func (r *Runner) Start(ctx context.Context) error {
	err := ErrAlreadyStarted
	r.startOnce.Do(func() {
		r.ctx, r.cancel = context.WithCancel(ctx)
		r.capture.Install(r.window)

		if err = r.send(r.ctx, protocol.SandboxReady{Version: protocol.Version}); err != nil {
			r.cancel()
			return
		}
		r.logger.Info("Sandbox ready")

		r.wg.Add(1)
		go r.serve()
	})
	return err
}

// Close stops serving and waits for in-flight builds. The window and port
// are left to their owner.
func (r *Runner) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.bridge.Close()
	r.capture.Close()
}

// Window returns the sandbox window
func (r *Runner) Window() *sandbox.Window { return r.window }

// Installed returns the bundle currently installed
func (r *Runner) Installed() sandbox.Installed { return r.installer.Current() }

// Diagnostic returns the diagnostic currently shown, if any
func (r *Runner) Diagnostic() (diagnostics.Diagnostic, bool) { return r.surface.Current() }

// Route returns the last route reported to the controller
func (r *Runner) Route() string { return r.bridge.Route() }

// ============================================================================
// Message Loop
// ============================================================================

func (r *Runner) serve() {
	defer r.wg.Done()
	inbound := r.port.Receive()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.window.Done():
			r.logger.Debug("Window closed, runner stopping")
			return
		case env, ok := <-inbound:
			if !ok {
				r.logger.Debug("Port closed, runner stopping")
				return
			}
			r.handle(env)
		}
	}
}

func (r *Runner) handle(env protocol.Envelope) {
	if r.opts.Parent != "" && env.Source != r.opts.Parent {
		r.metrics.RecordProtocolDrop("origin")
		r.logger.Debug("Dropped message from unknown source", zap.String("source", env.Source))
		return
	}

	msg, err := protocol.DecodeToSandbox(env.Data)
	if err != nil {
		r.metrics.RecordProtocolDrop("invalid")
		r.logger.Debug("Dropped invalid message", zap.Error(err))
		return
	}
	r.metrics.RecordProtocolMessage("in", string(msg.MessageType()))

	switch m := msg.(type) {
	case protocol.FilesUpdate:
		r.handleFilesUpdate(m)
	case protocol.LoadRoute:
		// Errors are logged by the bridge
		_ = r.bridge.LoadRoute(r.ctx, m.Route)
	case protocol.ErrorOverlaySetup:
		r.capture.SetPolicy(PolicyFrom(m))
		if !m.Enabled {
			r.capture.Clear()
		}
		r.logger.Debug("Diagnostic policy updated", zap.Bool("enabled", m.Enabled))
	}
}

// PolicyFrom maps an error-overlay-setup message onto a diagnostic policy.
// A zero context size keeps the default.
func PolicyFrom(m protocol.ErrorOverlaySetup) diagnostics.Policy {
	p := diagnostics.Policy{
		Enabled:             m.Enabled,
		Runtime:             m.Policy.Runtime,
		Compilation:         m.Policy.Compilation,
		UnhandledRejections: m.Policy.UnhandledRejections,
		ContextLines:        m.Policy.ContextLines,
	}
	if p.ContextLines == 0 {
		p.ContextLines = diagnostics.DefaultContextLines
	}
	return p
}

// ============================================================================
// Build Pipeline
// ============================================================================

func (r *Runner) handleFilesUpdate(m protocol.FilesUpdate) {
	token := r.tokens.Next()
	files := vfs.Sanitize(m.Files)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.build(r.ctx, token, files, m.Entry, m.InitialRoute)
	}()
}

func (r *Runner) build(ctx context.Context, token uint64, files []vfs.SourceFile, entry, initialRoute string) {
	log := r.logger.With(zap.Uint64("token", token))
	log.Info("Building preview", zap.Int("files", len(files)), zap.String("entry", entry))

	bundle, err := r.builder.Build(ctx, files, entry)
	if !r.tokens.IsCurrent(token) {
		log.Debug("Build superseded")
		return
	}
	if err == nil {
		err = r.installer.Install(ctx, token, bundle, files)
	}
	if err != nil {
		r.fail(ctx, token, len(files), err)
		return
	}
	if !r.tokens.IsCurrent(token) {
		log.Debug("Install superseded")
		return
	}

	if err := r.send(ctx, protocol.BuildResult{
		FileCount: len(files),
		Success:   true,
		Warnings:  bundle.Warnings,
	}); err != nil {
		log.Warn("Failed to acknowledge build", zap.Error(err))
	}
	if err := r.bridge.Init(ctx, initialRoute); err != nil {
		log.Warn("Failed to initialize routing", zap.Error(err))
	}
}

// fail shows a build failure and acknowledges it while token is current
func (r *Runner) fail(ctx context.Context, token uint64, fileCount int, err error) {
	if ctx.Err() != nil {
		return
	}
	if !r.tokens.IsCurrent(token) {
		r.logger.Debug("Superseded build failed", zap.Uint64("token", token), zap.Error(err))
		return
	}
	r.capture.ReportBuildFailure(err)
	if sendErr := r.send(ctx, protocol.BuildResult{
		FileCount: fileCount,
		Success:   false,
		Error:     err.Error(),
	}); sendErr != nil {
		r.logger.Warn("Failed to acknowledge build", zap.Error(sendErr))
	}
}

// ============================================================================
// Outbound
// ============================================================================

func (r *Runner) reportRoute(route string) {
	if err := r.send(r.ctx, protocol.RouteChanged{NewRoute: route}); err != nil {
		r.logger.Debug("Failed to report route", zap.String("route", route), zap.Error(err))
	}
}

func (r *Runner) send(ctx context.Context, msg protocol.ToController) error {
	if err := protocol.Send(ctx, r.port, msg); err != nil {
		return err
	}
	r.metrics.RecordProtocolMessage("out", string(msg.MessageType()))
	return nil
}
