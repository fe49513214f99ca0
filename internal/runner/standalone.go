package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/bundler"
	"github.com/vvanghelue/surfpack/internal/diagnostics"
	"github.com/vvanghelue/surfpack/internal/sandbox"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

// ErrNoEntry is returned by StandaloneRun without an entry file
var ErrNoEntry = errors.New("an entry file is required to run standalone")

// StandaloneResult is the outcome of StandaloneRun
type StandaloneResult struct {
	Bundle    *bundler.CompiledBundle
	Installed sandbox.Installed
	// Diagnostics holds every runtime failure observed while evaluating
	Diagnostics []diagnostics.Diagnostic
}

// StandaloneRun builds files from entry and installs the result in w
// without a controller. Build failures are returned; runtime failures are
// collected in the result and shown in the window document.
func StandaloneRun(ctx context.Context, w *sandbox.Window, files []vfs.SourceFile, entry string, opts Options) (*StandaloneResult, error) {
	if entry == "" {
		return nil, ErrNoEntry
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	builder := opts.Builder
	if builder == nil {
		bopts := opts.Bundler
		bopts.Logger = logger
		bopts.Metrics = opts.Metrics
		builder = bundler.NewOrchestrator(nil, bopts)
	}

	files = vfs.Sanitize(files)
	bundle, err := builder.Build(ctx, files, entry)
	if err != nil {
		return nil, err
	}

	result := &StandaloneResult{Bundle: bundle}
	var mu sync.Mutex
	tokens := &sandbox.TokenSource{}
	surface := diagnostics.NewOverlaySurface(w.Document())
	var capture *diagnostics.Capture
	installer := sandbox.NewInstaller(w, tokens, sandbox.InstallerOptions{
		CDN:             opts.CDN,
		ClearDiagnostic: func() { capture.Clear() },
		Logger:          logger,
		Metrics:         opts.Metrics,
	})
	capture = diagnostics.NewCapture(diagnostics.Options{
		Sources: installer,
		Surface: surface,
		Policy:  opts.Policy,
		Logger:  logger,
		Metrics: opts.Metrics,
		OnDiagnostic: func(d diagnostics.Diagnostic) {
			mu.Lock()
			result.Diagnostics = append(result.Diagnostics, d)
			mu.Unlock()
			if opts.OnDiagnostic != nil {
				opts.OnDiagnostic(d)
			}
		},
	})
	capture.Install(w)

	err = installer.Install(ctx, tokens.Next(), bundle, files)
	if err == nil {
		// Drain tasks queued by evaluation so their failures are collected
		err = w.Run(ctx, func(*goja.Runtime) error { return nil })
	}
	capture.Close()
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	result.Installed = installer.Current()
	logger.Info("Standalone run complete",
		zap.String("entry", bundle.Entry),
		zap.Int("files", len(files)),
		zap.Int("diagnostics", len(result.Diagnostics)))
	return result, nil
}
