package bundler

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/vvanghelue/surfpack/internal/infrastructure/monitoring"
	"github.com/vvanghelue/surfpack/internal/manifest"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

// DefaultGlobalName is the global the bundle assigns its exports to
const DefaultGlobalName = "__surfpack_exports__"

// CompiledBundle is the output of one successful build
type CompiledBundle struct {
	Code        string
	CSS         []string
	Warnings    []string
	Entry       string
	GlobalName  string
	Fingerprint string
	Duration    time.Duration
}

// Options configures an Orchestrator
type Options struct {
	Target          string
	JSXImportSource string
	GlobalName      string
	Logger          *zap.Logger
	Metrics         *monitoring.Metrics
}

// Orchestrator runs builds against an Engine
type Orchestrator struct {
	engine  Engine
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewOrchestrator creates an orchestrator. A nil engine selects esbuild.
func NewOrchestrator(engine Engine, opts Options) *Orchestrator {
	if engine == nil {
		engine = NewEsbuild()
	}
	if opts.GlobalName == "" {
		opts.GlobalName = DefaultGlobalName
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		engine:  engine,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Build compiles files starting at entry. It fails with *ResolutionError
// when no entry can be found and *CompilationError for anything the engine
// rejects.
func (o *Orchestrator) Build(ctx context.Context, files []vfs.SourceFile, entry string) (*CompiledBundle, error) {
	timer := monitoring.NewTimer(o.metrics)

	fm := vfs.NewFileMap(files)
	resolved, err := ResolveEntry(fm, entry)
	if err != nil {
		timer.Stop("resolution_error")
		return nil, err
	}

	result, err := o.engine.Bundle(ctx, EngineOptions{
		Entry:           resolved.Path,
		GlobalName:      o.opts.GlobalName,
		Target:          o.opts.Target,
		JSXImportSource: o.opts.JSXImportSource,
	}, newVirtualPlugin(fm, resolved.Path))
	if err != nil {
		timer.Stop("compilation_error")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &CompilationError{Message: err.Error(), Err: err}
	}
	if len(result.Errors) > 0 {
		timer.Stop("compilation_error")
		return nil, &CompilationError{
			Message: fmt.Sprintf("Build failed with %d error(s):\n%s", len(result.Errors), strings.Join(result.Errors, "\n")),
			Errors:  result.Errors,
		}
	}

	bundle := assemble(result)
	if strings.TrimSpace(bundle.Code) == "" {
		timer.Stop("compilation_error")
		return nil, &CompilationError{Message: "Bundle is empty. Check your entry file exports."}
	}

	if doc, ok := fm.Get(manifest.IndexHTML); ok {
		bundle.CSS = append(bundle.CSS, manifest.Styles(doc, fm)...)
	}

	bundle.Entry = resolved.Path
	bundle.GlobalName = o.opts.GlobalName
	bundle.Fingerprint = Fingerprint(bundle.Code, bundle.CSS)
	bundle.Duration = timer.Stop("success")

	o.logger.Debug("Build complete",
		zap.String("entry", bundle.Entry),
		zap.String("entry_source", string(resolved.Source)),
		zap.Int("files", fm.Len()),
		zap.Int("css_chunks", len(bundle.CSS)),
		zap.Int("warnings", len(bundle.Warnings)),
		zap.String("fingerprint", bundle.Fingerprint[:12]),
		zap.Duration("duration", bundle.Duration))
	return bundle, nil
}

// assemble keeps the first non-style artifact as code and every style
// artifact in emission order
func assemble(result *EngineResult) *CompiledBundle {
	b := &CompiledBundle{Warnings: result.Warnings}
	codeSet := false
	for _, a := range result.Outputs {
		if strings.HasSuffix(a.Path, ".css") {
			b.CSS = append(b.CSS, string(a.Contents))
			continue
		}
		if !codeSet {
			b.Code = string(a.Contents)
			codeSet = true
		}
	}
	return b
}

// Fingerprint hashes a bundle's code and styles
func Fingerprint(code string, css []string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(code))
	for _, c := range css {
		h.Write([]byte{0})
		h.Write([]byte(c))
	}
	return hex.EncodeToString(h.Sum(nil))
}
