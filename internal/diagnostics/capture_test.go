package diagnostics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvanghelue/surfpack/internal/bundler"
	"github.com/vvanghelue/surfpack/internal/infrastructure/monitoring"
	"github.com/vvanghelue/surfpack/internal/sandbox"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

type recorder struct {
	mu    sync.Mutex
	diags []Diagnostic
}

func (r *recorder) record(d Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diags = append(r.diags, d)
}

func (r *recorder) all() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Diagnostic(nil), r.diags...)
}

type fixture struct {
	window    *sandbox.Window
	installer *sandbox.Installer
	tokens    *sandbox.TokenSource
	surface   *OverlaySurface
	capture   *Capture
	seen      *recorder
	metrics   *monitoring.Metrics
}

func newFixture(t *testing.T, policy *Policy) *fixture {
	t.Helper()
	w, err := sandbox.NewWindow(sandbox.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	f := &fixture{
		window:  w,
		tokens:  &sandbox.TokenSource{},
		surface: NewOverlaySurface(w.Document()),
		seen:    &recorder{},
		metrics: monitoring.NewMetrics(),
	}
	f.capture = NewCapture(Options{
		Surface:      f.surface,
		Policy:       policy,
		Metrics:      f.metrics,
		OnDiagnostic: f.seen.record,
	})
	f.installer = sandbox.NewInstaller(w, f.tokens, sandbox.InstallerOptions{
		ClearDiagnostic: func() { f.capture.Clear() },
	})
	f.capture.opts.Sources = f.installer
	f.capture.Install(w)
	return f
}

func (f *fixture) build(t *testing.T, files []vfs.SourceFile, entry string) {
	t.Helper()
	bundle, err := bundler.NewOrchestrator(nil, bundler.Options{}).Build(context.Background(), files, entry)
	require.NoError(t, err)
	require.NoError(t, f.installer.Install(context.Background(), f.tokens.Next(), bundle, files))
}

var boomFiles = []vfs.SourceFile{
	{Path: "index.html", Content: `<html><head></head><body><div id="root"></div></body></html>`},
	{Path: "src/main.js", Content: "import { boom } from './boom.js';\n\nboom();\n"},
	{Path: "src/boom.js", Content: "export function boom() {\n  throw new Error('boom');\n}\n"},
}

func TestRuntimeErrorBecomesDiagnostic(t *testing.T) {
	f := newFixture(t, nil)
	f.build(t, boomFiles, "src/main.js")

	diags := f.seen.all()
	require.Len(t, diags, 1)
	d := diags[0]
	assert.Equal(t, "Runtime Error (error)", d.Title)
	assert.Equal(t, CategoryRuntime, d.Category)
	assert.Equal(t, "boom", d.Message)
	assert.Contains(t, d.Stack, sandbox.HandlePrefix)

	require.NotEmpty(t, d.Frames)
	assert.True(t, strings.HasSuffix(d.Frames[0].Original.Source, "src/boom.js"), d.Frames[0].Original.Source)
	assert.Equal(t, 2, d.Frames[0].Original.Line)

	require.NotNil(t, d.Preview)
	line, ok := d.Preview.ErrorLine()
	require.True(t, ok)
	assert.Equal(t, 2, line.Number)
	assert.Contains(t, line.Content, "throw new Error('boom')")

	shown, ok := f.surface.Current()
	require.True(t, ok)
	assert.Equal(t, d.Title, shown.Title)

	doc := f.window.Document()
	assert.Equal(t, 1, doc.Count("#"+OverlayID))
	assert.Equal(t, "Runtime Error (error)", doc.Text("#"+OverlayID+" > div"))
	assert.Contains(t, doc.Text("#"+OverlayID+" pre"), "boom")
	assert.Equal(t, int64(1), f.metrics.Summary().Counters.Diagnostics)
}

func TestReinstallClearsDiagnostic(t *testing.T) {
	f := newFixture(t, nil)
	f.build(t, boomFiles, "src/main.js")
	require.Equal(t, 1, f.window.Document().Count("#"+OverlayID))

	fixed := []vfs.SourceFile{
		{Path: "src/main.js", Content: "document.getElementById('root').textContent = 'ok';\n"},
	}
	f.build(t, fixed, "src/main.js")

	assert.Equal(t, 0, f.window.Document().Count("#"+OverlayID))
	_, ok := f.surface.Current()
	assert.False(t, ok)
	assert.Equal(t, "ok", f.window.Document().Text("#root"))
}

func TestResourceErrorsAreFiltered(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.window.ReportResourceError(ctx, "img", "https://cdn.test/missing.png"))
	_, err := f.window.EvaluateModule(ctx, "blob:surfpack/net", "throw new Error('Failed to fetch')")
	require.NoError(t, err)
	assert.Empty(t, f.seen.all())

	_, err = f.window.EvaluateModule(ctx, "blob:surfpack/app", "null.x")
	require.NoError(t, err)

	diags := f.seen.all()
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "Cannot read property")
	assert.Equal(t, 1, f.window.Document().Count("#"+OverlayID))
}

func TestUnhandledRejection(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.window.EvaluateModule(context.Background(), "blob:surfpack/p", "Promise.reject(new Error('nope'))")
	require.NoError(t, err)

	diags := f.seen.all()
	require.Len(t, diags, 1)
	assert.Equal(t, "Runtime Error (unhandledrejection)", diags[0].Title)
	assert.Equal(t, CategoryRejection, diags[0].Category)
	assert.Equal(t, "nope", diags[0].Message)
}

func TestPolicyGatesSurface(t *testing.T) {
	policy := DefaultPolicy()
	policy.UnhandledRejections = false
	f := newFixture(t, &policy)
	ctx := context.Background()

	_, err := f.window.EvaluateModule(ctx, "blob:surfpack/p", "Promise.reject('quiet')")
	require.NoError(t, err)
	require.Len(t, f.seen.all(), 1)
	_, shown := f.surface.Current()
	assert.False(t, shown, "rejections are reported but not shown")

	f.capture.SetPolicy(Policy{})
	f.capture.ReportBuildFailure(errors.New("nothing to see"))
	_, shown = f.surface.Current()
	assert.False(t, shown, "a disabled policy shows nothing")
}

func TestReportBuildFailure(t *testing.T) {
	f := newFixture(t, nil)

	d := f.capture.ReportBuildFailure(&bundler.CompilationError{
		Message: "Build failed with 1 error(s):\nsrc/main.js:1:7: ERROR: Expected \";\"",
		Errors:  []string{"src/main.js:1:7: ERROR: Expected \";\""},
	})
	assert.Equal(t, "Compilation Error", d.Title)
	assert.Equal(t, CategoryCompilation, d.Category)
	assert.Equal(t, "src/main.js:1:7: ERROR: Expected \";\"", d.Stack)

	overlay := f.window.Document().Overlay()
	assert.Contains(t, overlay, "Compilation Error")
	assert.Contains(t, overlay, `role="alert"`)

	d, ok := f.capture.Report(errors.New("render failed"))
	require.True(t, ok)
	assert.Equal(t, "Runtime Error", d.Title)

	_, ok = f.capture.Report(errors.New("network error while loading"))
	assert.False(t, ok)
}

func TestInstallIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.capture.Install(f.window)

	_, err := f.window.EvaluateModule(context.Background(), "blob:surfpack/x", "throw new TypeError('once')")
	require.NoError(t, err)
	assert.Len(t, f.seen.all(), 1)
}

func TestRenderOverlayEscapes(t *testing.T) {
	d := Diagnostic{
		Title:   "Runtime Error",
		Message: "<img src=x onerror=alert(1)>",
		Stack:   "<script>alert(1)</script>",
		Preview: &Preview{
			FileName:  "src/app.js",
			StartLine: 1,
			Lines: []CodeLine{
				{Number: 1, Content: "const a = '<b>';", IsErrorLine: true, ErrorColumn: 7},
			},
		},
	}
	doc := sandbox.NewDocument()
	require.NoError(t, NewOverlaySurface(doc).Show(d))

	assert.Equal(t, 0, doc.Count("#"+OverlayID+" img"))
	assert.Equal(t, 0, doc.Count("#"+OverlayID+" script"))
	assert.Equal(t, 0, doc.Count("#"+OverlayID+" b"))
	assert.Contains(t, doc.Text("#"+OverlayID), "<img src=x onerror=alert(1)>")
	assert.Contains(t, doc.Text("#"+OverlayID), "      ^")
	assert.Contains(t, doc.OuterHTML("#"+OverlayID), `role="alert"`)
}
