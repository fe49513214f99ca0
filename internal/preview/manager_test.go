package preview

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvanghelue/surfpack/internal/controller"
	"github.com/vvanghelue/surfpack/internal/protocol"
	"github.com/vvanghelue/surfpack/internal/shared/id"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

var helloFiles = []vfs.SourceFile{
	{Path: "src/main.js", Content: "document.getElementById('root').textContent = 'hello';\n"},
	{Path: "package.json", Content: `{"main":"src/main.js"}`},
}

func await(t *testing.T, p *Preview, after uint64) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := p.AwaitBuild(ctx, after)
	require.NoError(t, err)
	return s
}

func TestCreateBuildsAndSnapshots(t *testing.T) {
	m := NewManager(&controller.InProcessLauncher{}, Options{})
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	p, err := m.Create(ctx, CreateRequest{Files: helloFiles, Route: "/start"})
	require.NoError(t, err)
	assert.True(t, id.ValidPreviewID(p.ID().String()))

	s := await(t, p, 0)
	assert.Equal(t, StateBuilt, s.State)
	assert.Equal(t, uint64(1), s.Builds)
	assert.Equal(t, 2, s.FileCount)
	assert.Nil(t, s.Diagnostic)
	require.Eventually(t, func() bool { return p.Status().Route == "/start" }, 5*time.Second, 5*time.Millisecond)

	snap, err := p.Document()
	require.NoError(t, err)
	assert.Contains(t, snap.HTML, "hello")
	assert.NotEmpty(t, snap.Fingerprint)
	assert.False(t, snap.Overlay)

	var names []string
	for _, r := range p.History(0) {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"sandbox-ready", "build-succeeded"}, names[:2])

	got, err := m.Lookup(p.ID().String())
	require.NoError(t, err)
	assert.Same(t, p, got)
	assert.Len(t, m.List(), 1)
}

func TestFailedBuildKeepsDiagnostic(t *testing.T) {
	m := NewManager(&controller.InProcessLauncher{}, Options{})
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	p, err := m.Create(ctx, CreateRequest{Files: helloFiles})
	require.NoError(t, err)
	first := await(t, p, 0)

	records := make(chan Record, 16)
	unsubscribe := p.Subscribe(func(r Record) { records <- r })
	defer unsubscribe()

	require.NoError(t, p.PatchFile(ctx, vfs.SourceFile{Path: "src/main.js", Content: "const = ;"}))
	s := await(t, p, first.Builds)
	assert.Equal(t, StateFailed, s.State)
	assert.NotEmpty(t, s.Error)
	require.NotNil(t, s.Diagnostic)

	select {
	case r := <-records:
		assert.Equal(t, "build-failed", r.Name)
		assert.Greater(t, r.Seq, uint64(1))
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}

	snap, err := p.Document()
	require.NoError(t, err)
	assert.True(t, snap.Overlay)
}

// remoteLauncher hands out bare ports, as a remote sandbox would
type remoteLauncher struct{}

func (remoteLauncher) Launch(context.Context) (*controller.Instance, error) {
	c, _ := protocol.NewPipe("controller", "sandbox")
	return &controller.Instance{Port: c, Sandbox: "sandbox"}, nil
}

func TestManagerLimitsAndLookup(t *testing.T) {
	m := NewManager(remoteLauncher{}, Options{MaxPreviews: 1})
	ctx := context.Background()

	p, err := m.Create(ctx, CreateRequest{Overlay: &protocol.ErrorOverlaySetup{Enabled: true, Policy: protocol.DefaultPolicy()}})
	require.NoError(t, err)
	assert.Equal(t, StateStarting, p.Status().State)

	_, err = p.Document()
	assert.ErrorIs(t, err, ErrNoDocument)

	_, err = m.Create(ctx, CreateRequest{})
	assert.ErrorIs(t, err, ErrTooMany)

	_, err = m.Lookup("not-an-id")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Lookup(id.NewPreviewID().String())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, m.Destroy(p.ID()))
	assert.ErrorIs(t, m.Destroy(p.ID()), ErrSessionNotFound)
	assert.Equal(t, 0, m.Count())

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = p.AwaitBuild(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHistoryIsBounded(t *testing.T) {
	p := newPreview(id.NewPreviewID(), 2)
	p.record(controller.SandboxReady{})
	p.record(controller.LocationChanged{Route: "/a"})
	p.record(controller.LocationChanged{Route: "/b"})

	h := p.History(0)
	require.Len(t, h, 2)
	assert.Equal(t, uint64(2), h[0].Seq)
	assert.Equal(t, controller.LocationChanged{Route: "/b"}, h[1].Event)
	assert.Len(t, p.History(2), 1)
}
