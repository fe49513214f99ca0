package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvanghelue/surfpack/internal/controller"
	"github.com/vvanghelue/surfpack/internal/infrastructure/monitoring"
	"github.com/vvanghelue/surfpack/internal/preview"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

var helloFiles = []vfs.SourceFile{
	{Path: "src/main.js", Content: "document.getElementById('root').textContent = 'hello';\n"},
	{Path: "package.json", Content: `{"main":"src/main.js"}`},
}

type wireRecord struct {
	Seq   uint64         `json:"seq"`
	Name  string         `json:"name"`
	Event map[string]any `json:"event"`
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func readUntil(t *testing.T, conn *websocket.Conn, name string) wireRecord {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		var r wireRecord
		require.NoError(t, conn.ReadJSON(&r))
		if r.Name == name {
			return r
		}
	}
}

func awaitBuild(t *testing.T, p *preview.Preview, after uint64) preview.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := p.AwaitBuild(ctx, after)
	require.NoError(t, err)
	return s
}

func TestEventsReplayAndStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := monitoring.NewMetrics()
	m := preview.NewManager(&controller.InProcessLauncher{}, preview.Options{})
	t.Cleanup(func() { _ = m.Close() })

	router := gin.New()
	router.GET("/api/previews/:id/events", NewEventsHandler(m, metrics, nil).HandleConnection)
	server := httptest.NewServer(router)
	defer server.Close()

	ctx := context.Background()
	p, err := m.Create(ctx, preview.CreateRequest{Files: helloFiles})
	require.NoError(t, err)
	first := awaitBuild(t, p, 0)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/previews/"+p.ID().String()+"/events"), nil)
	require.NoError(t, err)
	defer conn.Close()

	replayed := readUntil(t, conn, "build-succeeded")
	assert.EqualValues(t, 2, replayed.Event["fileCount"])

	require.NoError(t, p.PatchFile(ctx, vfs.SourceFile{Path: "src/main.js", Content: "const = ;"}))
	failed := readUntil(t, conn, "build-failed")
	assert.Greater(t, failed.Seq, replayed.Seq)
	assert.NotEmpty(t, failed.Event["message"])
	awaitBuild(t, p, first.Builds)

	require.Eventually(t, func() bool {
		return metrics.Summary().Counters.WSConnections == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEventsRejectsUnknownPreview(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := preview.NewManager(&controller.InProcessLauncher{}, preview.Options{})
	router := gin.New()
	router.GET("/api/previews/:id/events", NewEventsHandler(m, nil, nil).HandleConnection)
	server := httptest.NewServer(router)
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/previews/missing/events"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestRemoteSandboxBuilds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/sandbox", NewSandboxHandler(SandboxOptions{}).HandleConnection)
	server := httptest.NewServer(router)
	defer server.Close()

	m := preview.NewManager(&controller.RemoteLauncher{URL: wsURL(server, "/sandbox")}, preview.Options{})
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	p, err := m.Create(ctx, preview.CreateRequest{Files: helloFiles, Route: "/remote"})
	require.NoError(t, err)

	s := awaitBuild(t, p, 0)
	assert.Equal(t, preview.StateBuilt, s.State)
	require.Eventually(t, func() bool { return p.Status().Route == "/remote" }, 5*time.Second, 10*time.Millisecond)

	_, err = p.Document()
	assert.ErrorIs(t, err, preview.ErrNoDocument)

	require.NoError(t, p.PatchFile(ctx, vfs.SourceFile{Path: "src/main.js", Content: "const = ;"}))
	assert.Equal(t, preview.StateFailed, awaitBuild(t, p, s.Builds).State)
}
