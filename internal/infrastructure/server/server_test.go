package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvanghelue/surfpack/internal/infrastructure/config"
)

const createBody = `{"files":[
	{"path":"src/main.js","content":"document.getElementById('root').textContent = 'served';\n"},
	{"path":"package.json","content":"{\"main\":\"src/main.js\"}"}
]}`

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Logging.Development = true
	cfg.Logging.Level = "error"
	cfg.RateLimit.Enabled = false
	cfg.Sandbox.PoolSize = 1
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, mode Mode) *Server {
	t.Helper()
	s, err := NewServer(cfg, mode)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.closeResources() })
	return s
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestPreviewModeServesAPI(t *testing.T) {
	s := newTestServer(t, testConfig(), ModePreview)

	w := serve(s, http.MethodPost, "/api/previews?wait=true", createBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"state":"built"`)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	w = serve(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"previews":1`)
	assert.Contains(t, w.Body.String(), `"sandbox_pool"`)

	w = serve(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "surfpack_previews_total")
}

func TestSandboxModeHasNoPreviewAPI(t *testing.T) {
	s := newTestServer(t, testConfig(), ModeSandbox)
	assert.Nil(t, s.Previews())

	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/api/previews", "").Code)
	w := serve(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/metrics/json", "").Code)
}

func TestPreviewModeWithRemoteSandbox(t *testing.T) {
	sandboxSrv := newTestServer(t, testConfig(), ModeSandbox)
	remote := httptest.NewServer(sandboxSrv.Router())
	defer remote.Close()

	cfg := testConfig()
	cfg.Sandbox.RemoteURL = "ws" + strings.TrimPrefix(remote.URL, "http") + "/sandbox"
	s := newTestServer(t, cfg, ModePreview)

	w := serve(s, http.MethodPost, "/api/previews?wait=true", createBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"state":"built"`)

	w = serve(s, http.MethodGet, "/metrics/json", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sandbox"`)
}

func TestRemoteMetricsURL(t *testing.T) {
	u, err := remoteMetricsURL("wss://sandbox.test:8001/sandbox?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://sandbox.test:8001/metrics/json", u)

	u, err = remoteMetricsURL("ws://localhost/sandbox")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/metrics/json", u)

	_, err = remoteMetricsURL("http://localhost/sandbox")
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Sandbox.RemoteURL = "ftp://nope"
	_, err = NewServer(cfg, ModePreview)
	assert.Error(t, err)
}
