package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsIndependentRegistries(t *testing.T) {
	// Two collectors in one process must not collide
	a := NewMetrics()
	b := NewMetrics()
	a.RecordBuild("success", time.Millisecond)
	assert.Equal(t, int64(1), a.Summary().Counters.BuildsOK)
	assert.Zero(t, b.Summary().Counters.BuildsOK)
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordBuild("success", time.Millisecond)
		m.RecordInstall("installed")
		m.RecordDiagnostic("runtime")
		m.RecordFetch("ok", time.Millisecond)
		m.RecordProtocolMessage("in", "files-update")
		m.RecordProtocolDrop("origin")
		m.SetPreviewsActive(2)
		m.IncWSConnections()
	})
}

func TestSummaryBuildStats(t *testing.T) {
	m := NewMetrics()
	for _, ms := range []int{10, 20, 30, 40} {
		m.RecordBuild("success", time.Duration(ms)*time.Millisecond)
	}
	m.RecordBuild("compilation_error", 100*time.Millisecond)

	s := m.Summary()
	assert.Equal(t, int64(4), s.Counters.BuildsOK)
	assert.Equal(t, int64(1), s.Counters.BuildsFailed)
	assert.Equal(t, 5, s.Builds.Count)
	assert.InDelta(t, 40.0, s.Builds.MeanMs, 0.001)
	assert.InDelta(t, 100.0, s.Builds.MaxMs, 0.001)
	assert.InDelta(t, 30.0, s.Builds.P50Ms, 0.001)
}

func TestMiddlewareRecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()
	r := gin.New()
	r.Use(Middleware(m))
	r.GET("/api/previews/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/previews/abc", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	s := m.Summary()
	assert.Equal(t, int64(1), s.Counters.TotalRequests)
	assert.Equal(t, int64(1), s.Counters.TotalErrors)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `surfpack_http_requests_total{method="GET",path="/api/previews/:id",status="404"} 1`)
}
