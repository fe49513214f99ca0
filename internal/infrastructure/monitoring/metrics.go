package monitoring

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/gonum/stat"
)

// buildWindow bounds the number of build durations kept for Summary
const buildWindow = 512

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Build pipeline metrics
	Builds        *prometheus.CounterVec
	BuildDuration prometheus.Histogram
	Installs      *prometheus.CounterVec
	Diagnostics   *prometheus.CounterVec

	// Module fetch metrics
	Fetches       *prometheus.CounterVec
	FetchDuration prometheus.Histogram

	// Preview metrics
	PreviewsActive prometheus.Gauge
	PreviewsTotal  prometheus.Counter

	// Protocol metrics
	ProtocolMessages *prometheus.CounterVec
	ProtocolDropped  *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	startTime time.Time

	mu         sync.RWMutex
	snapshot   Snapshot
	buildTimes []float64
}

// Snapshot holds current counter values for the JSON API
type Snapshot struct {
	TotalRequests  int64 `json:"total_requests"`
	TotalErrors    int64 `json:"total_errors"`
	BuildsOK       int64 `json:"builds_ok"`
	BuildsFailed   int64 `json:"builds_failed"`
	Diagnostics    int64 `json:"diagnostics"`
	ActivePreviews int64 `json:"active_previews"`
	WSConnections  int64 `json:"ws_connections"`
}

// BuildStats summarises recent build latencies in milliseconds
type BuildStats struct {
	Count  int     `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	StdMs  float64 `json:"std_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	MaxMs  float64 `json:"max_ms"`
}

// Summary is the /metrics/json payload
type Summary struct {
	Timestamp     time.Time  `json:"timestamp"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	Counters      Snapshot   `json:"counters"`
	Builds        BuildStats `json:"builds"`
}

// NewMetrics creates a metrics collector with its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surfpack_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "surfpack_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		Builds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surfpack_builds_total",
				Help: "Total number of builds by outcome",
			},
			[]string{"outcome"},
		),
		BuildDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "surfpack_build_duration_seconds",
				Help:    "Build duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		Installs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surfpack_installs_total",
				Help: "Total number of bundle installs by outcome",
			},
			[]string{"outcome"},
		),
		Diagnostics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surfpack_diagnostics_total",
				Help: "Total number of diagnostics shown",
			},
			[]string{"category"},
		),

		Fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surfpack_module_fetches_total",
				Help: "Total number of remote module fetches",
			},
			[]string{"status"},
		),
		FetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "surfpack_module_fetch_duration_seconds",
				Help:    "Remote module fetch duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),

		PreviewsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "surfpack_previews_active",
				Help: "Number of live preview sessions",
			},
		),
		PreviewsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "surfpack_previews_total",
				Help: "Total number of preview sessions created",
			},
		),

		ProtocolMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surfpack_protocol_messages_total",
				Help: "Total number of protocol messages",
			},
			[]string{"direction", "type"},
		),
		ProtocolDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surfpack_protocol_dropped_total",
				Help: "Total number of dropped protocol messages",
			},
			[]string{"reason"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "surfpack_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus exposition handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordBuild records one build attempt. Outcome is "success",
// "compilation_error" or "resolution_error".
func (m *Metrics) RecordBuild(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Builds.WithLabelValues(outcome).Inc()
	m.BuildDuration.Observe(duration.Seconds())

	m.mu.Lock()
	if outcome == "success" {
		m.snapshot.BuildsOK++
	} else {
		m.snapshot.BuildsFailed++
	}
	m.buildTimes = append(m.buildTimes, float64(duration)/float64(time.Millisecond))
	if len(m.buildTimes) > buildWindow {
		m.buildTimes = m.buildTimes[len(m.buildTimes)-buildWindow:]
	}
	m.mu.Unlock()
}

// RecordInstall records one install attempt ("installed" or "stale")
func (m *Metrics) RecordInstall(outcome string) {
	if m == nil {
		return
	}
	m.Installs.WithLabelValues(outcome).Inc()
}

// RecordDiagnostic records a diagnostic shown to the user
func (m *Metrics) RecordDiagnostic(category string) {
	if m == nil {
		return
	}
	m.Diagnostics.WithLabelValues(category).Inc()
	m.mu.Lock()
	m.snapshot.Diagnostics++
	m.mu.Unlock()
}

// RecordFetch records a remote module fetch
func (m *Metrics) RecordFetch(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(status).Inc()
	m.FetchDuration.Observe(duration.Seconds())
}

// RecordProtocolMessage records a protocol message ("in" or "out")
func (m *Metrics) RecordProtocolMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.ProtocolMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordProtocolDrop records a dropped inbound message
func (m *Metrics) RecordProtocolDrop(reason string) {
	if m == nil {
		return
	}
	m.ProtocolDropped.WithLabelValues(reason).Inc()
}

// SetPreviewsActive sets the number of live previews
func (m *Metrics) SetPreviewsActive(count int) {
	if m == nil {
		return
	}
	m.PreviewsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActivePreviews = int64(count)
	m.mu.Unlock()
}

// IncPreviewsTotal increments the created previews counter
func (m *Metrics) IncPreviewsTotal() {
	if m == nil {
		return
	}
	m.PreviewsTotal.Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.WSConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.WSConnections--
	m.mu.Unlock()
}

// Summary returns the current counters and build latency statistics
func (m *Metrics) Summary() Summary {
	m.mu.RLock()
	counters := m.snapshot
	samples := make([]float64, len(m.buildTimes))
	copy(samples, m.buildTimes)
	m.mu.RUnlock()

	return Summary{
		Timestamp:     time.Now(),
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		Counters:      counters,
		Builds:        summarize(samples),
	}
}

func summarize(samples []float64) BuildStats {
	s := BuildStats{Count: len(samples)}
	if len(samples) == 0 {
		return s
	}
	sort.Float64s(samples)
	s.MeanMs, s.StdMs = stat.MeanStdDev(samples, nil)
	if len(samples) < 2 {
		s.StdMs = 0
	}
	s.P50Ms = stat.Quantile(0.5, stat.Empirical, samples, nil)
	s.P95Ms = stat.Quantile(0.95, stat.Empirical, samples, nil)
	s.MaxMs = samples[len(samples)-1]
	return s
}
