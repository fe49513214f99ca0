package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/infrastructure/monitoring"
	"github.com/vvanghelue/surfpack/internal/infrastructure/tracing"
	"github.com/vvanghelue/surfpack/internal/modules"
	"github.com/vvanghelue/surfpack/internal/preview"
	"github.com/vvanghelue/surfpack/internal/protocol"
	"github.com/vvanghelue/surfpack/internal/sandbox"
)

// Version is reported by the root and health endpoints
const Version = "1.0.0"

// DefaultBuildWait bounds ?wait=true requests
const DefaultBuildWait = 15 * time.Second

// Options wires optional collaborators into the handlers
type Options struct {
	// BuildWait bounds how long ?wait=true blocks for a build
	BuildWait time.Duration
	Pool      *sandbox.Pool
	Modules   *modules.Fetcher
	Tracer    *tracing.Tracer
	Metrics   *monitoring.Metrics
	// Aggregator adds a remote sandbox server's metrics to /metrics/json
	Aggregator *MetricsAggregator
	Logger     *zap.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	previews *preview.Manager
	opts     Options
	logger   *zap.Logger
	gzip     func(http.Handler) http.HandlerFunc
}

// NewHandlers creates a new handler set
func NewHandlers(previews *preview.Manager, opts Options) *Handlers {
	if opts.BuildWait <= 0 {
		opts.BuildWait = DefaultBuildWait
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	// Defaults are always valid
	gz, _ := gzhttp.NewWrapper(gzhttp.MinSize(512))
	return &Handlers{
		previews: previews,
		opts:     opts,
		logger:   logger,
		gzip:     gz,
	}
}

// Register mounts the preview API on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(h.opts.Metrics.Handler()))
	r.GET("/metrics/json", h.MetricsJSON)

	api := r.Group("/api/previews")
	api.POST("", h.CreatePreview)
	api.GET("", h.ListPreviews)
	api.GET("/:id", h.GetPreview)
	api.DELETE("/:id", h.DestroyPreview)
	api.PUT("/:id/files", h.ReplaceFiles)
	api.PATCH("/:id/files", h.PatchFile)
	api.POST("/:id/navigate", h.Navigate)
	api.POST("/:id/overlay", h.SetOverlay)
	api.GET("/:id/document", h.Document)
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "online",
		"service":  "surfpack",
		"version":  Version,
		"protocol": protocol.Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":   "healthy",
		"version":  Version,
		"previews": h.previews.Count(),
	}
	if h.opts.Pool != nil {
		resp["sandbox_pool"] = h.opts.Pool.Stats()
	}
	if h.opts.Modules != nil {
		hosts := make(map[string]string)
		for host, state := range h.opts.Modules.Hosts() {
			hosts[host] = state.String()
		}
		resp["modules"] = gin.H{
			"cached": h.opts.Modules.Cached(),
			"hosts":  hosts,
		}
	}
	c.JSON(http.StatusOK, resp)
}
