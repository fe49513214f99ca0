package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/infrastructure/monitoring"
	"github.com/vvanghelue/surfpack/internal/infrastructure/resilience"
)

// MetricsAggregator adds the metrics of a remote sandbox server to the
// local summary. Calls go through a circuit breaker since the remote
// numbers are optional.
type MetricsAggregator struct {
	url     string
	client  *resty.Client
	breaker *resilience.Breaker
	logger  *zap.Logger
}

// NewMetricsAggregator polls url, a /metrics/json endpoint
func NewMetricsAggregator(url string, logger *zap.Logger) *MetricsAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsAggregator{
		url:    url,
		client: resty.New().SetTimeout(5 * time.Second),
		breaker: resilience.New("sandbox-metrics", resilience.Settings{
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		logger: logger,
	}
}

// MetricsSnapshot is the /metrics/json payload
type MetricsSnapshot struct {
	monitoring.Summary
	Sandbox map[string]any `json:"sandbox,omitempty"`
}

// Remote fetches the remote summary
func (a *MetricsAggregator) Remote(ctx context.Context) (map[string]any, error) {
	return resilience.Do(a.breaker, func() (map[string]any, error) {
		resp, err := a.client.R().SetContext(ctx).Get(a.url)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("sandbox metrics: %s", resp.Status())
		}
		var out map[string]any
		if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
			return nil, fmt.Errorf("sandbox metrics: %w", err)
		}
		return out, nil
	})
}

// MetricsJSON returns the metrics summary
func (h *Handlers) MetricsJSON(c *gin.Context) {
	snapshot := MetricsSnapshot{Summary: h.opts.Metrics.Summary()}
	if agg := h.opts.Aggregator; agg != nil {
		remote, err := agg.Remote(c.Request.Context())
		if err != nil {
			agg.logger.Debug("Sandbox metrics unavailable", zap.Error(err))
		} else {
			snapshot.Sandbox = remote
		}
	}
	c.JSON(http.StatusOK, snapshot)
}
