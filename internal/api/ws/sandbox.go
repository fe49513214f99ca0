package ws

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/controller"
	"github.com/vvanghelue/surfpack/internal/infrastructure/monitoring"
	"github.com/vvanghelue/surfpack/internal/protocol"
	"github.com/vvanghelue/surfpack/internal/runner"
	"github.com/vvanghelue/surfpack/internal/sandbox"
	"github.com/vvanghelue/surfpack/internal/shared/id"
)

// SandboxOptions configures the windows served to remote controllers.
// Windows come from Pool when set, otherwise they are created from Config.
type SandboxOptions struct {
	Config        sandbox.Config
	WindowOptions []sandbox.Option
	Pool          *sandbox.Pool
	Runner        runner.Options
	Metrics       *monitoring.Metrics
	Logger        *zap.Logger
}

// SandboxHandler runs one sandbox per websocket connection. The connection
// is the sandbox's parent: only its messages are acted on.
type SandboxHandler struct {
	opts   SandboxOptions
	logger *zap.Logger
}

// NewSandboxHandler creates a new sandbox handler
func NewSandboxHandler(opts SandboxOptions) *SandboxHandler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Config == (sandbox.Config{}) {
		opts.Config = sandbox.DefaultConfig()
	}
	return &SandboxHandler{opts: opts, logger: opts.Logger}
}

// HandleConnection upgrades the request and serves a sandbox until either
// side closes
func (h *SandboxHandler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	h.opts.Metrics.IncWSConnections()
	defer h.opts.Metrics.DecWSConnections()

	parent := id.NewPortID().String()
	logger := h.logger.With(zap.String("parent", parent))
	port := protocol.NewWebSocketPort(conn, controller.RemoteSandboxID, parent, logger)
	defer port.Close()

	// The sandbox lives as long as the connection, not the upgrade request
	ctx := context.WithoutCancel(c.Request.Context())

	w, release, err := h.window(ctx)
	if err != nil {
		logger.Error("Failed to create sandbox window", zap.Error(err))
		return
	}
	defer func() {
		if err := release(); err != nil {
			logger.Warn("Failed to release sandbox window", zap.Error(err))
		}
	}()

	opts := h.opts.Runner
	opts.Parent = parent
	if opts.Logger == nil {
		opts.Logger = logger
	}
	if opts.Metrics == nil {
		opts.Metrics = h.opts.Metrics
	}
	r := runner.New(w, port, opts)
	defer r.Close()

	if err := r.Start(ctx); err != nil {
		logger.Error("Failed to start sandbox runner", zap.Error(err))
		return
	}
	logger.Info("Remote sandbox attached")

	select {
	case <-port.Done():
	case <-w.Done():
	}
	logger.Info("Remote sandbox detached")
}

func (h *SandboxHandler) window(ctx context.Context) (*sandbox.Window, func() error, error) {
	if pool := h.opts.Pool; pool != nil {
		w, err := pool.Acquire(ctx)
		if err != nil {
			return nil, nil, err
		}
		return w, func() error { return pool.Release(w) }, nil
	}
	w, err := sandbox.NewWindow(h.opts.Config, h.opts.WindowOptions...)
	if err != nil {
		return nil, nil, err
	}
	return w, w.Close, nil
}
