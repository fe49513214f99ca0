package server

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/api/http"
	"github.com/vvanghelue/surfpack/internal/api/middleware"
	"github.com/vvanghelue/surfpack/internal/api/ws"
	"github.com/vvanghelue/surfpack/internal/bundler"
	"github.com/vvanghelue/surfpack/internal/controller"
	"github.com/vvanghelue/surfpack/internal/infrastructure/config"
	"github.com/vvanghelue/surfpack/internal/infrastructure/logging"
	"github.com/vvanghelue/surfpack/internal/infrastructure/monitoring"
	"github.com/vvanghelue/surfpack/internal/infrastructure/tracing"
	"github.com/vvanghelue/surfpack/internal/modules"
	"github.com/vvanghelue/surfpack/internal/preview"
	"github.com/vvanghelue/surfpack/internal/runner"
	"github.com/vvanghelue/surfpack/internal/sandbox"
)

// Mode selects the routes a server exposes
type Mode int

const (
	// ModePreview serves the preview API and hosts remote sandboxes
	ModePreview Mode = iota
	// ModeSandbox only hosts remote sandboxes
	ModeSandbox
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *nethttp.Server
	config   *config.Config
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	fetcher  *modules.Fetcher
	pool     *sandbox.Pool
	previews *preview.Manager
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, mode Mode) (*Server, error) {
	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing surfpack server",
		zap.String("addr", cfg.Addr()),
		zap.Bool("sandbox_only", mode == ModeSandbox),
		zap.String("remote_sandbox", cfg.Sandbox.RemoteURL),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("surfpack", logger.Component("tracing"), tracing.Options{})

	fetcher := modules.NewFetcher(modules.Options{
		Timeout:   cfg.Modules.Timeout,
		Retries:   cfg.Modules.Retries,
		RateLimit: cfg.Modules.RateLimit,
		CacheSize: cfg.Modules.CacheSize,
		Logger:    logger.Component("modules"),
		Metrics:   metrics,
	})

	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.Timeout = cfg.Sandbox.Timeout
	sandboxCfg.MaxCallStackSize = cfg.Sandbox.MaxCallStackSize
	sandboxCfg.ConsoleLimit = cfg.Sandbox.ConsoleLimit
	sandboxCfg.Target = cfg.Bundler.Target
	windowOpts := []sandbox.Option{
		sandbox.WithFetcher(fetcher),
		sandbox.WithLogger(logger.Component("sandbox")),
	}

	var pool *sandbox.Pool
	if cfg.Sandbox.PoolSize > 0 {
		pool, err = sandbox.NewPool(sandboxCfg, cfg.Sandbox.PoolSize, logger.Component("pool"), windowOpts...)
		if err != nil {
			tracer.Close()
			return nil, fmt.Errorf("failed to create sandbox pool: %w", err)
		}
		logger.Info("Sandbox pool ready", zap.Int("size", cfg.Sandbox.PoolSize))
	}

	runnerOpts := runner.Options{
		CDN: cfg.Modules.CDN,
		Bundler: bundler.Options{
			Target:          cfg.Bundler.Target,
			JSXImportSource: cfg.Bundler.JSXImportSource,
			Logger:          logger.Component("bundler"),
			Metrics:         metrics,
		},
		Logger:  logger.Component("runner"),
		Metrics: metrics,
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.CORSConfig{
		AllowOrigins: cfg.Server.AllowOrigins,
		MaxAge:       middleware.DefaultCORSConfig().MaxAge,
	}))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	sandboxes := ws.NewSandboxHandler(ws.SandboxOptions{
		Config:        sandboxCfg,
		WindowOptions: windowOpts,
		Pool:          pool,
		Runner:        runnerOpts,
		Metrics:       metrics,
		Logger:        logger.Component("sandbox-host"),
	})
	router.GET("/sandbox", sandboxes.HandleConnection)

	s := &Server{
		router:  router,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		fetcher: fetcher,
		pool:    pool,
	}

	if mode == ModeSandbox {
		s.registerSandboxRoutes()
	} else {
		launcher, aggregator, err := newLauncher(cfg, sandboxCfg, windowOpts, pool, runnerOpts, logger)
		if err != nil {
			_ = s.closeResources()
			return nil, err
		}
		s.previews = preview.NewManager(launcher, preview.Options{
			MaxPreviews:  cfg.Previews.Max,
			HistoryLimit: cfg.Previews.HistoryLimit,
			Logger:       logger.Component("previews"),
			Metrics:      metrics,
		})

		handlers := http.NewHandlers(s.previews, http.Options{
			BuildWait:  cfg.Previews.BuildWait,
			Pool:       pool,
			Modules:    fetcher,
			Tracer:     tracer,
			Metrics:    metrics,
			Aggregator: aggregator,
			Logger:     logger.Component("api"),
		})
		handlers.Register(router)

		events := ws.NewEventsHandler(s.previews, metrics, logger.Component("events"))
		router.GET("/api/previews/:id/events", events.HandleConnection)
	}

	s.http = &nethttp.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("Server initialized successfully")
	return s, nil
}

func newLauncher(
	cfg *config.Config,
	sandboxCfg sandbox.Config,
	windowOpts []sandbox.Option,
	pool *sandbox.Pool,
	runnerOpts runner.Options,
	logger *logging.Logger,
) (controller.Launcher, *http.MetricsAggregator, error) {
	if cfg.Sandbox.RemoteURL == "" {
		return &controller.InProcessLauncher{
			Config:        sandboxCfg,
			WindowOptions: windowOpts,
			Pool:          pool,
			Runner:        runnerOpts,
			Logger:        logger.Component("launcher"),
		}, nil, nil
	}

	metricsURL, err := remoteMetricsURL(cfg.Sandbox.RemoteURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Using remote sandboxes", zap.String("url", cfg.Sandbox.RemoteURL))
	launcher := &controller.RemoteLauncher{
		URL:    cfg.Sandbox.RemoteURL,
		Logger: logger.Component("launcher"),
	}
	return launcher, http.NewMetricsAggregator(metricsURL, logger.Component("aggregator")), nil
}

// remoteMetricsURL maps ws://host/sandbox to http://host/metrics/json
func remoteMetricsURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid SURFPACK_SANDBOX_REMOTE_URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid SURFPACK_SANDBOX_REMOTE_URL: scheme %q is not ws or wss", u.Scheme)
	}
	u.Path = "/metrics/json"
	u.RawQuery = ""
	return u.String(), nil
}

func (s *Server) registerSandboxRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		resp := gin.H{"status": "healthy", "version": http.Version}
		if s.pool != nil {
			resp["sandbox_pool"] = s.pool.Stats()
		}
		c.JSON(nethttp.StatusOK, resp)
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/metrics/json", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, s.metrics.Summary())
	})
}

// Router exposes the configured handler
func (s *Server) Router() *gin.Engine { return s.router }

// Previews returns the preview manager; nil in sandbox mode
func (s *Server) Previews() *preview.Manager { return s.previews }

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = s.closeResources()
			return fmt.Errorf("server error: %w", err)
		}
		return s.Close()
	case <-ctx.Done():
		return s.Close()
	}
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down http server: %w", err))
	}
	if err := s.closeResources(); err != nil {
		errs = append(errs, err)
	}
	_ = s.logger.Sync()
	return errors.Join(errs...)
}

func (s *Server) closeResources() error {
	var errs []error
	if s.previews != nil {
		if err := s.previews.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close previews: %w", err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sandbox pool: %w", err))
		}
	}
	s.tracer.Close()
	return errors.Join(errs...)
}
