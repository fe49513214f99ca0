// Package server assembles the surfpack HTTP server.
//
// NewServer wires configuration, logging, metrics, tracing, the module
// fetcher, the sandbox pool and the preview manager behind a gin router:
//
//	Middleware: Recovery -> Tracing -> Metrics -> CORS -> RateLimit
//
// ModePreview exposes the preview API, the event streams and /sandbox.
// Previews run in-process unless SURFPACK_SANDBOX_REMOTE_URL points at
// another server, in which case every preview dials it and that server's
// /metrics/json is folded into the local one.
//
// ModeSandbox only exposes /sandbox, /health and the metrics endpoints.
//
// Example Usage:
//
//	cfg, err := config.Load()
//	srv, err := server.NewServer(cfg, server.ModePreview)
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	err = srv.Run(ctx)
package server
