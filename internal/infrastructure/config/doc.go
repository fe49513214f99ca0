// Package config provides 12-factor configuration for the preview server.
//
// Configuration is loaded from SURFPACK_* environment variables with
// defaults; the CLI overrides individual values with flags.
//
// Sections:
//   - Server: listen address, shutdown timeout, CORS origins
//   - Logging: level and output format
//   - RateLimit: per-IP API rate limiting
//   - Sandbox: window limits, pool size, optional remote sandbox URL
//   - Bundler: language target and JSX import source
//   - Modules: dependency CDN and fetch tuning
//   - Previews: session limits and how long API calls wait for a build
//
// Example:
//
//	cfg := config.LoadOrDefault()
//	logger.Info("Listening", zap.String("addr", cfg.Addr()))
package config
