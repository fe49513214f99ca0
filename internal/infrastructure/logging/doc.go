// Package logging builds the process logger on uber/zap.
//
// Two modes:
//   - Production: JSON lines for machine parsing
//   - Development: colored console output
//
// Components never depend on this package. They accept a *zap.Logger,
// default to zap.NewNop() and are handed a named child at wiring time:
//
//	logger := logging.NewDefault()
//	fetcher := modules.NewFetcher(modules.Options{Logger: logger.Component("modules")})
//
// The level is atomic; SetLevel affects every derived logger.
package logging
