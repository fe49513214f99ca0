/*
Package monitoring provides Prometheus metrics for the preview engine.

# Overview

Metrics are registered on a private registry owned by each Metrics value so
that several engines (or several tests) can live in one process. The gin
middleware records HTTP traffic; the bundler, installer, runner and module
fetcher record their own operations through the Record* helpers. Every
helper is safe on a nil *Metrics.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	metrics.RecordBuild("success", 42*time.Millisecond)

# JSON summary

Summary returns a snapshot with build latency statistics (mean, standard
deviation, p50/p95) computed with gonum over a bounded window of recent
builds, served at /metrics/json.
*/
package monitoring
