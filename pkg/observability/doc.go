// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing and health checks.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("endpoint", "/auth/login").Warn("rate limit store unavailable")
//
// Request-scoped logging picks up the request and user ids set by the HTTP
// middleware:
//
//	observability.FromContext(r.Context()).Info("refresh token rotated")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RateLimitDecisions.WithLabelValues(endpoint, "denied").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # OpenTelemetry
//
// InitOTel installs global tracer and meter providers exporting over OTLP
// gRPC. Tracer returns the service tracer used for pipeline spans.
package observability
