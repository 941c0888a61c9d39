package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthAttemptsTotal  *prometheus.CounterVec
	TokenVerifications *prometheus.CounterVec

	// Pipeline metrics
	PipelineOutcomes *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitDecisions *prometheus.CounterVec

	// Authorization metrics
	PermissionChecks *prometheus.CounterVec

	// Store metrics
	StoreErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agora_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_auth_attempts_total",
				Help: "Login, refresh and logout attempts by outcome",
			},
			[]string{"operation", "outcome"},
		),
		TokenVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_token_verifications_total",
				Help: "Bearer token verifications by result",
			},
			[]string{"result"},
		),
		PipelineOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_pipeline_outcomes_total",
				Help: "Authentication pipeline results by endpoint and error code",
			},
			[]string{"endpoint", "code"},
		),
		PipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agora_pipeline_duration_seconds",
				Help:    "Time spent in the authentication pipeline before the handler runs",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"endpoint"},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_ratelimit_decisions_total",
				Help: "Rate limiter decisions by outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		PermissionChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_permission_checks_total",
				Help: "Permission evaluations by permission and result",
			},
			[]string{"permission", "result"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_store_errors_total",
				Help: "Errors talking to external stores",
			},
			[]string{"store", "operation"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthAttemptsTotal,
		m.TokenVerifications,
		m.PipelineOutcomes,
		m.PipelineDuration,
		m.RateLimitDecisions,
		m.PermissionChecks,
		m.StoreErrorsTotal,
	)

	return m
}

// NewNopMetrics returns metrics registered on a private registry
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel returns the mux path template so that ids in paths do not blow
// up label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Register it with Router.Use so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
