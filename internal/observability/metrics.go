package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects application metrics.
type Metrics interface {
	ObserveHTTPRequest(method, route string, status int, duration time.Duration)
	SetModelsLoaded(n int)
	RecordModelLoad(flavor, outcome string)
	RecordPrediction(flavor, function, outcome string)
	RecordReshapeRetry(flavor string)
	RecordAuthFailure(reason string)
	RecordRateLimitReject()
}

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// PrometheusMetrics implements Metrics on a private registry
type PrometheusMetrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	modelsLoaded     prometheus.Gauge
	modelLoads       *prometheus.CounterVec
	predictions      *prometheus.CounterVec
	reshapeRetries   *prometheus.CounterVec
	authFailures     *prometheus.CounterVec
	rateLimitRejects prometheus.Counter
}

// NewPrometheusMetrics registers all collectors on a fresh registry
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		modelsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_models_loaded",
			Help: "Number of models currently held by the registry",
		}),
		modelLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_model_loads_total",
			Help: "Model load attempts by flavor and outcome",
		}, []string{"flavor", "outcome"}),
		predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_predictions_total",
			Help: "Prediction calls by flavor, function and outcome",
		}, []string{"flavor", "function", "outcome"}),
		reshapeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_prediction_reshape_retries_total",
			Help: "Predictions retried with a column-vector input",
		}, []string{"flavor"}),
		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_auth_failures_total",
			Help: "Rejected credential resolutions by reason",
		}, []string{"reason"}),
		rateLimitRejects: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcp_rate_limit_rejects_total",
			Help: "Total number of requests rejected due to rate limiting",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) SetModelsLoaded(n int) {
	m.modelsLoaded.Set(float64(n))
}

func (m *PrometheusMetrics) RecordModelLoad(flavor, outcome string) {
	m.modelLoads.WithLabelValues(flavor, outcome).Inc()
}

func (m *PrometheusMetrics) RecordPrediction(flavor, function, outcome string) {
	m.predictions.WithLabelValues(flavor, function, outcome).Inc()
}

func (m *PrometheusMetrics) RecordReshapeRetry(flavor string) {
	m.reshapeRetries.WithLabelValues(flavor).Inc()
}

func (m *PrometheusMetrics) RecordAuthFailure(reason string) {
	m.authFailures.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) RecordRateLimitReject() {
	m.rateLimitRejects.Inc()
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) ObserveHTTPRequest(string, string, int, time.Duration) {}
func (NopMetrics) SetModelsLoaded(int)                                  {}
func (NopMetrics) RecordModelLoad(string, string)                       {}
func (NopMetrics) RecordPrediction(string, string, string)              {}
func (NopMetrics) RecordReshapeRetry(string)                            {}
func (NopMetrics) RecordAuthFailure(string)                             {}
func (NopMetrics) RecordRateLimitReject()                               {}
