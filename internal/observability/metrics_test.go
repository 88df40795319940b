package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/model-control-plane/config"
)

func TestPrometheusMetrics_Counters(t *testing.T) {
	m := NewPrometheusMetrics()

	m.RecordModelLoad("pyfunc", OutcomeSuccess)
	m.RecordModelLoad("pyfunc", OutcomeSuccess)
	m.RecordModelLoad("sklearn", OutcomeFailure)
	m.RecordPrediction("pyfunc", "predict", OutcomeSuccess)
	m.RecordReshapeRetry("pyfunc")
	m.RecordAuthFailure("invalid_token")
	m.RecordRateLimitReject()
	m.SetModelsLoaded(3)
	m.ObserveHTTPRequest(http.MethodGet, "/models/list", 200, 15*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.modelLoads.WithLabelValues("pyfunc", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelLoads.WithLabelValues("sklearn", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reshapeRetries.WithLabelValues("pyfunc")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.modelsLoaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitRejects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/models/list", "200")))
}

func TestPrometheusMetrics_Handler(t *testing.T) {
	m := NewPrometheusMetrics()
	m.RecordPrediction("sklearn", "predict_proba", OutcomeFailure)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mcp_predictions_total{flavor="sklearn",function="predict_proba",outcome="failure"} 1`)
}

func TestNewLogger_DebugJSON(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "debug", LogFormat: "json"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = NewLogger(config.ObservabilityConfig{LogLevel: "loud", LogFormat: "json"})
	assert.Error(t, err)
}
