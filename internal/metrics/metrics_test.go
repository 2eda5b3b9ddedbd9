package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.PatternsDetected.WithLabelValues("R_100", "double_top").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.PatternsDetected.WithLabelValues("R_100", "double_top")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PatternsDetected.WithLabelValues("R_100", "double_top")))
}

func TestServer_ExposesMetricsAndHealth(t *testing.T) {
	m := NewMetrics()
	m.ExecutionsTotal.WithLabelValues("frxEURUSD", "executed").Inc()
	health := NewHealthStatus()
	srv := NewServer(":0", m, health, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `patternbot_executions_total{outcome="executed",symbol="frxEURUSD"} 1`))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)

	health.SetFeedConnected(true)
	health.SetAuthorized(true)
	health.SetLastCandleTime(time.Unix(1700000000, 0))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"last_candle_time":"2023-11-14T22:13:20Z"`)
}

func TestHealthStatus_DisconnectClearsAuthorization(t *testing.T) {
	h := NewHealthStatus()
	h.SetFeedConnected(true)
	h.SetAuthorized(true)
	h.SetFeedConnected(false)
	assert.False(t, h.Authorized)
}
