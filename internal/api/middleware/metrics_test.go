package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/roadwatch/internal/api/middleware"
)

func newMetricsHandler(t *testing.T, inner http.HandlerFunc) http.Handler {
	t.Helper()
	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)
	return metrics.Middleware()(inner)
}

func TestNewMetrics(t *testing.T) {
	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)
	assert.NotNil(t, metrics)
}

func TestMetricsMiddlewarePassesResponseThrough(t *testing.T) {
	handler := newMetricsHandler(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"incidents":[]}`))
	})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/incidents", http.NoBody))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"incidents":[]}`, w.Body.String())
}

func TestMetricsMiddlewareErrorStatus(t *testing.T) {
	handler := newMetricsHandler(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/incidents/load", http.NoBody))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMetricsMiddlewareDefaultStatus(t *testing.T) {
	handler := newMetricsHandler(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody))

	assert.Equal(t, http.StatusOK, w.Code)
}
