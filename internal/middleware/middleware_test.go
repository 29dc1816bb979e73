package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(reg *prometheus.Registry) (*gin.Engine, *PrometheusMiddleware) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRequestLogger().Handler())
	pm := NewPrometheusMiddleware("test", reg)
	r.Use(pm.Handler())
	pm.RegisterMetricsEndpoint(r, reg)
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/boom", func(c *gin.Context) { c.String(http.StatusInternalServerError, "boom") })
	return r, pm
}

func TestPrometheusMiddlewareCountsErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, pm := newTestRouter(reg)

	for _, path := range []string{"/ok", "/boom", "/boom", "/missing"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.reqErrors.WithLabelValues("GET", "/boom", "500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.reqErrors.WithLabelValues("GET", "/missing", "404")),
		"Неизвестный маршрут учитывается по пути запроса")
	assert.Zero(t, testutil.ToFloat64(pm.reqInflight))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "test_http_request_duration_seconds"))
}

func TestRequestLoggerSetsTraceID(t *testing.T) {
	r, _ := newTestRouter(prometheus.NewRegistry())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Len(t, w.Header().Get("X-Trace-ID"), 36, "Без span'а trace-id — UUID")
}
