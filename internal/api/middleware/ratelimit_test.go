package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robcowart/ovpnm/internal/metrics"
	"github.com/robcowart/ovpnm/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis: connection refused")
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestRateLimitMiddleware(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	router := setupTestRouter()
	router.Use(RateLimitMiddleware(ratelimit.NewMemoryLimiter(2, time.Hour), m, zap.NewNop()))
	router.POST("/api/v1/auth/login", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"token": "t"})
	})

	login := func(remoteAddr string) *httptest.ResponseRecorder {
		req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, login("10.0.0.1:1000").Code)
	w := login("10.0.0.1:1001")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = login("10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"msg":"too many requests"}`, w.Body.String())
	assert.Contains(t, scrape(t, m), "ovpnm_rate_limited_requests_total 1")

	// other clients have their own window
	assert.Equal(t, http.StatusOK, login("10.0.0.2:1000").Code)

	t.Run("Backend failure lets requests through", func(t *testing.T) {
		router := setupTestRouter()
		router.Use(RateLimitMiddleware(failingLimiter{}, nil, zap.NewNop()))
		router.GET("/test", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestMetricsMiddleware(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	router := setupTestRouter()
	router.Use(MetricsMiddleware(m))
	router.GET("/api/v1/admin/routes/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	for _, path := range []string{"/api/v1/admin/routes/a", "/api/v1/admin/routes/b", "/nowhere"} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	out := scrape(t, m)
	assert.Contains(t, out, `ovpnm_http_requests_total{method="GET",path="/api/v1/admin/routes/:id",status="404"} 2`)
	assert.Contains(t, out, `ovpnm_http_requests_total{method="GET",path="unmatched",status="404"} 1`)
}
