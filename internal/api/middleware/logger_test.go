package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerMiddleware(t *testing.T) {
	newRouter := func() (*gin.Engine, *observer.ObservedLogs) {
		core, recorded := observer.New(zapcore.InfoLevel)
		router := setupTestRouter()
		router.Use(LoggerMiddleware(zap.New(core)))
		return router, recorded
	}

	t.Run("Logs request fields", func(t *testing.T) {
		router, recorded := newRouter()
		router.GET("/api/v1/admin/routes", func(c *gin.Context) {
			time.Sleep(5 * time.Millisecond)
			c.JSON(http.StatusOK, gin.H{})
		})

		req, _ := http.NewRequest(http.MethodGet, "/api/v1/admin/routes?detail=true", nil)
		req.RemoteAddr = "192.168.1.100:12345"
		req.Header.Set("User-Agent", "ovpnm-test")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		logs := recorded.All()
		require.Len(t, logs, 1)
		assert.Equal(t, "HTTP request", logs[0].Message)
		assert.Equal(t, zapcore.InfoLevel, logs[0].Level)

		fields := logs[0].ContextMap()
		assert.Equal(t, "GET", fields["method"])
		assert.Equal(t, "/api/v1/admin/routes", fields["path"])
		assert.Equal(t, "detail=true", fields["query"])
		assert.Equal(t, int64(200), fields["status"])
		assert.Equal(t, "192.168.1.100", fields["ip"])
		assert.Equal(t, "ovpnm-test", fields["user_agent"])
		latency, ok := fields["latency"].(time.Duration)
		require.True(t, ok)
		assert.GreaterOrEqual(t, latency, 5*time.Millisecond)
	})

	t.Run("Level follows status", func(t *testing.T) {
		tests := []struct {
			status int
			level  zapcore.Level
		}{
			{http.StatusCreated, zapcore.InfoLevel},
			{http.StatusConflict, zapcore.WarnLevel},
			{http.StatusServiceUnavailable, zapcore.ErrorLevel},
		}
		for _, tt := range tests {
			router, recorded := newRouter()
			router.POST("/test", func(c *gin.Context) {
				c.JSON(tt.status, gin.H{})
			})

			req, _ := http.NewRequest(http.MethodPost, "/test", nil)
			router.ServeHTTP(httptest.NewRecorder(), req)

			logs := recorded.All()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.level, logs[0].Level, tt.status)
			assert.Equal(t, int64(tt.status), logs[0].ContextMap()["status"])
		}
	})

	t.Run("Logs unmatched paths", func(t *testing.T) {
		router, recorded := newRouter()
		router.GET("/exists", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		req, _ := http.NewRequest(http.MethodGet, "/missing", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)

		logs := recorded.All()
		require.Len(t, logs, 1)
		assert.Equal(t, "/missing", logs[0].ContextMap()["path"])
		assert.Equal(t, int64(404), logs[0].ContextMap()["status"])
	})

	t.Run("Includes the caller", func(t *testing.T) {
		router, recorded := newRouter()
		router.GET("/test", func(c *gin.Context) {
			c.Set("user_id", "u1")
			c.Status(http.StatusOK)
		})

		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)

		logs := recorded.All()
		require.Len(t, logs, 1)
		assert.Equal(t, "u1", logs[0].ContextMap()["user_id"])
		assert.Equal(t, "", logs[0].ContextMap()["query"])
	})
}
