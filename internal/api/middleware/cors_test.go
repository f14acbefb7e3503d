package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/ovpnm/internal/config"
	"github.com/stretchr/testify/assert"
)

func corsRouter(cfg *config.Config) *gin.Engine {
	router := setupTestRouter()
	router.Use(CORSMiddleware(cfg))
	router.GET("/api/v1/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})
	return router
}

func TestCORSMiddleware(t *testing.T) {
	enabled := &config.Config{
		Security: config.SecurityConfig{
			CORSEnabled: true,
			CORSOrigins: []string{"https://vpn-admin.example.com"},
		},
	}

	t.Run("Preflight from the front end", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodOptions, "/api/v1/me", nil)
		req.Header.Set("Origin", "https://vpn-admin.example.com")
		req.Header.Set("Access-Control-Request-Method", "PUT")
		req.Header.Set("Access-Control-Request-Headers", "Authorization")
		w := httptest.NewRecorder()
		corsRouter(enabled).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://vpn-admin.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("Actual request exposes download headers", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Origin", "https://vpn-admin.example.com")
		w := httptest.NewRecorder()
		corsRouter(enabled).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://vpn-admin.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
	})

	t.Run("Unknown origin is refused", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		corsRouter(enabled).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Disabled adds no headers", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Origin", "https://vpn-admin.example.com")
		w := httptest.NewRecorder()
		corsRouter(&config.Config{}).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}
