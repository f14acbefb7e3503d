package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/ovpnm/internal/metrics"
)

// MetricsMiddleware records request count and latency per route template.
// Unmatched paths are grouped under a single label.
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
