package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sprout-budget-go/internal/metrics"
)

// MetricsMiddleware records per-request Prometheus metrics. The route
// template (c.FullPath) is used instead of the raw URL so path
// parameters do not explode label cardinality; unmatched routes are
// grouped under "unmatched".
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
