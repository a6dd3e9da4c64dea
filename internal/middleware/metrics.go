package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/otpdeck/otpdeck/pkg/metrics"
)

// Metrics observes per-request latency under the matched route template,
// falling back to the raw URL path for requests that never matched one.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		metrics.APILatency.
			WithLabelValues(c.Request.Method, routeLabel(c), strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// routeLabel prefers the template (e.g. /api/entries/:id) so the label set
// stays bounded no matter how many entries exist.
func routeLabel(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}
