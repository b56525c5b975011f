package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/curriculum-progress-api/internal/service"
)

const unmatchedRoute = "unmatched"

// Metrics records request latency and status per route template. Paths in
// skip are not observed; raw URLs are never used as labels so unknown paths
// cannot blow up series cardinality.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, path := range skip {
		skipped[path] = struct{}{}
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if _, ok := skipped[route]; ok {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
