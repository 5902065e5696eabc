package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/inference-core/internal/metrics"
)

// Admission bounds how many prediction requests execute at once. When every
// slot is taken, new work is refused immediately with 429 and a Retry-After
// hint instead of queueing until latency collapses for everything already
// admitted. The gauge tracks occupied slots so dashboards see saturation
// before callers do.
func Admission(capacity int) gin.HandlerFunc {
	if capacity < 1 {
		capacity = 1
	}
	slots := make(chan struct{}, capacity)

	return func(c *gin.Context) {
		select {
		case slots <- struct{}{}:
			metrics.RequestQueueDepth.Inc()
			defer func() {
				<-slots
				metrics.RequestQueueDepth.Dec()
			}()
			c.Next()
		default:
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status": "error",
				"error":  "server is at capacity, retry shortly",
			})
		}
	}
}
