package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the caller-supplied or server-assigned request id.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is where the id lives in the gin context.
	RequestIDKey = "request_id"
)

// RequestID honors an incoming X-Request-ID or assigns a fresh UUID, stores it
// in the request context, and echoes it on the response so callers can
// correlate logs, prediction events, and responses.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
