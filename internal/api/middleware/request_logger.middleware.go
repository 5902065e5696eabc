package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/inference-core/pkg/logger"
)

// RequestLogger emits one structured line per request, leveled by status
// class so alerting can key on error-level volume alone.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		requestID := ""
		if param.Keys != nil {
			if rid, ok := param.Keys[RequestIDKey].(string); ok {
				requestID = rid
			}
		}

		fields := []interface{}{
			"method", param.Method,
			"path", param.Path,
			"status", param.StatusCode,
			"latency", param.Latency.String(),
			"client_ip", param.ClientIP,
			"request_id", requestID,
		}
		if param.ErrorMessage != "" {
			fields = append(fields, "error", param.ErrorMessage)
		}

		switch {
		case param.StatusCode >= 500:
			log.Error("http request", fields...)
		case param.StatusCode >= 400:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}

		// Everything goes through the structured logger; gin writes nothing.
		return ""
	})
}
