package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"barcodeseq/pkg/logger"
)

// quietPaths are polled by health checks and scrapers; they log at debug level.
var quietPaths = map[string]bool{
	"/health/live":  true,
	"/health/ready": true,
	"/metrics":      true,
}

// Logger middleware logs HTTP requests with timing and status.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		keysAndValues := []any{
			"method", c.Request.Method,
			"path", path,
			"query", query,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			keysAndValues = append(keysAndValues, "error", c.Errors.Last().Error())
		}

		l := log.WithContext(c.Request.Context())
		switch {
		case quietPaths[path]:
			l.Debugw("http request", keysAndValues...)
		case status >= 500:
			l.Errorw("http request", keysAndValues...)
		default:
			l.Infow("http request", keysAndValues...)
		}
	}
}
