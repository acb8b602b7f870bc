package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"ytbatch/logger"
)

var httpLog = logger.Get("HTTP")

// Logging logs every request through the application logger. Server errors
// are logged as errors, client errors as warnings.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		level := logger.DEBUG
		switch {
		case status >= 500:
			level = logger.ERROR
		case status >= 400:
			level = logger.WARNING
		}

		httpLog.Emit(level, "%s %s -> %d (%s)\n", c.Request.Method, path, status, time.Since(start).Round(time.Microsecond))
		for _, err := range c.Errors {
			httpLog.Emit(logger.ERROR, "%s %s: %v\n", c.Request.Method, path, err.Err)
		}
	}
}
