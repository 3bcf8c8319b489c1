package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger is a Gin middleware that logs every request with structured
// key/value fields, replacing gin's own text logger with the slog idiom
// the rest of the data plane uses.
func Logger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client", c.ClientIP(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// Recovery wraps gin's panic recovery and logs the panic with the same
// structured logger instead of gin's default stderr writer.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered", "error", err, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
