package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if subject, ok := c.Get(ContextSubject); ok {
			attrs = append(attrs, "subject", subject)
		}

		switch {
		case c.Writer.Status() >= 500:
			slog.Error("HTTP request", attrs...)
		case c.Request.URL.Path == "/health":
			slog.Debug("HTTP request", attrs...)
		default:
			slog.Info("HTTP request", attrs...)
		}
	}
}
