package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/rewatch-backend/internal/platform/ctxutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

// routePath prefers the registered route pattern over the raw URL so
// parameterized routes aggregate under one label.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

func requestLogFields(c *gin.Context, elapsed time.Duration) []interface{} {
	fields := []interface{}{
		"method", strings.ToUpper(c.Request.Method),
		"path", routePath(c),
		"status", c.Writer.Status(),
		"duration_ms", elapsed.Milliseconds(),
	}
	if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
		if td.TraceID != "" {
			fields = append(fields, "trace_id", td.TraceID)
		}
		if td.RequestID != "" {
			fields = append(fields, "request_id", td.RequestID)
		}
	}
	if rd := ctxutil.GetRequestData(c.Request.Context()); rd != nil && rd.UserID != uuid.Nil {
		fields = append(fields, "user_id", rd.UserID.String())
	}
	return fields
}

// RequestLogger emits one line per request after the handler chain runs,
// leveled by response status.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil {
			return
		}

		fields := requestLogFields(c, time.Since(start))
		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
