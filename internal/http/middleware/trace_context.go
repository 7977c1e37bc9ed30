package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/rewatch-backend/internal/platform/ctxutil"
)

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
)

func headerOrNewID(c *gin.Context, header string) string {
	if v := strings.TrimSpace(c.GetHeader(header)); v != "" {
		return v
	}
	return uuid.New().String()
}

// incomingTraceID prefers the caller-supplied header, then an active otel
// span, and mints a fresh id when neither is present.
func incomingTraceID(c *gin.Context) string {
	if v := strings.TrimSpace(c.GetHeader(headerTraceID)); v != "" {
		return v
	}
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.New().String()
}

// expose makes one id visible to handlers via the gin key and to callers
// via the response header.
func expose(c *gin.Context, header, key, val string) {
	c.Set(key, val)
	c.Writer.Header().Set(header, val)
}

// AttachTraceContext stamps every request with trace and request ids,
// exposes them to handlers through ctxutil, and echoes them back as
// response headers.
func AttachTraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := headerOrNewID(c, headerRequestID)
		traceID := incomingTraceID(c)

		td := &ctxutil.TraceData{TraceID: traceID, RequestID: reqID}
		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), td))

		expose(c, headerTraceID, "trace_id", traceID)
		expose(c, headerRequestID, "request_id", reqID)
		c.Next()
	}
}
