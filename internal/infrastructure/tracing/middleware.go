package tracing

import (
	"errors"

	"github.com/gin-gonic/gin"
)

// Header names used to propagate traces
const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

// HTTPMiddleware wraps every request in a span. An incoming X-Trace-ID is
// continued; the trace and span IDs are echoed in the response headers.
func HTTPMiddleware(t *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithTraceID(c.Request.Context(), TraceID(c.GetHeader(HeaderTraceID)))

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := t.StartSpan(ctx, c.Request.Method+" "+name)
		if id := c.Param("id"); id != "" {
			span.SetTag("preview", id)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderTraceID, string(span.TraceID))
		c.Header(HeaderSpanID, string(span.SpanID))

		c.Next()

		span.Status = c.Writer.Status()
		var err error
		if len(c.Errors) > 0 {
			err = errors.New(c.Errors.String())
		}
		t.End(span, err)
	}
}
