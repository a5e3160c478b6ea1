package middleware

import (
	"github.com/gin-gonic/gin"

	appctx "barcodeseq/internal/core/context"
	"barcodeseq/internal/core/id"
	"barcodeseq/pkg/logger"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

// Trace middleware extracts or generates request and trace IDs and puts a
// request-scoped logger into the context.
func Trace(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if !id.Valid(requestID) {
			requestID = id.New()
		}

		traceID := c.GetHeader(HeaderTraceID)
		if !id.Valid(traceID) {
			traceID = id.New()
		}

		trace := &appctx.TraceContext{
			TraceID:   traceID,
			SpanID:    id.NewSpanID(),
			RequestID: requestID,
		}

		ctx := appctx.WithTrace(c.Request.Context(), trace)
		ctx = logger.WithLogger(ctx, log)
		c.Request = c.Request.WithContext(ctx)

		c.Set("trace_id", traceID)
		c.Set("request_id", requestID)

		c.Header(HeaderRequestID, requestID)
		c.Header(HeaderTraceID, traceID)

		c.Next()
	}
}
