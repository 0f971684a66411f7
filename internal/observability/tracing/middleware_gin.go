package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/tokenwallet/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tokenwallet/http"

// GinMiddleware opens a server span per request. The span is renamed to the
// matched route once routing is done and carries the rejection code, if any,
// as outcome.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := strings.ToUpper(c.Request.Method)
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := otel.Tracer(tracerName).Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + method + " " + route)

		reqCtx := c.Request.Context()
		attrs := []attribute.KeyValue{
			attribute.String("http.method", method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		}
		if v := obscontext.RequestIDFromContext(reqCtx); v != "" {
			attrs = append(attrs, attribute.String("request_id", v))
		}
		if v := obscontext.WorkspaceIDFromContext(reqCtx); v != "" {
			attrs = append(attrs, attribute.String("workspace_id", v))
		}
		if v := c.GetString("action"); v != "" {
			attrs = append(attrs, attribute.String("action", v))
		}

		var safeErr error
		if lastErr := c.Errors.Last(); lastErr != nil {
			safeErr = SafeError(lastErr.Err)
			attrs = append(attrs, attribute.String("outcome", safeErr.Error()))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if status >= http.StatusInternalServerError {
			if safeErr != nil {
				span.RecordError(safeErr)
			}
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
