package httpmiddleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InjectLogger makes lg, tagged with the request id, available through
// zctx.From for the rest of the chain. It must run after RequestID.
func InjectLogger(lg *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := zctx.Base(c.Request.Context(), lg)
		if id := RequestIDFromContext(ctx); id != "" {
			ctx = zctx.With(ctx, zap.String("request_id", id))
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// LogRequests logs one line per request with the matched route.
func LogRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route(c)),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if err := c.Errors.Last(); err != nil {
			fields = append(fields, zap.Error(err.Err))
		}
		lg := zctx.From(c.Request.Context())
		switch status := c.Writer.Status(); {
		case status >= 500:
			lg.Error("Request", fields...)
		case status >= 400:
			lg.Warn("Request", fields...)
		default:
			lg.Debug("Request", fields...)
		}
	}
}

// Route names the server span after the matched route and labels the
// otelhttp metrics with it. The engine must be wrapped by otelhttp.NewHandler.
func Route() gin.HandlerFunc {
	return func(c *gin.Context) {
		r := route(c)
		ctx := c.Request.Context()
		trace.SpanFromContext(ctx).SetName(c.Request.Method + " " + r)
		if l, ok := otelhttp.LabelerFromContext(ctx); ok {
			l.Add(attribute.String("http.route", r))
		}
		c.Next()
	}
}

func route(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}
