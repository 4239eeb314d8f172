// Package middleware provides HTTP middleware for the sync service API.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxRequestIDLength bounds request IDs taken from headers
const MaxRequestIDLength = 128

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// Tracing returns OpenTelemetry tracing middleware; spans are named after the route pattern.
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return otelgin.Middleware(cfg.ServiceName)
}

// TracingAttributeInjector enriches the current span. It runs inside the
// otelgin span, after RequestID and before the handler.
func TracingAttributeInjector() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			if id := c.GetString(RequestIDKey); id != "" {
				span.SetAttributes(attribute.String("request_id", id))
			}
			if shopID := c.Param("shop_id"); shopID != "" {
				if _, err := uuid.Parse(shopID); err == nil {
					span.SetAttributes(attribute.String("tenant_id", shopID))
				}
			}
		}

		c.Next()

		if !span.IsRecording() {
			return
		}
		if sub := GetJWTSubject(c); sub != "" {
			span.SetAttributes(attribute.String("subject", sub))
		}
		if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
