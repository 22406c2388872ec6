// Package middleware provides HTTP middleware for the messaging API.
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

// TracingConfig configures Tracing
type TracingConfig struct {
	ServiceName string
	Enabled     bool
	// SkipPaths are not traced. The websocket upgrade would otherwise leave
	// one span open for the life of the connection.
	SkipPaths []string
}

// Tracing wraps otelgin. Spans are named "METHOD route", e.g.
// "GET /api/v1/conversations/:id".
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return passthrough
	}
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}
	traced := otelgin.Middleware(cfg.ServiceName)
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		traced(c)
	}
}

// SpanErrorMarker fails the request span on 5xx. A 4xx is the client's
// doing and only gets the status code attribute. It must run after Tracing.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		status := c.Writer.Status()
		if !span.IsRecording() || status < http.StatusBadRequest {
			return
		}
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// TracingAttributeInjector tags the request span with the request id and the
// authenticated user. It must run after Tracing and the JWT middleware.
func TracingAttributeInjector() gin.HandlerFunc {
	return func(c *gin.Context) {
		if span := trace.SpanFromContext(c.Request.Context()); span.IsRecording() {
			if id := GetRequestID(c); id != "" {
				span.SetAttributes(attribute.String("request_id", truncate(id, maxRequestIDLength)))
			}
			if userID := GetJWTUserID(c); userID != uuid.Nil {
				span.SetAttributes(attribute.String("enduser.id", userID.String()))
			}
		}
		c.Next()
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
