package middleware

import (
	"strconv"
	"time"

	"github.com/campus/messaging/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetricsConfig configures HTTPMetrics
type HTTPMetricsConfig struct {
	// Telemetry supplies the meter; nil or disabled turns the middleware off
	Telemetry *telemetry.Providers
	Enabled   bool
	// SkipPaths are not measured. The websocket upgrade belongs here since
	// its request lasts as long as the connection.
	SkipPaths []string
}

// HTTPMetrics counts REST requests by route pattern and status class and
// records their latency. Unmatched paths share one "unmatched" route so
// scanners cannot blow up cardinality.
func HTTPMetrics(cfg HTTPMetricsConfig) gin.HandlerFunc {
	if !cfg.Enabled || !cfg.Telemetry.Enabled() {
		return passthrough
	}
	return httpMetrics(cfg.Telemetry.Meter("http.server"), cfg.SkipPaths)
}

func httpMetrics(meter metric.Meter, skipPaths []string) gin.HandlerFunc {
	requests, err := telemetry.NewCounter(meter, "http_server_request_total", "REST requests served", "{request}")
	if err != nil {
		return passthrough
	}
	latency, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_duration_seconds",
		Description: "REST request latency",
		Unit:        "s",
		Boundaries:  telemetry.HTTPDurationBuckets,
	})
	if err != nil {
		return passthrough
	}
	inFlight, err := telemetry.NewUpDownCounter(meter, "http_server_active_requests", "REST requests in progress", "{request}")
	if err != nil {
		return passthrough
	}

	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		start := time.Now()
		inFlight.Add(ctx, 1)
		defer inFlight.Add(ctx, -1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		attrs := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(route),
		}
		requests.Inc(ctx, append(attrs, telemetry.AttrHTTPStatusClass.String(statusClass(c.Writer.Status())))...)
		latency.RecordDuration(ctx, time.Since(start), attrs...)
	}
}

func passthrough(c *gin.Context) {
	c.Next()
}

// statusClass maps 404 to "4xx"
func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
