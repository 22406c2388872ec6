package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey       contextKey = "logger"
	requestIDKey    contextKey = "request_id"
	userIDKey       contextKey = "user_id"
	connectionIDKey contextKey = "connection_id"
)

// WithContext attaches logger to ctx
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the attached logger, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID stores the request id and returns the enriched logger
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	return withValue(ctx, logger, requestIDKey, requestID)
}

// WithUserID stores the authenticated user id and returns the enriched logger
func WithUserID(ctx context.Context, logger *zap.Logger, userID string) (context.Context, *zap.Logger) {
	return withValue(ctx, logger, userIDKey, userID)
}

// WithConnectionID stores a realtime connection id and returns the enriched logger
func WithConnectionID(ctx context.Context, logger *zap.Logger, connID string) (context.Context, *zap.Logger) {
	return withValue(ctx, logger, connectionIDKey, connID)
}

func withValue(ctx context.Context, logger *zap.Logger, key contextKey, value string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, key, value)
	enriched := logger.With(zap.String(string(key), value))
	return WithContext(ctx, enriched), enriched
}

func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

func GetUserID(ctx context.Context) string {
	return stringValue(ctx, userIDKey)
}

func GetConnectionID(ctx context.Context) string {
	return stringValue(ctx, connectionIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID returns the active span's trace id, or "" without a valid span
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// ContextLogger logs with trace and request fields pulled from its context.
//
//	logger.L(ctx).Warn("push dispatch failed", zap.Error(err))
type ContextLogger struct {
	ctx    context.Context
	logger *zap.Logger
}

// L returns a ContextLogger bound to ctx
func L(ctx context.Context) *ContextLogger {
	return &ContextLogger{ctx: ctx, logger: FromContext(ctx)}
}

// LWithFallback is L, but uses fallback when ctx carries no logger
func LWithFallback(ctx context.Context, fallback *zap.Logger) *ContextLogger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return &ContextLogger{ctx: ctx, logger: l}
	}
	return &ContextLogger{ctx: ctx, logger: fallback}
}

func (cl *ContextLogger) enriched() *zap.Logger {
	l := cl.logger
	if l == nil {
		l = zap.NewNop()
	}

	if sc := trace.SpanContextFromContext(cl.ctx); sc.IsValid() {
		l = l.With(
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	// the attached logger may already carry these; only add what is missing
	if _, ok := cl.ctx.Value(loggerKey).(*zap.Logger); !ok {
		for _, key := range []contextKey{requestIDKey, userIDKey, connectionIDKey} {
			if v := stringValue(cl.ctx, key); v != "" {
				l = l.With(zap.String(string(key), v))
			}
		}
	}
	return l
}

// With returns a child ContextLogger with extra fields
func (cl *ContextLogger) With(fields ...zap.Field) *ContextLogger {
	return &ContextLogger{ctx: cl.ctx, logger: cl.logger.With(fields...)}
}

func (cl *ContextLogger) Debug(msg string, fields ...zap.Field) { cl.enriched().Debug(msg, fields...) }
func (cl *ContextLogger) Info(msg string, fields ...zap.Field)  { cl.enriched().Info(msg, fields...) }
func (cl *ContextLogger) Warn(msg string, fields ...zap.Field)  { cl.enriched().Warn(msg, fields...) }
func (cl *ContextLogger) Error(msg string, fields ...zap.Field) { cl.enriched().Error(msg, fields...) }

// Zap exposes the enriched logger for APIs that take *zap.Logger
func (cl *ContextLogger) Zap() *zap.Logger {
	return cl.enriched()
}
