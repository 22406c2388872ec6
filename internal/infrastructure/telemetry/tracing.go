package telemetry

import (
	"context"

	"github.com/campus/messaging/internal/domain/shared"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "campus-messaging"

// Span attribute keys. Metrics use the keys in metrics.go.
var (
	AttrSenderID      = attribute.Key("messaging.sender_id")
	AttrMessageID     = attribute.Key("messaging.message_id")
	AttrRecipients    = attribute.Key("messaging.recipients")
	AttrDeliveredLive = attribute.Key("messaging.delivered_live")
	AttrEvent         = attribute.Key("messaging.event")
	AttrErrorCode     = attribute.Key("messaging.error_code")
)

// Start opens an internal span named component.operation, e.g.
// "delivery.send". The caller must End it.
func Start(ctx context.Context, component, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, component+"."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
}

// ID renders a uuid attribute
func ID(key attribute.Key, id uuid.UUID) attribute.KeyValue {
	return key.String(id.String())
}

// Fail records err on span. Rejections the caller caused (validation,
// forbidden, not found, conflict) are noted as an event and leave the span
// status unset; everything else marks the span as failed.
func Fail(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	switch code := shared.CodeOf(err); code {
	case shared.CodeValidation, shared.CodeForbidden, shared.CodeNotFound, shared.CodeConflict, shared.CodeUnauthorized:
		span.AddEvent("rejected", trace.WithAttributes(AttrErrorCode.String(code)))
	default:
		if code != "" {
			span.SetAttributes(AttrErrorCode.String(code))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
