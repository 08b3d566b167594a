// Package tracing provides distributed tracing infrastructure for the task executor.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MessageHandler processes one inbound message from a worker, identified by
// the task it belongs to and the message's wire type (started/succeeded/
// failed/apply_tracked_changes/closed).
type MessageHandler func(ctx context.Context, taskID, messageType string) error

// Middleware wraps a MessageHandler with cross-cutting behavior.
type Middleware func(next MessageHandler) MessageHandler

// MiddlewareConfig configures the listener tracing middleware.
type MiddlewareConfig struct {
	// Tracer creates spans for each dispatched message. If nil, the
	// middleware returns a pass-through with no tracing overhead.
	Tracer trace.Tracer
}

// NewListenerMiddleware wraps the listener's message dispatch in a span per
// message, recording the task id, message type, and outcome.
func NewListenerMiddleware(cfg MiddlewareConfig) Middleware {
	if cfg.Tracer == nil {
		return func(next MessageHandler) MessageHandler {
			return next
		}
	}

	return func(next MessageHandler) MessageHandler {
		return func(ctx context.Context, taskID, messageType string) error {
			spanName := fmt.Sprintf("%s%s", SpanPrefixDeliv, messageType)
			ctx, span := cfg.Tracer.Start(ctx, spanName,
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			span.SetAttributes(
				attribute.String(AttrTaskID, taskID),
				attribute.String(AttrMessageType, messageType),
			)

			err := next(ctx, taskID, messageType)

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}

			return err
		}
	}
}
