// Package service holds the permission engine: the resolver is the only read
// path to effective permissions, the mutator the only write path to grants,
// and the evaluator the decision function the enforcement gate consumes.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dErrors "permguard/pkg/domain-errors"
	"permguard/pkg/requestcontext"
)

var tracer = otel.Tracer("permguard/internal/permission/service")

func startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, opts...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, dErrors.Message(err))
	}
	span.End()
}

func logAudit(ctx context.Context, logger *slog.Logger, event string, attributes ...any) {
	if logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	logger.InfoContext(ctx, event, args...)
}

func logWarn(ctx context.Context, logger *slog.Logger, msg string, attributes ...any) {
	if logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	logger.WarnContext(ctx, msg, attributes...)
}

// storeError classifies a persistence failure. Coded errors pass through;
// cancellation becomes a timeout; everything else is a retryable outage.
func storeError(err error, msg string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg+": cancelled")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
}
