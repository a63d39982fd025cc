package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const streamTracerName = "steward-stream"

func streamTracer() trace.Tracer {
	return Tracer(streamTracerName)
}

// TraceStreamTurn creates a span for one adapter turn against the provider.
func TraceStreamTurn(ctx context.Context, conversationID string, turn int) (context.Context, trace.Span) {
	ctx, span := streamTracer().Start(ctx, "stream.turn",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("conversation_id", conversationID),
		attribute.Int("turn", turn),
	)
	return ctx, span
}

// TraceToolCall creates a span for a single tool invocation.
func TraceToolCall(ctx context.Context, toolCallID, toolName string) (context.Context, trace.Span) {
	ctx, span := streamTracer().Start(ctx, "tool.call",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("tool_call_id", toolCallID),
		attribute.String("tool_name", toolName),
	)
	return ctx, span
}

// TraceCommandRun creates a span for a sandboxed command execution.
func TraceCommandRun(ctx context.Context, command string, sandboxed bool) (context.Context, trace.Span) {
	ctx, span := streamTracer().Start(ctx, "executor.run",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("command", command),
		attribute.Bool("sandboxed", sandboxed),
	)
	return ctx, span
}

// TraceApprovalWait creates a span covering the time spent waiting on an
// approval decision.
func TraceApprovalWait(ctx context.Context, approvalID string, sandboxed bool) (context.Context, trace.Span) {
	ctx, span := streamTracer().Start(ctx, "approval.wait",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("approval_id", approvalID),
		attribute.Bool("sandboxed", sandboxed),
	)
	return ctx, span
}

// RecordResult records an outcome on a span, marking it failed when err
// is non-nil.
func RecordResult(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
