package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for coreclaw spans.
var (
	AttrTaskID    = attribute.Key("coreclaw.task.id")
	AttrTaskType  = attribute.Key("coreclaw.task.type")
	AttrMessageID = attribute.Key("coreclaw.message.id")
	AttrDraftID   = attribute.Key("coreclaw.draft.id")
	AttrAgentType = attribute.Key("coreclaw.agent_type")
	AttrSkillName = attribute.Key("coreclaw.skill.name")
	AttrSessionID = attribute.Key("coreclaw.session.id")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call (the sandbox
// invoker launching a worker container).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
