package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DBOperation labels a database span with the kind of statement it runs.
type DBOperation string

const (
	// DBOperationQuery covers SELECTs.
	DBOperationQuery DBOperation = "query"
	// DBOperationExec covers writes that are not plain deletes, upserts included.
	DBOperationExec DBOperation = "exec"
	// DBOperationDelete covers DELETEs.
	DBOperationDelete DBOperation = "delete"
)

// StartDBSpan opens a client span around one statement against table.
// The returned func ends the span, recording err when it is non-nil.
func StartDBSpan(ctx context.Context, table string, op DBOperation) (context.Context, func(error)) {
	name := string(op)
	if table != "" {
		name += " " + table
	}
	ctx, span := otel.Tracer("talktrack/db").Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", string(op)),
		),
	)
	if table != "" {
		span.SetAttributes(attribute.String("db.sql.table", table))
	}
	return ctx, endFunc(span)
}

// StartSpan opens a span around a named protocol operation.
func StartSpan(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := otel.Tracer("talktrack").Start(ctx, name)
	return ctx, endFunc(span)
}

func endFunc(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
