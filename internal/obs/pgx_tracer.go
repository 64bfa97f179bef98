package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const sqlAttributeLimit = 300

type querySpanKey struct{}

// PGXTracer implements pgx.QueryTracer, wrapping each statement in a span.
type PGXTracer struct{}

func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, span := otel.Tracer("db.pgx").Start(ctx, "pgx.query")
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", clipSQL(data.SQL)),
	}
	if verb := strings.Fields(data.SQL); len(verb) > 0 {
		attrs = append(attrs, attribute.String("db.operation", verb[0]))
	}
	span.SetAttributes(attrs...)
	return context.WithValue(ctx, querySpanKey{}, span)
}

func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(querySpanKey{}).(trace.Span)
	if !ok {
		return
	}
	if data.Err != nil {
		span.RecordError(data.Err)
	}
	span.End()
}

func clipSQL(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if len(trimmed) > sqlAttributeLimit {
		return trimmed[:sqlAttributeLimit] + "..."
	}
	return trimmed
}
