package observability

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceJob runs fn under a root span named "job/<name>" with a job-scoped
// logger on the context. The error from fn is recorded on the span and
// returned unchanged.
func TraceJob(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := otel.Tracer("jobs").Start(ctx, "job/"+name,
		trace.WithNewRoot(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("job.name", name)),
	)
	defer span.End()

	l := zerolog.Ctx(ctx).With().Str("job", name).Logger()
	ctx = l.WithContext(ctx)

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.Error().Err(err).Msg("job failed")
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
