package oracle

import (
	"context"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ashureev/doq-mediator/internal/oracle"

type traced struct {
	next     Oracle
	provider string
	model    string
	tracer   trace.Tracer
}

// Traced wraps o so every call is recorded as a span on the global tracer
// provider.
func Traced(o Oracle, provider, model string) Oracle {
	return &traced{
		next:     o,
		provider: provider,
		model:    model,
		tracer:   otel.Tracer(tracerName),
	}
}

func (t *traced) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	ctx, span := t.tracer.Start(ctx, "oracle.generate", trace.WithAttributes(
		attribute.String("oracle.provider", t.provider),
		attribute.String("oracle.model", t.model),
		attribute.Int("oracle.prompt_chars", utf8.RuneCountInString(prompt)),
		attribute.Float64("oracle.temperature", float64(opts.Temperature)),
	))
	defer span.End()

	out, err := t.next.Generate(ctx, prompt, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("oracle.completion_chars", utf8.RuneCountInString(out)))
	return out, nil
}
