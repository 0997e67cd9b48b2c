// Package observability wires orkestra.Tracer to a real OpenTelemetry
// exporter. Grounded on the teacher's observer package (tracer.go's
// otelTracer/otelSpan wrapping, observer.go's Init/shutdown shape), trimmed
// to the trace pipeline only: this system's structured logging already goes
// through slog (see logging.go), not an OTEL log bridge, and nothing here
// yet needs custom metric instruments beyond what a trace span's duration
// already gives an OTLP backend — so the metric and log exporters the
// teacher wires are left out rather than carried unused. Configuration
// comes from the standard OTEL_EXPORTER_OTLP_* env vars, same as upstream.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashgrove-labs/orkestra"
)

const scopeName = "github.com/ashgrove-labs/orkestra/observability"

// Init configures the global OTEL TracerProvider with an OTLP/HTTP exporter
// and returns an orkestra.Tracer backed by it, plus a shutdown func the
// caller must run (typically deferred in main) to flush pending spans.
// serviceName is attached to every span's resource attributes.
func Init(ctx context.Context, serviceName string) (orkestra.Tracer, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("observability: build resource: %w", err)
	}

	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("observability: build trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return NewTracer(), tp.Shutdown, nil
}

// NewTracer returns an orkestra.Tracer backed by the global OTEL
// TracerProvider. Call Init first to point that provider at a real
// exporter; without it, spans go to OTEL's no-op default.
func NewTracer() orkestra.Tracer {
	return &otelTracer{inner: otel.Tracer(scopeName)}
}

type otelTracer struct {
	inner trace.Tracer
}

func (t *otelTracer) Start(ctx context.Context, name string, attrs ...orkestra.SpanAttr) (context.Context, orkestra.Span) {
	ctx, span := t.inner.Start(ctx, name, trace.WithAttributes(toOTELAttrs(attrs)...))
	return ctx, &otelSpan{inner: span}
}

type otelSpan struct {
	inner trace.Span
}

func (s *otelSpan) SetAttr(attrs ...orkestra.SpanAttr) {
	s.inner.SetAttributes(toOTELAttrs(attrs)...)
}

func (s *otelSpan) Event(name string, attrs ...orkestra.SpanAttr) {
	s.inner.AddEvent(name, trace.WithAttributes(toOTELAttrs(attrs)...))
}

func (s *otelSpan) Error(err error) {
	if err == nil {
		return
	}
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() { s.inner.End() }

func toOTELAttrs(attrs []orkestra.SpanAttr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		out[i] = toOTELAttr(a)
	}
	return out
}

func toOTELAttr(a orkestra.SpanAttr) attribute.KeyValue {
	switch v := a.Value.(type) {
	case string:
		return attribute.String(a.Key, v)
	case int:
		return attribute.Int(a.Key, v)
	case int64:
		return attribute.Int64(a.Key, v)
	case float64:
		return attribute.Float64(a.Key, v)
	case bool:
		return attribute.Bool(a.Key, v)
	default:
		return attribute.String(a.Key, fmt.Sprintf("%v", v))
	}
}

var (
	_ orkestra.Tracer = (*otelTracer)(nil)
	_ orkestra.Span   = (*otelSpan)(nil)
)
