// Package telemetry provides OpenTelemetry distributed tracing for the
// gateway. It instruments the request/preprocess/infer/postprocess/batch
// stages with spans, supports W3C Trace Context propagation, and exports
// to OTLP or stdout.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/nkazachenko/grps-core-go"

// Config holds tracing configuration.
type Config struct {
	// Enabled turns tracing on/off.
	Enabled bool

	// Exporter selects the trace exporter: "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP collector address (e.g., "localhost:4317").
	Endpoint string

	// SampleRate controls the sampling ratio (0.0 to 1.0).
	// 1.0 = sample everything, 0.1 = sample 10%.
	SampleRate float64

	// ServiceName overrides the default service name.
	ServiceName string

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool
}

// DefaultConfig returns tracing defaults (disabled).
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "otlp",
		Endpoint:    "localhost:4317",
		SampleRate:  1.0,
		ServiceName: "grps-core-go",
		Insecure:    true,
	}
}

// Provider wraps the OTEL TracerProvider and exposes the gateway's span
// helpers.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init sets up the global TracerProvider based on the config.
// Returns a Provider that must be shut down with Shutdown().
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		// Return a no-op provider
		return &Provider{
			tracer: trace.NewNoopTracerProvider().Tracer(tracerName),
		}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	case "none", "":
		return &Provider{
			tracer: trace.NewNoopTracerProvider().Tracer(tracerName),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout, none)", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global provider and propagator
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(tracerName),
	}, nil
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the gateway's tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// --- Span helpers for the request/stage pipeline ---

// StartRequest creates a root span named "grps.request" for an incoming
// request, tagged with endpoint as the grps.endpoint attribute.
func (p *Provider) StartRequest(ctx context.Context, endpoint string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "grps.request",
		trace.WithAttributes(attribute.String("grps.endpoint", endpoint)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartPreProcess creates a span for a stage's converter.PreProcess call.
func (p *Provider) StartPreProcess(ctx context.Context, model string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "grps.preprocess",
		trace.WithAttributes(attribute.String("grps.model", model)),
	)
}

// StartInfer creates a span for a stage's inferer.Infer/BatchInfer call.
func (p *Provider) StartInfer(ctx context.Context, model string, batchSize int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "grps.infer",
		trace.WithAttributes(
			attribute.String("grps.model", model),
			attribute.Int("grps.infer.batch_size", batchSize),
		),
	)
}

// StartPostProcess creates a span for a stage's converter.PostProcess
// call.
func (p *Provider) StartPostProcess(ctx context.Context, model string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "grps.postprocess",
		trace.WithAttributes(attribute.String("grps.model", model)),
	)
}

// StartBatch creates a span for one dispatched batcher batch.
func (p *Provider) StartBatch(ctx context.Context, batcherName string, size int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "grps.batch",
		trace.WithAttributes(
			attribute.String("grps.batcher", batcherName),
			attribute.Int("grps.batch.size", size),
		),
	)
}

// RecordResult adds result attributes to a span.
func RecordResult(span trace.Span, model string, latency time.Duration) {
	span.SetAttributes(
		attribute.String("grps.model", model),
		attribute.Int64("grps.result.latency_ms", latency.Milliseconds()),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
