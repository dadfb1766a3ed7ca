package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// TracerName is the instrumentation scope used for pipeline spans.
const TracerName = "docintel.pipeline"

// Config describes the telemetry bootstrap options.
type Config struct {
	ServiceName  string
	Endpoint     string
	Environment  string
	Insecure     bool
	Headers      map[string]string
	ResourceTags map[string]string
}

// SetupProvider initialises the process-wide OpenTelemetry tracer provider and
// returns a shutdown function that flushes buffered spans. With no endpoint
// the global no-op provider stays in place.
func SetupProvider(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "docintel"
	}

	clientOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	} else {
		clientOpts = append(clientOpts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	if len(cfg.Headers) > 0 {
		clientOpts = append(clientOpts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	clientOpts = append(clientOpts, otlptracegrpc.WithDialOption(
		grpc.WithReturnConnectionError(), //nolint:staticcheck // surfaces dial errors without grpc.WithBlock
	))

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exporter, err := otlptrace.New(dialCtx, otlptracegrpc.NewClient(clientOpts...))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}
	for k, v := range cfg.ResourceTags {
		attrs = append(attrs, attribute.String(k, v))
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithMaxExportBatchSize(100), sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// StartStage opens a span for one pipeline stage. The caller ends it with
// EndStage once the stage result is known.
func StartStage(ctx context.Context, stage, documentType string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "pipeline."+stage,
		trace.WithAttributes(
			attribute.String("pipeline.stage", stage),
			attribute.String("document.type", documentType),
		),
	)
}

// EndStage annotates the span with the stage outcome and ends it. Synthesized
// results add a fallback event so they are searchable in trace backends.
func EndStage(span trace.Span, m StageMetrics) {
	if span == nil {
		return
	}
	defer span.End()
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.String("provider.id", m.ProviderID),
		attribute.Bool("stage.synthesized", m.Synthesized),
		attribute.Int("stage.confidence", m.ConfidenceOrScore),
	)
	if m.Synthesized {
		span.AddEvent("stage.fallback", trace.WithAttributes(
			attribute.String("fallback.reason", m.FallbackReason),
		))
	}
}
