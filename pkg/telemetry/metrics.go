package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce           sync.Once
	metricsInitErr        error
	stageExecutionCounter metric.Int64Counter
	stageFallbackCounter  metric.Int64Counter
	stageLatencyHistogram metric.Float64Histogram
)

// StageMetrics captures the fields needed to record one pipeline stage.
type StageMetrics struct {
	Stage             string
	DocumentType      string
	ProviderID        string
	Synthesized       bool
	FallbackReason    string
	ConfidenceOrScore int
	Duration          time.Duration
}

// RecordStageMetrics emits counters and a latency histogram for a finished stage.
func RecordStageMetrics(ctx context.Context, m StageMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("pipeline.stage", m.Stage),
		attribute.String("document.type", m.DocumentType),
		attribute.String("provider.id", m.ProviderID),
		attribute.Bool("stage.synthesized", m.Synthesized),
	}

	stageExecutionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Duration > 0 {
		stageLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	if m.Synthesized {
		stageFallbackCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("pipeline.stage", m.Stage),
			attribute.String("fallback.reason", m.FallbackReason),
		))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(TracerName)

		stageExecutionCounter, metricsInitErr = meter.Int64Counter(
			"docintel.stage.executions_total",
			metric.WithDescription("Pipeline stage executions partitioned by provider"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stageFallbackCounter, metricsInitErr = meter.Int64Counter(
			"docintel.stage.fallback_total",
			metric.WithDescription("Stage results synthesized by the fallback, by reason"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stageLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"docintel.stage.duration_ms",
			metric.WithDescription("Observed stage latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
