// Package telemetry wires OpenTelemetry tracing and metrics, plus a Prometheus
// collector, for the document pipeline.
//
// It centralises trace provider setup, records per-stage counters and
// latencies with provider and fallback attributes, and exposes provider
// availability so operators can alert separately on "never configured" and
// "temporarily exhausted" fallbacks.
package telemetry
