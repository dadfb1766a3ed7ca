package telemetry

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/polis-docintel/pkg/domain"
)

// Metrics holds the Prometheus collectors scraped from /metrics.
type Metrics struct {
	providerAvailable *prometheus.GaugeVec
	providerCalls     *prometheus.CounterVec
	providerLatency   *prometheus.HistogramVec
	probes            *prometheus.CounterVec

	fallbacks     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec

	configReloads *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		providerAvailable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docintel_provider_available",
				Help: "1 when the provider is selectable, 0 otherwise",
			},
			[]string{"provider"},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docintel_provider_calls_total",
				Help: "Provider attempts by outcome (success or error kind)",
			},
			[]string{"provider", "outcome"},
		),
		providerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docintel_provider_call_duration_seconds",
				Help:    "Provider call latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docintel_provider_probes_total",
				Help: "Availability probes by outcome (success or error kind)",
			},
			[]string{"provider", "outcome"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docintel_fallback_total",
				Help: "Stage results synthesized by the fallback, by reason",
			},
			[]string{"stage", "reason"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docintel_stage_duration_seconds",
				Help:    "Pipeline stage latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docintel_runs_total",
				Help: "Completed pipeline runs by document type",
			},
			[]string{"document_type", "synthesized"},
		),
		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docintel_config_reloads_total",
				Help: "Configuration reload attempts",
			},
			[]string{"status"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docintel_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docintel_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.providerAvailable,
		m.providerCalls,
		m.providerLatency,
		m.probes,
		m.fallbacks,
		m.stageDuration,
		m.runsTotal,
		m.configReloads,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// ObserveProviderCall records one provider attempt.
func (m *Metrics) ObserveProviderCall(providerID, outcome string, elapsed time.Duration) {
	m.providerCalls.WithLabelValues(providerID, outcome).Inc()
	m.providerLatency.WithLabelValues(providerID).Observe(elapsed.Seconds())
}

// ObserveProbe records one availability probe.
func (m *Metrics) ObserveProbe(providerID string, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	m.probes.WithLabelValues(providerID, outcome).Inc()
}

// ObserveProviderStatus mirrors registry status changes into the availability gauge.
func (m *Metrics) ObserveProviderStatus(s domain.ProviderStatus) {
	v := 0.0
	if s.Available {
		v = 1.0
	}
	m.providerAvailable.WithLabelValues(s.ProviderID).Set(v)
}

// RecordStage records a finished stage. Synthesized stages also count
// towards the fallback counter under their reason.
func (m *Metrics) RecordStage(s domain.StageSummary) {
	m.stageDuration.WithLabelValues(s.Stage).Observe(float64(s.DurationMs) / 1000)
	if s.IsSynthesized {
		m.fallbacks.WithLabelValues(s.Stage, string(s.FallbackReason)).Inc()
	}
}

// RecordRun records a completed run.
func (m *Metrics) RecordRun(r domain.PipelineRun) {
	m.runsTotal.WithLabelValues(string(r.DocumentType), strconv.FormatBool(r.Synthesized())).Inc()
}

// RecordConfigReload records a configuration reload attempt.
func (m *Metrics) RecordConfigReload(status string) {
	m.configReloads.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency per endpoint.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		endpoint := endpointName(r.URL.Path)
		m.httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(wrapped.statusCode)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// endpointName keeps label cardinality bounded by collapsing run IDs.
func endpointName(path string) string {
	if strings.HasPrefix(path, "/v1/runs/") {
		return "/v1/runs/{id}"
	}
	switch path {
	case "/healthz", "/metrics", "/v1/providers", "/v1/runs", "/v1/process", "/v1/classify":
		return path
	}
	return "other"
}
