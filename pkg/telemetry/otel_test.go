package telemetry

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"

	"github.com/polisai/polis-docintel/pkg/domain"
)

// traceCollector is an in-process OTLP/gRPC trace endpoint.
type traceCollector struct {
	collectortrace.UnimplementedTraceServiceServer

	mu            sync.Mutex
	resourceSpans []*tracepb.ResourceSpans
	notify        chan struct{}
}

func startTraceCollector(t *testing.T) (*traceCollector, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	c := &traceCollector{notify: make(chan struct{}, 1)}
	server := grpc.NewServer()
	collectortrace.RegisterTraceServiceServer(server, c)
	go func() { _ = server.Serve(lis) }()

	t.Cleanup(func() {
		server.Stop()
		_ = lis.Close()
	})
	return c, lis.Addr().String()
}

func (c *traceCollector) Export(_ context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	c.mu.Lock()
	c.resourceSpans = append(c.resourceSpans, req.ResourceSpans...)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return &collectortrace.ExportTraceServiceResponse{}, nil
}

func (c *traceCollector) waitForSpans(ctx context.Context, n int) ([]*tracepb.ResourceSpans, []*tracepb.Span) {
	for {
		c.mu.Lock()
		var spans []*tracepb.Span
		for _, rs := range c.resourceSpans {
			for _, scope := range rs.ScopeSpans {
				spans = append(spans, scope.Spans...)
			}
		}
		if len(spans) >= n {
			rs := c.resourceSpans
			c.mu.Unlock()
			return rs, spans
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, nil
		case <-c.notify:
		}
	}
}

func TestSetupProviderExportsStageSpans(t *testing.T) {
	collector, addr := startTraceCollector(t)

	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := context.Background()
	shutdown, err := SetupProvider(ctx, Config{
		ServiceName:  "docintel-test",
		Endpoint:     addr,
		Insecure:     true,
		ResourceTags: map[string]string{"team": "trade"},
	})
	require.NoError(t, err)

	_, span := StartStage(ctx, domain.StageExtraction, string(domain.DocumentInvoice))
	EndStage(span, StageMetrics{ProviderID: "openai", ConfidenceOrScore: 91})
	require.NoError(t, shutdown(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resources, spans := collector.waitForSpans(waitCtx, 1)
	require.NotEmpty(t, spans)
	assert.Equal(t, "pipeline.extraction", spans[0].Name)

	attrs := map[string]string{}
	for _, kv := range resources[0].Resource.Attributes {
		attrs[kv.Key] = kv.Value.GetStringValue()
	}
	assert.Equal(t, "docintel-test", attrs["service.name"])
	assert.Equal(t, "trade", attrs["team"])
}
