package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	globalMetrics *Metrics
	metricsMu     sync.RWMutex
)

// Metrics holds the OpenTelemetry instruments exported through Prometheus.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	chatDuration metric.Float64Histogram
	chatTotal    metric.Int64Counter

	expertDuration metric.Float64Histogram
	expertErrors   metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolTotal    metric.Int64Counter
	toolErrors   metric.Int64Counter

	llmDuration metric.Float64Histogram
	llmErrors   metric.Int64Counter

	embedDuration metric.Float64Histogram
	embedErrors   metric.Int64Counter

	crawlTotal  metric.Int64Counter
	crawlChunks metric.Int64Counter

	httpDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on a private Prometheus registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("github.com/kadirpekel/conclave")

	m := &Metrics{registry: registry, provider: provider}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.chatDuration, "chat_duration_seconds", "Chat request duration in seconds"},
		{&m.expertDuration, "expert_duration_seconds", "Expert invocation duration in seconds"},
		{&m.toolDuration, "tool_duration_seconds", "Tool execution duration in seconds"},
		{&m.llmDuration, "llm_duration_seconds", "LLM request duration in seconds"},
		{&m.embedDuration, "embedding_duration_seconds", "Embedding request duration in seconds"},
		{&m.httpDuration, "http_request_duration_seconds", "HTTP request duration in seconds"},
	}
	for _, h := range histograms {
		if *h.dst, err = meter.Float64Histogram(h.name, metric.WithDescription(h.desc)); err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.chatTotal, "chat_requests", "Chat requests by outcome"},
		{&m.expertErrors, "expert_errors", "Failed expert invocations"},
		{&m.toolTotal, "tool_calls", "Tool calls"},
		{&m.toolErrors, "tool_errors", "Failed tool calls"},
		{&m.llmErrors, "llm_errors", "Failed LLM requests"},
		{&m.embedErrors, "embedding_errors", "Failed embedding requests"},
		{&m.crawlTotal, "crawl_pages", "Crawled pages by status"},
		{&m.crawlChunks, "crawl_chunks", "Chunks persisted by the crawler"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	return m, nil
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordChat records one chat turn. outcome is "answered", "confirm",
// "cancelled" or "error".
func (m *Metrics) RecordChat(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.chatDuration.Record(ctx, d.Seconds(), attrs)
	m.chatTotal.Add(ctx, 1, attrs)
}

func (m *Metrics) RecordExpert(ctx context.Context, expert string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("expert", expert))
	m.expertDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.expertErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordTool(ctx context.Context, tool string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, d.Seconds(), attrs)
	m.toolTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordLLM(ctx context.Context, model string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordEmbedding(ctx context.Context, model string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.embedDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.embedErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordCrawl(ctx context.Context, status string, chunks int) {
	if m == nil {
		return
	}
	m.crawlTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if chunks > 0 {
		m.crawlChunks.Add(ctx, int64(chunks))
	}
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}

// SetGlobalMetrics installs m as the process-wide recorder.
func SetGlobalMetrics(m *Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide recorder, which may be nil.
func GetGlobalMetrics() *Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
