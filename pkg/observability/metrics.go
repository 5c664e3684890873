package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records gateway-level measurements. A nil or zero-valued
// implementation is safe to call.
type Metrics interface {
	RecordToolCall(ctx context.Context, service, tool, code string, duration time.Duration)
	RecordPolicyDecision(ctx context.Context, decision string)
	RecordQueuePublish(ctx context.Context, ok bool)
	RecordContextStore(ctx context.Context, stored, consumed int64)
	RecordHTTPRequest(method, path string, status int, duration time.Duration, reqSize, respSize int64)
}

// PrometheusMetrics implements Metrics over OTel instruments backed by
// the Prometheus exporter.
type PrometheusMetrics struct {
	toolDuration   metric.Float64Histogram
	toolCallsTotal metric.Int64Counter

	policyDecisions metric.Int64Counter

	queuePublishes metric.Int64Counter

	contextsStored   metric.Int64Counter
	contextsConsumed metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
}

// InitMetrics sets up the Prometheus-backed meter provider and the
// gateway instruments. Disabled returns a zero-valued recorder.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("mcp-gateway")

	m := &PrometheusMetrics{}

	m.toolDuration, err = meter.Float64Histogram(
		"gateway_tool_call_duration_seconds",
		metric.WithDescription("End-to-end tool call duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	m.toolCallsTotal, err = meter.Int64Counter(
		"gateway_tool_calls_total",
		metric.WithDescription("Total tool calls by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	m.policyDecisions, err = meter.Int64Counter(
		"gateway_policy_decisions_total",
		metric.WithDescription("Total policy decisions by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy decisions counter: %w", err)
	}

	m.queuePublishes, err = meter.Int64Counter(
		"gateway_queue_publishes_total",
		metric.WithDescription("Total execution queue publish attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue publishes counter: %w", err)
	}

	m.contextsStored, err = meter.Int64Counter(
		"gateway_contexts_stored_total",
		metric.WithDescription("Total execution contexts stored"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create contexts stored counter: %w", err)
	}

	m.contextsConsumed, err = meter.Int64Counter(
		"gateway_contexts_consumed_total",
		metric.WithDescription("Total execution contexts consumed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create contexts consumed counter: %w", err)
	}

	m.httpDuration, err = meter.Float64Histogram(
		"gateway_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	m.httpRequests, err = meter.Int64Counter(
		"gateway_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	return m, nil
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, service, tool, code string, duration time.Duration) {
	if m == nil || m.toolDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("tool", tool),
		attribute.String("code", code),
	}

	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.toolCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *PrometheusMetrics) RecordPolicyDecision(ctx context.Context, decision string) {
	if m == nil || m.policyDecisions == nil {
		return
	}
	m.policyDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

func (m *PrometheusMetrics) RecordQueuePublish(ctx context.Context, ok bool) {
	if m == nil || m.queuePublishes == nil {
		return
	}
	m.queuePublishes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}

func (m *PrometheusMetrics) RecordContextStore(ctx context.Context, stored, consumed int64) {
	if m == nil || m.contextsStored == nil {
		return
	}
	if stored > 0 {
		m.contextsStored.Add(ctx, stored)
	}
	if consumed > 0 {
		m.contextsConsumed.Add(ctx, consumed)
	}
}

func (m *PrometheusMetrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, reqSize, respSize int64) {
	if m == nil || m.httpDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	}

	m.httpDuration.Record(context.Background(), duration.Seconds(), metric.WithAttributes(attrs...))
	m.httpRequests.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
