package observability

import (
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// initMetrics builds the Prometheus pipeline on a private registry so
// re-initialization (config reload, tests) never trips duplicate
// registration.
func initMetrics() (*PrometheusRecorder, http.Handler, error) {
	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("majordomo")

	recorder, err := newRecorder(meter)
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return recorder, handler, nil
}

func newRecorder(meter metric.Meter) (*PrometheusRecorder, error) {
	var r PrometheusRecorder
	var err error

	if r.requestDuration, err = meter.Float64Histogram(
		"majordomo_request_duration_seconds",
		metric.WithDescription("End-to-end request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("creating request duration histogram: %w", err)
	}
	if r.requestsTotal, err = meter.Int64Counter(
		"majordomo_requests_total",
		metric.WithDescription("Total requests by outcome"),
	); err != nil {
		return nil, fmt.Errorf("creating requests counter: %w", err)
	}

	if r.routingDuration, err = meter.Float64Histogram(
		"majordomo_routing_duration_seconds",
		metric.WithDescription("Routing decision duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("creating routing duration histogram: %w", err)
	}
	if r.routingTotal, err = meter.Int64Counter(
		"majordomo_routing_total",
		metric.WithDescription("Total routing decisions by source"),
	); err != nil {
		return nil, fmt.Errorf("creating routing counter: %w", err)
	}

	if r.cacheLookupsTotal, err = meter.Int64Counter(
		"majordomo_cache_lookups_total",
		metric.WithDescription("Prompt cache lookups by outcome"),
	); err != nil {
		return nil, fmt.Errorf("creating cache lookups counter: %w", err)
	}

	if r.agentDuration, err = meter.Float64Histogram(
		"majordomo_agent_invocation_duration_seconds",
		metric.WithDescription("Agent invocation duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("creating agent duration histogram: %w", err)
	}
	if r.agentTotal, err = meter.Int64Counter(
		"majordomo_agent_invocations_total",
		metric.WithDescription("Total agent invocations"),
	); err != nil {
		return nil, fmt.Errorf("creating agent invocations counter: %w", err)
	}
	if r.agentErrorsTotal, err = meter.Int64Counter(
		"majordomo_agent_errors_total",
		metric.WithDescription("Total failed agent invocations"),
	); err != nil {
		return nil, fmt.Errorf("creating agent errors counter: %w", err)
	}

	if r.llmDuration, err = meter.Float64Histogram(
		"majordomo_llm_request_duration_seconds",
		metric.WithDescription("Language model request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("creating llm duration histogram: %w", err)
	}
	if r.llmTokensTotal, err = meter.Int64Counter(
		"majordomo_llm_tokens_total",
		metric.WithDescription("Total tokens reported by the language model"),
	); err != nil {
		return nil, fmt.Errorf("creating llm tokens counter: %w", err)
	}
	if r.llmErrorsTotal, err = meter.Int64Counter(
		"majordomo_llm_errors_total",
		metric.WithDescription("Total failed language model calls"),
	); err != nil {
		return nil, fmt.Errorf("creating llm errors counter: %w", err)
	}

	if r.httpDuration, err = meter.Float64Histogram(
		"majordomo_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("creating http duration histogram: %w", err)
	}
	if r.httpTotal, err = meter.Int64Counter(
		"majordomo_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	); err != nil {
		return nil, fmt.Errorf("creating http requests counter: %w", err)
	}

	return &r, nil
}
