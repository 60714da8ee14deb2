package observability

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder counts the things operators ask about: request volume and
// latency, where routing decisions come from, cache effectiveness,
// per-agent dispatch outcomes and model usage.
type Recorder interface {
	RecordRequest(ctx context.Context, outcome string, d time.Duration)
	RecordRouting(ctx context.Context, source string, d time.Duration)
	RecordCacheLookup(ctx context.Context, outcome string)
	RecordAgentInvocation(ctx context.Context, agent string, success bool, d time.Duration)
	RecordLLMCall(ctx context.Context, model string, tokens int, d time.Duration, err error)
	RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration)
}

var (
	globalRecorder Recorder = &PrometheusRecorder{}
	recorderMu     sync.RWMutex
)

func setGlobalRecorder(r Recorder) {
	recorderMu.Lock()
	defer recorderMu.Unlock()
	globalRecorder = r
}

// GlobalRecorder returns the process-wide recorder. Before a Manager
// initializes one it is a no-op, so callers can record
// unconditionally.
func GlobalRecorder() Recorder {
	recorderMu.RLock()
	defer recorderMu.RUnlock()
	return globalRecorder
}

// PrometheusRecorder implements Recorder on OpenTelemetry
// instruments. The zero value is a valid no-op recorder; every method
// guards against missing instruments.
type PrometheusRecorder struct {
	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter

	routingDuration metric.Float64Histogram
	routingTotal    metric.Int64Counter

	cacheLookupsTotal metric.Int64Counter

	agentDuration    metric.Float64Histogram
	agentTotal       metric.Int64Counter
	agentErrorsTotal metric.Int64Counter

	llmDuration    metric.Float64Histogram
	llmTokensTotal metric.Int64Counter
	llmErrorsTotal metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpTotal    metric.Int64Counter
}

// RecordRequest counts one finished user request. outcome is the
// terminal shape of the reply: message, input-required, working,
// failed or busy.
func (r *PrometheusRecorder) RecordRequest(ctx context.Context, outcome string, d time.Duration) {
	if r == nil || r.requestsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	r.requestsTotal.Add(ctx, 1, attrs)
	r.requestDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordRouting counts one routing decision by source: model,
// cache-exact, cache-semantic or fallback.
func (r *PrometheusRecorder) RecordRouting(ctx context.Context, source string, d time.Duration) {
	if r == nil || r.routingTotal == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("source", source))
	r.routingTotal.Add(ctx, 1, attrs)
	r.routingDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordCacheLookup counts one prompt-cache consult: exact, semantic
// or miss.
func (r *PrometheusRecorder) RecordCacheLookup(ctx context.Context, outcome string) {
	if r == nil || r.cacheLookupsTotal == nil {
		return
	}
	r.cacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordAgentInvocation counts one dispatch branch.
func (r *PrometheusRecorder) RecordAgentInvocation(ctx context.Context, agent string, success bool, d time.Duration) {
	if r == nil || r.agentTotal == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("agent", agent))
	r.agentTotal.Add(ctx, 1, attrs)
	r.agentDuration.Record(ctx, d.Seconds(), attrs)
	if !success {
		r.agentErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordLLMCall counts one model call with its token usage.
func (r *PrometheusRecorder) RecordLLMCall(ctx context.Context, model string, tokens int, d time.Duration, err error) {
	if r == nil || r.llmDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	r.llmDuration.Record(ctx, d.Seconds(), attrs)
	if tokens > 0 {
		r.llmTokensTotal.Add(ctx, int64(tokens), attrs)
	}
	if err != nil {
		r.llmErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordHTTPRequest counts one wire-level request by route pattern.
func (r *PrometheusRecorder) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if r == nil || r.httpTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	r.httpTotal.Add(ctx, 1, attrs)
	r.httpDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
	))
}
