// Package observability wires metrics and tracing for the
// orchestrator. Metrics go out through the OpenTelemetry Prometheus
// exporter on a registry the server exposes at /metrics; traces go to
// an OTLP collector when enabled and to a no-op provider otherwise.
package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/majordomohq/majordomo/pkg/config"
)

// Manager owns the metric and trace pipelines for the process.
type Manager struct {
	mu       sync.RWMutex
	cfg      config.ObservabilityConfig
	recorder Recorder
	provider trace.TracerProvider
	handler  http.Handler
	logger   *slog.Logger
}

// NewManager creates an uninitialized manager. Call Initialize before
// handing it to the server.
func NewManager(cfg config.ObservabilityConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		recorder: &PrometheusRecorder{},
		provider: noop.NewTracerProvider(),
		logger:   logger.With("component", "observability"),
	}
}

// Initialize builds the exporters the configuration asks for. With
// metrics disabled the recorder stays a no-op; with tracing disabled
// the provider stays no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.Metrics.IsEnabled() {
		recorder, handler, err := initMetrics()
		if err != nil {
			return err
		}
		m.recorder = recorder
		m.handler = handler
		m.logger.Info("Metrics enabled")
	}

	provider, err := initTracer(ctx, m.cfg.Tracing)
	if err != nil {
		return err
	}
	m.provider = provider
	if m.cfg.Tracing.IsEnabled() {
		m.logger.Info("Tracing enabled",
			"endpoint", m.cfg.Tracing.Endpoint,
			"samplingRate", m.cfg.Tracing.Rate())
	}

	setGlobalRecorder(m.recorder)
	return nil
}

// Recorder returns the active metric recorder, never nil.
func (m *Manager) Recorder() Recorder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recorder
}

// Tracer returns a named tracer from the active provider.
func (m *Manager) Tracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.provider.Tracer(name)
}

// MetricsEnabled reports whether the /metrics endpoint should be
// mounted.
func (m *Manager) MetricsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler != nil
}

// MetricsHandler returns the Prometheus scrape handler, nil when
// metrics are disabled.
func (m *Manager) MetricsHandler() http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler
}

// Shutdown flushes the trace exporter. Metric reads are pull-based so
// there is nothing to flush there.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.provider.(interface{ Shutdown(context.Context) error }); ok {
		return p.Shutdown(ctx)
	}
	return nil
}
