package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/majordomohq/majordomo/pkg/config"
)

func TestPrometheusRecorder_ZeroValueIsNoop(t *testing.T) {
	ctx := context.Background()
	var r *PrometheusRecorder

	// Neither the nil pointer nor the zero value may panic.
	for _, rec := range []*PrometheusRecorder{r, {}} {
		rec.RecordRequest(ctx, "message", time.Second)
		rec.RecordRouting(ctx, "model", time.Millisecond)
		rec.RecordCacheLookup(ctx, "miss")
		rec.RecordAgentInvocation(ctx, "light", false, time.Millisecond)
		rec.RecordLLMCall(ctx, "gpt-4o-mini", 12, time.Millisecond, errors.New("boom"))
		rec.RecordHTTPRequest(ctx, "POST", "/", 200, time.Millisecond)
	}
}

func TestManager_Disabled(t *testing.T) {
	cfg := config.ObservabilityConfig{
		Metrics: config.MetricsConfig{Enabled: config.BoolPtr(false)},
		Tracing: config.TracingConfig{Enabled: config.BoolPtr(false)},
	}
	m := NewManager(cfg, nil)

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if m.MetricsEnabled() {
		t.Error("metrics should be disabled")
	}
	if m.MetricsHandler() != nil {
		t.Error("handler should be nil when metrics are disabled")
	}
	if m.Recorder() == nil {
		t.Error("recorder must never be nil")
	}

	// The no-op tracer still yields working spans.
	_, span := m.Tracer("test").Start(context.Background(), "op")
	span.End()

	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestManager_MetricsScrape(t *testing.T) {
	cfg := config.ObservabilityConfig{
		Metrics: config.MetricsConfig{Enabled: config.BoolPtr(true)},
		Tracing: config.TracingConfig{Enabled: config.BoolPtr(false)},
	}
	m := NewManager(cfg, nil)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ctx := context.Background()
	rec := m.Recorder()
	rec.RecordRequest(ctx, "message", 80*time.Millisecond)
	rec.RecordRouting(ctx, "cache-exact", time.Millisecond)
	rec.RecordCacheLookup(ctx, "exact")
	rec.RecordAgentInvocation(ctx, "light", true, 40*time.Millisecond)

	srv := httptest.NewServer(m.MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{
		"majordomo_requests_total",
		"majordomo_routing_total",
		"majordomo_cache_lookups_total",
		"majordomo_agent_invocations_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("scrape output missing %s", name)
		}
	}
}

func TestManager_ReinitializeAfterReload(t *testing.T) {
	cfg := config.ObservabilityConfig{
		Metrics: config.MetricsConfig{Enabled: config.BoolPtr(true)},
	}

	// Two managers in one process must not collide on registration.
	for i := 0; i < 2; i++ {
		m := NewManager(cfg, nil)
		if err := m.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize #%d: %v", i+1, err)
		}
	}
}

type captureRecorder struct {
	PrometheusRecorder
	method string
	route  string
	status int
}

func (c *captureRecorder) RecordHTTPRequest(_ context.Context, method, route string, status int, _ time.Duration) {
	c.method, c.route, c.status = method, route, status
}

func TestMiddleware_RecordsRequest(t *testing.T) {
	capture := &captureRecorder{}
	setGlobalRecorder(capture)
	defer setGlobalRecorder(&PrometheusRecorder{})

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	if capture.method != "POST" || capture.route != "/rpc" || capture.status != http.StatusTeapot {
		t.Errorf("recorded %s %s %d", capture.method, capture.route, capture.status)
	}
}
