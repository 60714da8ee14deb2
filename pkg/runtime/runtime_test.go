package runtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majordomohq/majordomo/pkg/a2a"
	"github.com/majordomohq/majordomo/pkg/agent"
	"github.com/majordomohq/majordomo/pkg/config"
)

// modelServer fakes the OpenAI chat completions endpoint. Structured
// calls (routing) are answered with decision, plain calls (the
// assistant handler) with reply.
func modelServer(t *testing.T, decision, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req struct {
			ResponseFormat json.RawMessage `json:"response_format"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		content := reply
		if len(req.ResponseFormat) > 0 {
			content = decision
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"total_tokens": 7},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// baseConfig needs no external services: memory store, no cache, no
// metrics, and the model pointed at the fake endpoint.
func baseConfig(modelHost string) *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Cache.Enabled = config.BoolPtr(false)
	cfg.Observability.Metrics.Enabled = config.BoolPtr(false)
	cfg.LLM.APIKey = "test-key"
	cfg.LLM.Host = modelHost
	return cfg
}

func TestRuntime_ProcessEndToEnd(t *testing.T) {
	model := modelServer(t,
		`{"agentId":"assistant","reasoning":"general request","confidence":0.9}`,
		"Hello! How can I help around the house?")
	cfg := baseConfig(model.URL)

	rt, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	require.Equal(t, 1, rt.Registry().Count())
	d, ok := rt.Registry().Get("assistant")
	require.True(t, ok)
	require.NotNil(t, d.Handler, "fallback agent should get the model-backed handler")

	res, err := rt.Driver().Process(context.Background(), a2a.NewUserMessage("good morning", "ctx-rt"), nil)
	require.NoError(t, err)
	require.NotNil(t, res.Message)
	assert.Equal(t, "Hello! How can I help around the house?", a2a.Text(res.Message))
}

func TestRuntime_BoundLocalAgentServesRequests(t *testing.T) {
	model := modelServer(t,
		`{"agentId":"light","reasoning":"lighting request","confidence":0.95}`,
		"unused")
	cfg := baseConfig(model.URL)
	cfg.Agents = map[string]*config.AgentConfig{
		"light":     {Description: "Lighting control", Transport: config.TransportLocal, Priority: 1},
		"assistant": {Description: "General assistant", Transport: config.TransportLocal, Priority: 100},
	}

	rt, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	err = rt.BindHandler("light", agent.HandlerFunc(func(ctx context.Context, req agent.Request) (agent.Reply, error) {
		return agent.TextReply("The lights are on."), nil
	}))
	require.NoError(t, err)

	res, err := rt.Driver().Process(context.Background(), a2a.NewUserMessage("turn on the lights", "ctx-bind"), nil)
	require.NoError(t, err)
	require.NotNil(t, res.Message)
	assert.Equal(t, "The lights are on.", a2a.Text(res.Message))
}

func TestRuntime_BindHandlerValidatesTarget(t *testing.T) {
	model := modelServer(t, `{"agentId":"assistant","reasoning":"x","confidence":0.9}`, "ok")
	cfg := baseConfig(model.URL)
	cfg.Agents = map[string]*config.AgentConfig{
		"timer":     {Description: "Timers", Transport: config.TransportKeyed, Key: "timer-service"},
		"assistant": {Description: "General assistant", Transport: config.TransportLocal, Priority: 100},
	}

	rt, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	noop := agent.HandlerFunc(func(ctx context.Context, req agent.Request) (agent.Reply, error) {
		return agent.TextReply("ok"), nil
	})

	assert.Error(t, rt.BindHandler("ghost", noop))
	assert.Error(t, rt.BindHandler("timer", noop), "keyed agents bind through RegisterHandler")
	assert.NoError(t, rt.RegisterHandler("timer-service", noop))
}

func TestRuntime_RemoteCardIngestion(t *testing.T) {
	cardSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != a2a.WellKnownCardPath {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(a2a.AgentCard{
			Name:               "music",
			Description:        "Plays and controls music.",
			URL:                "http://music.local/",
			PreferredTransport: a2a.TransportJSONRPC,
			Capabilities:       a2a.AgentCapabilities{StateTransitionHistory: true},
			Skills:             []a2a.AgentSkill{{ID: "play", Name: "play"}},
		})
	}))
	t.Cleanup(cardSrv.Close)

	model := modelServer(t, `{"agentId":"assistant","reasoning":"x","confidence":0.9}`, "ok")
	cfg := baseConfig(model.URL)
	cfg.Agents = map[string]*config.AgentConfig{
		"music":     {Description: "configured text", Transport: config.TransportRemote, URL: cardSrv.URL},
		"assistant": {Description: "General assistant", Transport: config.TransportLocal, Priority: 100},
	}

	rt, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	d, ok := rt.Registry().Get("music")
	require.True(t, ok)
	assert.Equal(t, "Plays and controls music.", d.Description, "the card description wins")
	assert.True(t, d.StateHistory)
	require.Len(t, d.Skills, 1)
	assert.Equal(t, "play", d.Skills[0].ID)
}

func TestRuntime_UnreachableRemoteSkippedThenRefreshed(t *testing.T) {
	var serving atomic.Bool
	cardSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !serving.Load() || r.URL.Path != a2a.WellKnownCardPath {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(a2a.AgentCard{
			Name:               "music",
			Description:        "Plays and controls music.",
			URL:                "http://music.local/",
			PreferredTransport: a2a.TransportJSONRPC,
		})
	}))
	t.Cleanup(cardSrv.Close)

	model := modelServer(t, `{"agentId":"assistant","reasoning":"x","confidence":0.9}`, "ok")
	cfg := baseConfig(model.URL)
	cfg.Agents = map[string]*config.AgentConfig{
		"music":     {Description: "configured text", Transport: config.TransportRemote, URL: cardSrv.URL},
		"assistant": {Description: "General assistant", Transport: config.TransportLocal, Priority: 100},
	}

	rt, err := New(context.Background(), cfg, nil)
	require.NoError(t, err, "an unreachable peer must not fail startup")
	t.Cleanup(func() { _ = rt.Close() })

	_, ok := rt.Registry().Get("music")
	assert.False(t, ok, "agent without a card stays unregistered")
	assert.Equal(t, 1, rt.Registry().Count())

	err = rt.RefreshCards(context.Background())
	require.Error(t, err, "refresh surfaces the fetch failure")

	serving.Store(true)
	require.NoError(t, rt.RefreshCards(context.Background()))
	d, ok := rt.Registry().Get("music")
	require.True(t, ok)
	assert.Equal(t, "Plays and controls music.", d.Description)
}

func TestRuntime_CacheEnabledBuildsSemanticPath(t *testing.T) {
	model := modelServer(t, `{"agentId":"assistant","reasoning":"x","confidence":0.9}`, "ok")
	cfg := baseConfig(model.URL)
	cfg.Cache.Enabled = config.BoolPtr(true)
	cfg.Embedder.Provider = config.EmbedderProviderOllama

	rt, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	stats := rt.Cache().Stats()
	assert.True(t, stats.Enabled)
	assert.Equal(t, 0, stats.Entries)
}

func TestRuntime_ApplySwapsSafeSettings(t *testing.T) {
	model := modelServer(t, `{"agentId":"assistant","reasoning":"x","confidence":0.9}`, "ok")
	cfg := baseConfig(model.URL)

	rt, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	next := baseConfig(model.URL)
	next.Router.ConfidenceFloor = config.Float64Ptr(0.6)
	next.Request.TimeoutMs = 7000
	require.NoError(t, rt.Apply(next))
	assert.Equal(t, 0.6, rt.Config().Router.Floor())
	assert.Equal(t, 7000, rt.Config().Request.TimeoutMs)

	bad := baseConfig(model.URL)
	bad.Router.ConfidenceFloor = config.Float64Ptr(1.5)
	assert.Error(t, rt.Apply(bad))
	assert.Error(t, rt.Apply(nil))
}

func TestRuntime_RejectsInvalidConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Store.Backend = "bolt"
	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store")
}
