package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func validTestConfig() *Config {
	cfg := &Config{
		LLM: LLMConfig{APIKey: "test-key"},
		Agents: map[string]*AgentConfig{
			"light": {
				Description: "Controls lights.",
				Transport:   TransportLocal,
				Priority:    1,
			},
			"assistant": {
				Description: "General assistant.",
				Transport:   TransportLocal,
				Priority:    100,
			},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestConfig_Defaults(t *testing.T) {
	os.Setenv("OPENAI_API_KEY", "env-key")
	defer os.Unsetenv("OPENAI_API_KEY")

	cfg := &Config{}
	cfg.SetDefaults()

	if got := cfg.Server.Address(); got != "0.0.0.0:8080" {
		t.Errorf("expected address 0.0.0.0:8080, got %s", got)
	}
	if cfg.Server.CardPath != "/.well-known/agent.json" {
		t.Errorf("unexpected card path %s", cfg.Server.CardPath)
	}
	if got := cfg.Request.Timeout(); got != 5*time.Second {
		t.Errorf("expected request timeout 5s, got %v", got)
	}
	if got := cfg.Request.QueueDepth(); got != 8 {
		t.Errorf("expected queue depth 8, got %d", got)
	}
	if cfg.Request.EmptyReply == "" {
		t.Error("expected a default empty-request reply")
	}
	if got := cfg.Router.Timeout(); got != time.Second {
		t.Errorf("expected router timeout 1s, got %v", got)
	}
	if got := cfg.Router.Floor(); got != 0.45 {
		t.Errorf("expected confidence floor 0.45, got %g", got)
	}
	if got := cfg.Router.AdmissionConfidence(); got != 0.7 {
		t.Errorf("expected admission confidence 0.7, got %g", got)
	}
	if cfg.Router.MaxPromptTokens != 3000 {
		t.Errorf("expected maxPromptTokens 3000, got %d", cfg.Router.MaxPromptTokens)
	}
	if !cfg.Cache.IsEnabled() {
		t.Error("expected cache enabled by default")
	}
	if cfg.Cache.MaxEntries != 512 {
		t.Errorf("expected maxEntries 512, got %d", cfg.Cache.MaxEntries)
	}
	if got := cfg.Cache.Threshold(); got != 0.92 {
		t.Errorf("expected similarity threshold 0.92, got %g", got)
	}
	if got := cfg.Cache.TTL(); got != 0 {
		t.Errorf("expected indefinite cache TTL, got %v", got)
	}
	if got := cfg.Session.TTL(); got != 24*time.Hour {
		t.Errorf("expected session TTL 24h, got %v", got)
	}
	if got := cfg.Task.TTL(); got != 48*time.Hour {
		t.Errorf("expected task TTL 48h, got %v", got)
	}
	if cfg.Fallback.AgentID != "assistant" {
		t.Errorf("expected fallback assistant, got %s", cfg.Fallback.AgentID)
	}
	if cfg.Store.Backend != StoreBackendMemory {
		t.Errorf("expected memory store, got %s", cfg.Store.Backend)
	}
	if cfg.LLM.Provider != LLMProviderOpenAI || cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("unexpected llm defaults: %s %s", cfg.LLM.Provider, cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected api key from environment, got %q", cfg.LLM.APIKey)
	}
	if cfg.Embedder.Model != "text-embedding-3-small" || cfg.Embedder.Dimension != 1536 {
		t.Errorf("unexpected embedder defaults: %s %d", cfg.Embedder.Model, cfg.Embedder.Dimension)
	}
	if cfg.Vector.Backend != VectorBackendChromem {
		t.Errorf("expected chromem vector backend, got %s", cfg.Vector.Backend)
	}
	if cfg.Events.BufferSize != 64 || cfg.Events.NATS.IsEnabled() {
		t.Errorf("unexpected events defaults: %d %v", cfg.Events.BufferSize, cfg.Events.NATS.IsEnabled())
	}
	if !cfg.Observability.Metrics.IsEnabled() {
		t.Error("expected metrics enabled by default")
	}
	if cfg.Observability.Tracing.IsEnabled() {
		t.Error("expected tracing disabled by default")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "simple" {
		t.Errorf("unexpected logging defaults: %s %s", cfg.Logging.Level, cfg.Logging.Format)
	}

	// No agents configured seeds the fallback agent.
	agent, ok := cfg.GetAgent("assistant")
	if !ok {
		t.Fatal("expected seeded assistant agent")
	}
	if agent.Transport != TransportLocal || agent.TimeoutMs != 2000 || agent.Priority != 100 {
		t.Errorf("unexpected seeded agent: %+v", agent)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Defaults_OllamaEmbedder(t *testing.T) {
	cfg := &Config{Embedder: EmbedderConfig{Provider: EmbedderProviderOllama}}
	cfg.Embedder.SetDefaults()

	if cfg.Embedder.Model != "nomic-embed-text" {
		t.Errorf("unexpected model %s", cfg.Embedder.Model)
	}
	if cfg.Embedder.Dimension != 768 {
		t.Errorf("unexpected dimension %d", cfg.Embedder.Dimension)
	}
	if cfg.Embedder.Host != "http://localhost:11434" {
		t.Errorf("unexpected host %s", cfg.Embedder.Host)
	}
	if err := cfg.Embedder.Validate(); err != nil {
		t.Errorf("ollama embedder needs no api key: %v", err)
	}
}

func TestConfig_Validate_AgentTimeoutBound(t *testing.T) {
	cfg := validTestConfig()

	// Exactly at the bound: 5000 - 250 leaves no margin.
	cfg.Agents["light"].TimeoutMs = 4750
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for agent timeout at the aggregation bound")
	} else if !strings.Contains(err.Error(), "aggregation margin") {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.Agents["light"].TimeoutMs = 4749
	if err := cfg.Validate(); err != nil {
		t.Errorf("timeout just under the bound should validate: %v", err)
	}
}

func TestConfig_Validate_FallbackMustExist(t *testing.T) {
	cfg := validTestConfig()
	delete(cfg.Agents, "assistant")

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing fallback agent")
	}
	if !strings.Contains(err.Error(), "fallback") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestConfig_Validate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid transport",
			mutate:  func(c *Config) { c.Agents["light"].Transport = "carrier-pigeon" },
			wantErr: "invalid transport",
		},
		{
			name:    "remote without url",
			mutate:  func(c *Config) { c.Agents["light"].Transport = TransportRemote },
			wantErr: "url is required",
		},
		{
			name:    "keyed without key",
			mutate:  func(c *Config) { c.Agents["light"].Transport = TransportKeyed },
			wantErr: "key is required",
		},
		{
			name:    "invalid store backend",
			mutate:  func(c *Config) { c.Store.Backend = "cassandra" },
			wantErr: "invalid backend",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Store.Backend = StoreBackendPostgres },
			wantErr: "dsn is required",
		},
		{
			name:    "invalid llm provider",
			mutate:  func(c *Config) { c.LLM.Provider = "bedrock" },
			wantErr: "invalid provider",
		},
		{
			name:    "missing llm api key",
			mutate:  func(c *Config) { c.LLM.APIKey = "" },
			wantErr: "apiKey is required",
		},
		{
			name:    "similarity threshold out of range",
			mutate:  func(c *Config) { c.Cache.SimilarityThreshold = Float64Ptr(1.5) },
			wantErr: "similarityThreshold",
		},
		{
			name:    "confidence floor out of range",
			mutate:  func(c *Config) { c.Router.ConfidenceFloor = Float64Ptr(-0.1) },
			wantErr: "confidenceFloor",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "invalid level",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = -1 },
			wantErr: "port",
		},
		{
			name:    "sampling rate out of range",
			mutate:  func(c *Config) { c.Observability.Tracing.SamplingRate = Float64Ptr(2.0) },
			wantErr: "samplingRate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_ListAgents(t *testing.T) {
	cfg := validTestConfig()
	cfg.Agents["music"] = &AgentConfig{Transport: TransportLocal}
	cfg.Agents["music"].SetDefaults()

	names := cfg.ListAgents()
	want := []string{"assistant", "light", "music"}
	if len(names) != len(want) {
		t.Fatalf("expected %d agents, got %d", len(want), len(names))
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("position %d: expected %s, got %s", i, name, names[i])
		}
	}
}

func TestDefault_SeedsFallbackAgent(t *testing.T) {
	cfg := Default()

	if len(cfg.Agents) != 1 {
		t.Fatalf("expected exactly the fallback agent, got %d agents", len(cfg.Agents))
	}
	if _, ok := cfg.GetAgent(cfg.Fallback.AgentID); !ok {
		t.Error("fallback agent not seeded")
	}
}
