package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/majordomohq/majordomo/pkg/config"
)

func testLLMConfig(t *testing.T, provider config.LLMProvider, host string) config.LLMConfig {
	t.Helper()
	cfg := config.LLMConfig{Provider: provider, APIKey: "test-key", Host: host}
	cfg.SetDefaults()
	return cfg
}

func TestOpenAIProvider_Generate(t *testing.T) {
	var gotAuth string
	var gotReq map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "The kitchen lights are on."}},
			},
			"usage": map[string]any{"total_tokens": 42},
		})
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(testLLMConfig(t, config.LLMProviderOpenAI, server.URL))
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}

	text, tokens, err := p.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "You are a home assistant."},
		{Role: RoleUser, Content: "Turn on the kitchen lights."},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "The kitchen lights are on." {
		t.Errorf("Generate() text = %q", text)
	}
	if tokens != 42 {
		t.Errorf("Generate() tokens = %d, want 42", tokens)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want Bearer test-key", gotAuth)
	}
	if gotReq["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v, want gpt-4o-mini", gotReq["model"])
	}
	msgs, _ := gotReq["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages length = %d, want 2", len(msgs))
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" {
		t.Errorf("messages[0].role = %v, want system", first["role"])
	}
	if gotReq["max_tokens"] != float64(512) {
		t.Errorf("max_tokens = %v, want 512", gotReq["max_tokens"])
	}
	if _, ok := gotReq["max_completion_tokens"]; ok {
		t.Error("max_completion_tokens should be omitted for gpt-4o-mini")
	}
}

func TestOpenAIProvider_StructuredUsesStrictSchema(t *testing.T) {
	var gotReq map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": `{"agentId":"light","confidence":0.93}`}},
			},
			"usage": map[string]any{"total_tokens": 20},
		})
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(testLLMConfig(t, config.LLMProviderOpenAI, server.URL))
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agentId":    map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number"},
		},
		"required": []string{"agentId", "confidence"},
	}

	text, _, err := p.GenerateStructured(context.Background(), []Message{
		{Role: RoleUser, Content: "Turn on the lights."},
	}, &StructuredOutput{Name: "route_decision", Schema: schema})
	if err != nil {
		t.Fatalf("GenerateStructured() error = %v", err)
	}
	if !strings.Contains(text, `"agentId":"light"`) {
		t.Errorf("GenerateStructured() text = %q", text)
	}

	format, _ := gotReq["response_format"].(map[string]any)
	if format == nil {
		t.Fatal("request has no response_format")
	}
	if format["type"] != "json_schema" {
		t.Errorf("response_format.type = %v, want json_schema", format["type"])
	}
	js, _ := format["json_schema"].(map[string]any)
	if js == nil {
		t.Fatal("response_format has no json_schema")
	}
	if js["name"] != "route_decision" {
		t.Errorf("json_schema.name = %v, want route_decision", js["name"])
	}
	if js["strict"] != true {
		t.Errorf("json_schema.strict = %v, want true", js["strict"])
	}
}

func TestOpenAIProvider_ReasoningModelTokenField(t *testing.T) {
	var gotReq map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "ok"}},
			},
			"usage": map[string]any{"total_tokens": 5},
		})
	}))
	defer server.Close()

	cfg := testLLMConfig(t, config.LLMProviderOpenAI, server.URL)
	cfg.Model = "gpt-5-mini"

	p, err := NewOpenAIProvider(cfg)
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	if _, _, err := p.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if gotReq["max_completion_tokens"] != float64(512) {
		t.Errorf("max_completion_tokens = %v, want 512", gotReq["max_completion_tokens"])
	}
	if _, ok := gotReq["max_tokens"]; ok {
		t.Error("max_tokens should be omitted for reasoning models")
	}
	if gotReq["temperature"] != float64(1) {
		t.Errorf("temperature = %v, want 1 for reasoning models", gotReq["temperature"])
	}
}

func TestOpenAIProvider_APIErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "you must provide a model parameter",
				"type":    "invalid_request_error",
			},
		})
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(testLLMConfig(t, config.LLMProviderOpenAI, server.URL))
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}

	_, _, err = p.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if err == nil {
		t.Fatal("Generate() should surface API errors")
	}
	if !strings.Contains(err.Error(), "you must provide a model parameter") {
		t.Errorf("Generate() error = %v, want provider message", err)
	}
}

func TestAnthropicProvider_Generate(t *testing.T) {
	var gotKey, gotVersion string
	var gotReq map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "I've set the thermostat to 22 degrees."},
			},
			"usage": map[string]any{"input_tokens": 30, "output_tokens": 12},
		})
	}))
	defer server.Close()

	p, err := NewAnthropicProvider(testLLMConfig(t, config.LLMProviderAnthropic, server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	text, tokens, err := p.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "You are a home assistant."},
		{Role: RoleUser, Content: "Set the thermostat to 22."},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "I've set the thermostat to 22 degrees." {
		t.Errorf("Generate() text = %q", text)
	}
	if tokens != 42 {
		t.Errorf("Generate() tokens = %d, want 42", tokens)
	}

	if gotKey != "test-key" {
		t.Errorf("x-api-key = %q, want test-key", gotKey)
	}
	if gotVersion != anthropicVersion {
		t.Errorf("anthropic-version = %q, want %s", gotVersion, anthropicVersion)
	}
	if gotReq["system"] != "You are a home assistant." {
		t.Errorf("system = %v, want the system turn", gotReq["system"])
	}
	msgs, _ := gotReq["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages length = %d, want 1 (system turn moves out)", len(msgs))
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "user" {
		t.Errorf("messages[0].role = %v, want user", first["role"])
	}
}

func TestAnthropicProvider_StructuredPrefill(t *testing.T) {
	var gotReq map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": `"agentId":"light","confidence":0.9}`},
			},
			"usage": map[string]any{"input_tokens": 10, "output_tokens": 8},
		})
	}))
	defer server.Close()

	p, err := NewAnthropicProvider(testLLMConfig(t, config.LLMProviderAnthropic, server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	schema := map[string]any{"type": "object"}
	text, _, err := p.GenerateStructured(context.Background(), []Message{
		{Role: RoleUser, Content: "Turn on the lights."},
	}, &StructuredOutput{Schema: schema})
	if err != nil {
		t.Fatalf("GenerateStructured() error = %v", err)
	}

	if text != `{"agentId":"light","confidence":0.9}` {
		t.Errorf("GenerateStructured() text = %q, want prefill prepended", text)
	}

	system, _ := gotReq["system"].(string)
	if !strings.Contains(system, "valid JSON") {
		t.Errorf("system = %q, want schema instructions", system)
	}
	msgs, _ := gotReq["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages length = %d, want user turn plus prefill", len(msgs))
	}
	last, _ := msgs[1].(map[string]any)
	if last["role"] != "assistant" || last["content"] != "{" {
		t.Errorf("last message = %v, want assistant prefill {", last)
	}
}

func TestAnthropicProvider_APIErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "invalid_request_error",
				"message": "max_tokens is required",
			},
		})
	}))
	defer server.Close()

	p, err := NewAnthropicProvider(testLLMConfig(t, config.LLMProviderAnthropic, server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	_, _, err = p.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if err == nil {
		t.Fatal("Generate() should surface API errors")
	}
	if !strings.Contains(err.Error(), "max_tokens is required") {
		t.Errorf("Generate() error = %v, want provider message", err)
	}
}

func TestNew_ProviderSwitch(t *testing.T) {
	p, err := New(testLLMConfig(t, config.LLMProviderOpenAI, ""))
	if err != nil {
		t.Fatalf("New(openai) error = %v", err)
	}
	if p.ModelName() != "gpt-4o-mini" {
		t.Errorf("ModelName() = %q, want gpt-4o-mini", p.ModelName())
	}

	p, err = New(testLLMConfig(t, config.LLMProviderAnthropic, ""))
	if err != nil {
		t.Fatalf("New(anthropic) error = %v", err)
	}
	if p.ModelName() != "claude-3-5-haiku-20241022" {
		t.Errorf("ModelName() = %q, want claude-3-5-haiku-20241022", p.ModelName())
	}

	if _, err := New(config.LLMConfig{Provider: "bedrock", APIKey: "k"}); err == nil {
		t.Error("New(bedrock) should fail for unknown provider")
	}

	if _, err := New(config.LLMConfig{Provider: config.LLMProviderOpenAI}); err == nil {
		t.Error("New() without API key should fail")
	}
}
