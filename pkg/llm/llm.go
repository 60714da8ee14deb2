// Package llm provides chat-completion clients for the providers the
// router and local agents generate text with. Two call shapes are
// supported: free-form generation and structured generation, where the
// model is constrained to a JSON schema. Tool calling and streaming
// are not part of this surface.
package llm

import (
	"context"
	"fmt"

	"github.com/majordomohq/majordomo/pkg/config"
	"github.com/majordomohq/majordomo/pkg/httpclient"
)

// Role labels one side of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of model input.
type Message struct {
	Role    Role
	Content string
}

// StructuredOutput constrains a generation to JSON matching a schema.
type StructuredOutput struct {
	// Name labels the schema for providers that require one.
	Name string

	// Schema is a JSON Schema document in map form.
	Schema map[string]any

	// Prefill seeds the assistant turn for providers that steer by
	// prefix. The returned text includes it.
	Prefill string
}

// Provider generates text from conversation turns.
type Provider interface {
	// Generate returns the model's reply and the total tokens used.
	Generate(ctx context.Context, messages []Message) (string, int, error)

	// GenerateStructured returns JSON text conforming to the given
	// schema. Callers still validate the payload; providers differ in
	// how strictly they enforce the schema.
	GenerateStructured(ctx context.Context, messages []Message, output *StructuredOutput) (string, int, error)

	// ModelName identifies the configured model.
	ModelName() string

	// Close releases provider resources.
	Close() error
}

// New creates a provider from configuration. Extra client options
// apply to the underlying HTTP client, after the provider's own.
func New(cfg config.LLMConfig, opts ...httpclient.Option) (Provider, error) {
	switch cfg.Provider {
	case config.LLMProviderOpenAI:
		return NewOpenAIProvider(cfg, opts...)
	case config.LLMProviderAnthropic:
		return NewAnthropicProvider(cfg, opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
