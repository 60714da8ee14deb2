package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/majordomohq/majordomo/pkg/config"
	"github.com/majordomohq/majordomo/pkg/httpclient"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider calls the Anthropic messages API. The API has no
// server-side schema enforcement, so structured generation embeds the
// schema in the system prompt and steers with an assistant prefill.
type AnthropicProvider struct {
	client  *httpclient.Client
	cfg     config.LLMConfig
	baseURL string
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewAnthropicProvider creates an Anthropic-backed provider.
func NewAnthropicProvider(cfg config.LLMConfig, opts ...httpclient.Option) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic")
	}

	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	clientOpts := []httpclient.Option{
		httpclient.WithTimeout(cfg.Timeout()),
		httpclient.WithMaxRetries(cfg.Retries()),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
	}
	clientOpts = append(clientOpts, opts...)

	return &AnthropicProvider{
		client:  httpclient.New(clientOpts...),
		cfg:     cfg,
		baseURL: baseURL,
	}, nil
}

// Generate returns the model's reply and total tokens used.
func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message) (string, int, error) {
	return p.complete(ctx, p.buildRequest(messages))
}

// GenerateStructured embeds the schema in the system prompt and
// prefills the assistant turn so the reply starts as JSON. The prefill
// is prepended to the returned text.
func (p *AnthropicProvider) GenerateStructured(ctx context.Context, messages []Message, output *StructuredOutput) (string, int, error) {
	req := p.buildRequest(messages)

	prefill := ""
	if output != nil {
		if schemaPrompt := schemaSystemPrompt(output.Schema); schemaPrompt != "" {
			if req.System != "" {
				req.System = req.System + "\n\n" + schemaPrompt
			} else {
				req.System = schemaPrompt
			}
		}

		prefill = "{"
		if output.Prefill != "" {
			prefill = output.Prefill
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: "assistant", Content: prefill})
	}

	text, tokens, err := p.complete(ctx, req)
	if err != nil {
		return "", tokens, err
	}
	return prefill + text, tokens, nil
}

// buildRequest maps conversation turns onto the wire format. System
// turns move to the dedicated system field; the messages list only
// accepts user and assistant roles.
func (p *AnthropicProvider) buildRequest(messages []Message) anthropicRequest {
	var systemParts []string
	wire := make([]anthropicMessage, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
			continue
		}
		wire = append(wire, anthropicMessage{Role: string(msg.Role), Content: msg.Content})
	}

	temperature := 0.0
	if p.cfg.Temperature != nil {
		temperature = *p.cfg.Temperature
	}

	return anthropicRequest{
		Model:       p.cfg.Model,
		Messages:    wire,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: temperature,
		System:      strings.Join(systemParts, "\n\n"),
	}
}

func (p *AnthropicProvider) complete(ctx context.Context, request anthropicRequest) (string, int, error) {
	reqBody, err := json.Marshal(request)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	// Non-2xx statuses come back as a response plus an error; the body
	// carries the provider's diagnostics.
	resp, err := p.client.Do(httpReq)
	if resp == nil {
		return "", 0, fmt.Errorf("failed to send request to Anthropic: %w", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return "", 0, fmt.Errorf("failed to read response: %w", readErr)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp anthropicResponse
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error != nil {
			return "", 0, fmt.Errorf("Anthropic API error: %s (type: %s)",
				errorResp.Error.Message, errorResp.Error.Type)
		}
		return "", 0, fmt.Errorf("Anthropic API returned status %d: %s", resp.StatusCode, string(body))
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to send request to Anthropic: %w", err)
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", 0, fmt.Errorf("failed to decode response: %w", err)
	}

	if response.Error != nil {
		return "", 0, fmt.Errorf("Anthropic API error: %s (type: %s)", response.Error.Message, response.Error.Type)
	}

	var text strings.Builder
	for _, content := range response.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}

	tokens := response.Usage.InputTokens + response.Usage.OutputTokens
	return text.String(), tokens, nil
}

// ModelName identifies the configured model.
func (p *AnthropicProvider) ModelName() string {
	return p.cfg.Model
}

// Close releases provider resources.
func (p *AnthropicProvider) Close() error {
	return nil
}

func schemaSystemPrompt(schema map[string]any) string {
	if schema == nil {
		return ""
	}

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return ""
	}

	return fmt.Sprintf(`You must respond with valid JSON matching this exact schema:

%s

Important:
- Output ONLY valid JSON, no other text
- All required fields must be present
- Follow the exact structure specified
- Use correct data types for each field`, string(schemaJSON))
}

var _ Provider = (*AnthropicProvider)(nil)
