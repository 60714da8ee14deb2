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

// OpenAIProvider calls the OpenAI chat completions API. Structured
// generation uses strict json_schema response formats, which the API
// enforces server-side.
type OpenAIProvider struct {
	client  *httpclient.Client
	cfg     config.LLMConfig
	baseURL string
}

type openaiChatRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`

	// Reasoning models take max_completion_tokens; everything else
	// takes max_tokens. Only one is ever set.
	MaxTokens           *int `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int `json:"max_completion_tokens,omitempty"`

	Temperature    float64               `json:"temperature"`
	ResponseFormat *openaiResponseFormat `json:"response_format,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openaiJSONSchema `json:"json_schema,omitempty"`
}

type openaiJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

type openaiChatResponse struct {
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(cfg config.LLMConfig, opts ...httpclient.Option) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI")
	}

	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	clientOpts := []httpclient.Option{
		httpclient.WithTimeout(cfg.Timeout()),
		httpclient.WithMaxRetries(cfg.Retries()),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	}
	clientOpts = append(clientOpts, opts...)

	return &OpenAIProvider{
		client:  httpclient.New(clientOpts...),
		cfg:     cfg,
		baseURL: baseURL,
	}, nil
}

// Generate returns the model's reply and total tokens used.
func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message) (string, int, error) {
	return p.complete(ctx, p.buildRequest(messages))
}

// GenerateStructured constrains the reply to the given JSON schema.
func (p *OpenAIProvider) GenerateStructured(ctx context.Context, messages []Message, output *StructuredOutput) (string, int, error) {
	req := p.buildRequest(messages)

	if output != nil {
		if output.Schema != nil {
			name := output.Name
			if name == "" {
				name = "response"
			}
			req.ResponseFormat = &openaiResponseFormat{
				Type: "json_schema",
				JSONSchema: &openaiJSONSchema{
					Name:   name,
					Schema: output.Schema,
					Strict: true,
				},
			}
		} else {
			req.ResponseFormat = &openaiResponseFormat{Type: "json_object"}
		}
	}

	return p.complete(ctx, req)
}

func (p *OpenAIProvider) buildRequest(messages []Message) openaiChatRequest {
	wire := make([]openaiMessage, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, openaiMessage{Role: string(msg.Role), Content: msg.Content})
	}

	reasoning := isReasoningModel(p.cfg.Model)

	// Reasoning models only accept the default temperature.
	temperature := 1.0
	if !reasoning && p.cfg.Temperature != nil {
		temperature = *p.cfg.Temperature
	}

	req := openaiChatRequest{
		Model:       p.cfg.Model,
		Messages:    wire,
		Temperature: temperature,
	}

	if p.cfg.MaxTokens > 0 {
		limit := p.cfg.MaxTokens
		if reasoning {
			req.MaxCompletionTokens = &limit
		} else {
			req.MaxTokens = &limit
		}
	}

	return req
}

func (p *OpenAIProvider) complete(ctx context.Context, request openaiChatRequest) (string, int, error) {
	reqBody, err := json.Marshal(request)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	// Non-2xx statuses come back as a response plus an error; the body
	// carries the provider's diagnostics.
	resp, err := p.client.Do(httpReq)
	if resp == nil {
		return "", 0, fmt.Errorf("failed to send request to OpenAI: %w", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return "", 0, fmt.Errorf("failed to read response: %w", readErr)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp struct {
			Error openaiError `json:"error"`
		}
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
			return "", 0, fmt.Errorf("OpenAI API error: %s (type: %s, code: %s)",
				errorResp.Error.Message, errorResp.Error.Type, errorResp.Error.Code)
		}
		return "", 0, fmt.Errorf("OpenAI API returned status %d: %s", resp.StatusCode, string(body))
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to send request to OpenAI: %w", err)
	}

	var response openaiChatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", 0, fmt.Errorf("failed to decode response: %w", err)
	}

	if response.Error != nil {
		return "", 0, fmt.Errorf("OpenAI API error: %s", response.Error.Message)
	}
	if len(response.Choices) == 0 {
		return "", 0, fmt.Errorf("no response choices returned")
	}

	return response.Choices[0].Message.Content, response.Usage.TotalTokens, nil
}

// ModelName identifies the configured model.
func (p *OpenAIProvider) ModelName() string {
	return p.cfg.Model
}

// Close releases provider resources.
func (p *OpenAIProvider) Close() error {
	return nil
}

// isReasoningModel reports whether a model takes max_completion_tokens
// and a fixed temperature (o-series and gpt-5 families).
func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	if m == "o1" || m == "o3" || m == "o4" || m == "gpt-5" {
		return true
	}
	for _, prefix := range []string{"o1-", "o3-", "o4-", "gpt-5-"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

var _ Provider = (*OpenAIProvider)(nil)
