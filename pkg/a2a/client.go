package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/majordomohq/majordomo/pkg/httpclient"
)

// Client speaks the A2A JSON-RPC dialect to one remote agent endpoint.
// Transient transport failures get a single quick retry; anything past
// that is the caller's problem to degrade.
type Client struct {
	endpoint string
	http     *httpclient.Client
	nextID   atomic.Int64
}

type ClientOption func(*Client)

// WithHTTPClient overrides the underlying retrying HTTP client.
func WithHTTPClient(hc *httpclient.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient builds a client for the given JSON-RPC endpoint URL.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http: httpclient.New(
			httpclient.WithMaxRetries(1),
			httpclient.WithBaseDelay(100*time.Millisecond),
		),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the JSON-RPC endpoint URL this client targets.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// SendMessage invokes message/send and returns the message-or-task
// union result.
func (c *Client) SendMessage(ctx context.Context, params MessageSendParams) (*SendMessageResult, error) {
	raw, err := c.call(ctx, MethodMessageSend, params)
	if err != nil {
		return nil, err
	}

	var result SendMessageResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode message/send result: %w", err)
	}
	return &result, nil
}

// GetTask invokes tasks/get for the given task ID.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	raw, err := c.call(ctx, MethodTasksGet, TaskQueryParams{ID: taskID})
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}

// CancelTask invokes tasks/cancel for the given task ID.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*Task, error) {
	raw, err := c.call(ctx, MethodTasksCancel, TaskCancelParams{ID: taskID})
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("failed to decode cancelled task: %w", err)
	}
	return &task, nil
}

// FetchAgentCard fetches the agent card from the endpoint's well-known
// path, deriving the card URL from the endpoint base.
func (c *Client) FetchAgentCard(ctx context.Context) (*AgentCard, error) {
	return FetchAgentCard(ctx, c.http, CardURL(c.endpoint))
}

// call runs one JSON-RPC round trip and unwraps the result.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	rpcReq, err := NewRequest(c.nextID.Add(1), method, params)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Non-2xx statuses come back as a response plus an error; the body
	// is the better diagnostic.
	resp, err := c.http.Do(httpReq)
	if resp == nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s returned HTTP %d: %s", method, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", method, err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	if rpcResp.Result == nil {
		return nil, fmt.Errorf("%s returned neither result nor error", method)
	}
	return rpcResp.Result, nil
}

// CardURL derives the well-known agent card URL from an endpoint URL.
func CardURL(endpoint string) string {
	base := strings.TrimRight(endpoint, "/")
	return base + WellKnownCardPath
}

// FetchAgentCard fetches and decodes an agent card from cardURL.
func FetchAgentCard(ctx context.Context, hc *httpclient.Client, cardURL string) (*AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create card request: %w", err)
	}

	resp, err := hc.Do(req)
	if resp == nil {
		return nil, fmt.Errorf("failed to fetch agent card: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent card fetch returned HTTP %d", resp.StatusCode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent card: %w", err)
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("failed to decode agent card: %w", err)
	}

	if card.Name == "" || card.URL == "" {
		return nil, fmt.Errorf("malformed agent card: name and url are required")
	}
	return &card, nil
}
