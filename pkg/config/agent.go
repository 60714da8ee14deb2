package config

import (
	"fmt"
	"net/url"
	"time"
)

// AgentTransport selects how an agent is reached.
type AgentTransport string

const (
	// TransportLocal runs the agent in process.
	TransportLocal AgentTransport = "local"

	// TransportRemote dials a JSON-RPC endpoint directly.
	TransportRemote AgentTransport = "remote"

	// TransportKeyed resolves an opaque key to an endpoint through
	// the locator at invocation time.
	TransportKeyed AgentTransport = "keyed"
)

// AgentConfig describes one routable agent.
type AgentConfig struct {
	// Description is what the router reads when deciding where a
	// request belongs. Make it concrete.
	Description string `yaml:"description,omitempty"`

	// Transport selects local, remote, or keyed dispatch.
	Transport AgentTransport `yaml:"transport,omitempty"`

	// URL of the remote JSON-RPC endpoint. Required for remote
	// transport.
	URL string `yaml:"url,omitempty"`

	// Key resolved by the locator. Required for keyed transport.
	Key string `yaml:"key,omitempty"`

	// TimeoutMs bounds a single invocation of this agent.
	TimeoutMs int `yaml:"timeoutMs,omitempty"`

	// Priority orders responses in a combined reply; lower comes
	// first. Ties break by arrival time.
	Priority int `yaml:"priority,omitempty"`

	// LongRunning declares that this agent may answer with a task
	// that outlives the request. An undeclared long-running answer
	// is a contract violation.
	LongRunning bool `yaml:"longRunning,omitempty"`
}

func (c *AgentConfig) SetDefaults() {
	if c.Transport == "" {
		c.Transport = TransportLocal
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 2000
	}
	if c.Priority == 0 {
		c.Priority = 100
	}
}

func (c *AgentConfig) Validate() error {
	switch c.Transport {
	case TransportLocal:
	case TransportRemote:
		if c.URL == "" {
			return fmt.Errorf("url is required for remote transport")
		}
		if _, err := url.ParseRequestURI(c.URL); err != nil {
			return fmt.Errorf("invalid url %q: %w", c.URL, err)
		}
	case TransportKeyed:
		if c.Key == "" {
			return fmt.Errorf("key is required for keyed transport")
		}
	default:
		return fmt.Errorf("invalid transport %q (valid: local, remote, keyed)", c.Transport)
	}

	if c.TimeoutMs < 1 {
		return fmt.Errorf("timeoutMs must be positive, got %d", c.TimeoutMs)
	}
	if c.Priority < 0 {
		return fmt.Errorf("priority must not be negative, got %d", c.Priority)
	}
	return nil
}

// Timeout returns the invocation deadline as a duration.
func (c *AgentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}
