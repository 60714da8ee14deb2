// Package config defines the majordomo configuration surface and its
// loading pipeline. Every section follows the same contract: a
// SetDefaults method that fills absent values and a Validate method
// that rejects inconsistent ones. The root Config cascades both over
// all sections, so a loaded configuration is always fully populated
// before the runtime sees it.
package config

import (
	"fmt"
	"sort"
)

// aggregationMargin is the headroom the driver needs between the
// slowest agent deadline and the overall request deadline. Agent
// timeouts that leave less than this are rejected at validation time.
const aggregationMarginMs = 250

// Config is the root of the majordomo configuration tree.
type Config struct {
	Server        ServerConfig            `yaml:"server,omitempty"`
	Request       RequestConfig           `yaml:"request,omitempty"`
	Router        RouterConfig            `yaml:"router,omitempty"`
	Cache         CacheConfig             `yaml:"cache,omitempty"`
	Session       SessionConfig           `yaml:"session,omitempty"`
	Task          TaskConfig              `yaml:"task,omitempty"`
	Fallback      FallbackConfig          `yaml:"fallback,omitempty"`
	Store         StoreConfig             `yaml:"store,omitempty"`
	LLM           LLMConfig               `yaml:"llm,omitempty"`
	Embedder      EmbedderConfig          `yaml:"embedder,omitempty"`
	Vector        VectorConfig            `yaml:"vector,omitempty"`
	Events        EventsConfig            `yaml:"events,omitempty"`
	Observability ObservabilityConfig     `yaml:"observability,omitempty"`
	Logging       LoggingConfig           `yaml:"logging,omitempty"`
	TLS           TLSConfig               `yaml:"tls,omitempty"`
	Agents        map[string]*AgentConfig `yaml:"agent,omitempty"`
}

// SetDefaults fills every absent value in the tree. When no agents are
// configured at all, the fallback agent is seeded as a local agent so
// that routing always has a target.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Request.SetDefaults()
	c.Router.SetDefaults()
	c.Cache.SetDefaults()
	c.Session.SetDefaults()
	c.Task.SetDefaults()
	c.Fallback.SetDefaults()
	c.Store.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.Events.SetDefaults()
	c.Observability.SetDefaults()
	c.Logging.SetDefaults()
	c.TLS.SetDefaults()

	if c.Agents == nil {
		c.Agents = make(map[string]*AgentConfig)
	}

	if len(c.Agents) == 0 {
		c.Agents[c.Fallback.AgentID] = &AgentConfig{
			Description: "General assistant for anything the other agents do not cover.",
			Transport:   TransportLocal,
			Priority:    100,
		}
	}

	for name := range c.Agents {
		if c.Agents[name] != nil {
			c.Agents[name].SetDefaults()
		}
	}
}

// Validate checks the whole tree and then the cross-references between
// sections. It reports the first failure with the owning section named
// in the error.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Request.Validate(); err != nil {
		return fmt.Errorf("request: %w", err)
	}
	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Task.Validate(); err != nil {
		return fmt.Errorf("task: %w", err)
	}
	if err := c.Fallback.Validate(); err != nil {
		return fmt.Errorf("fallback: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	for name, agent := range c.Agents {
		if agent == nil {
			continue
		}
		if err := agent.Validate(); err != nil {
			return fmt.Errorf("agent '%s': %w", name, err)
		}
	}

	return c.validateReferences()
}

// validateReferences checks constraints that span sections: the
// fallback agent must be configured, and every agent deadline must
// leave the driver room to aggregate before the request deadline.
func (c *Config) validateReferences() error {
	if _, ok := c.Agents[c.Fallback.AgentID]; !ok {
		return fmt.Errorf("fallback: agent '%s' is not configured", c.Fallback.AgentID)
	}

	for name, agent := range c.Agents {
		if agent == nil {
			continue
		}
		if agent.TimeoutMs >= c.Request.TimeoutMs-aggregationMarginMs {
			return fmt.Errorf("agent '%s': timeoutMs %d must be less than request.timeoutMs %d minus a %d ms aggregation margin",
				name, agent.TimeoutMs, c.Request.TimeoutMs, aggregationMarginMs)
		}
	}

	return nil
}

// GetAgent returns the configured agent by name.
func (c *Config) GetAgent(name string) (*AgentConfig, bool) {
	agent, ok := c.Agents[name]
	return agent, ok
}

// ListAgents returns the configured agent names in a stable order.
func (c *Config) ListAgents() []string {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns a fully defaulted configuration with only the
// fallback agent configured. Used when no config file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// BoolPtr returns a pointer to b. Convenience for the pointer-typed
// toggle fields.
func BoolPtr(b bool) *bool {
	return &b
}

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 {
	return &f
}

// IntPtr returns a pointer to i.
func IntPtr(i int) *int {
	return &i
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
