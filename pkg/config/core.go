package config

import (
	"fmt"
	"strings"
	"time"
)

// ServerConfig configures the HTTP host process.
type ServerConfig struct {
	// Host interface to bind.
	Host string `yaml:"host,omitempty"`

	// Port to listen on.
	Port int `yaml:"port,omitempty"`

	// CardPath is where the agent card is served. Defaults to the
	// A2A well-known location.
	CardPath string `yaml:"cardPath,omitempty"`

	// Name reported on the agent card.
	Name string `yaml:"name,omitempty"`

	// Version reported on the agent card. Filled from build info
	// when absent.
	Version string `yaml:"version,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.CardPath == "" {
		c.CardPath = "/.well-known/agent.json"
	}
	if c.Name == "" {
		c.Name = "majordomo"
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if !strings.HasPrefix(c.CardPath, "/") {
		return fmt.Errorf("cardPath must start with '/', got %q", c.CardPath)
	}
	return nil
}

// Address returns the host:port the server binds.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RequestConfig bounds a single user request end to end.
type RequestConfig struct {
	// TimeoutMs is the overall request deadline.
	TimeoutMs int `yaml:"timeoutMs,omitempty"`

	// MaxQueuedPerContext bounds the per-context wait queue. Zero
	// rejects a request outright while another one for the same
	// context is in flight.
	MaxQueuedPerContext *int `yaml:"maxQueuedPerContext,omitempty"`

	// EmptyReply is returned verbatim when a request carries no text.
	EmptyReply string `yaml:"emptyReply,omitempty"`
}

func (c *RequestConfig) SetDefaults() {
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 5000
	}
	if c.MaxQueuedPerContext == nil {
		c.MaxQueuedPerContext = IntPtr(8)
	}
	if c.EmptyReply == "" {
		c.EmptyReply = "I need a request to act on. What would you like me to do?"
	}
}

func (c *RequestConfig) Validate() error {
	if c.TimeoutMs < 1 {
		return fmt.Errorf("timeoutMs must be positive, got %d", c.TimeoutMs)
	}
	if c.MaxQueuedPerContext != nil && *c.MaxQueuedPerContext < 0 {
		return fmt.Errorf("maxQueuedPerContext must not be negative, got %d", *c.MaxQueuedPerContext)
	}
	return nil
}

// Timeout returns the request deadline as a duration.
func (c *RequestConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// QueueDepth returns the per-context queue bound.
func (c *RequestConfig) QueueDepth() int {
	if c.MaxQueuedPerContext == nil {
		return 8
	}
	return *c.MaxQueuedPerContext
}

// RouterConfig tunes the language-model routing stage.
type RouterConfig struct {
	// TimeoutMs bounds a single routing call.
	TimeoutMs int `yaml:"timeoutMs,omitempty"`

	// ConfidenceFloor is the routing confidence below which the
	// request is redirected to the fallback agent.
	ConfidenceFloor *float64 `yaml:"confidenceFloor,omitempty"`

	// CacheAdmissionConfidence is the minimum confidence a routing
	// decision needs before it may be written to the prompt cache.
	CacheAdmissionConfidence *float64 `yaml:"cacheAdmissionConfidence,omitempty"`

	// MaxPromptTokens caps the routing prompt size. History is
	// truncated oldest-first to fit.
	MaxPromptTokens int `yaml:"maxPromptTokens,omitempty"`
}

func (c *RouterConfig) SetDefaults() {
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 1000
	}
	if c.ConfidenceFloor == nil {
		c.ConfidenceFloor = Float64Ptr(0.45)
	}
	if c.CacheAdmissionConfidence == nil {
		c.CacheAdmissionConfidence = Float64Ptr(0.7)
	}
	if c.MaxPromptTokens == 0 {
		c.MaxPromptTokens = 3000
	}
}

func (c *RouterConfig) Validate() error {
	if c.TimeoutMs < 1 {
		return fmt.Errorf("timeoutMs must be positive, got %d", c.TimeoutMs)
	}
	if c.ConfidenceFloor != nil && (*c.ConfidenceFloor < 0 || *c.ConfidenceFloor > 1) {
		return fmt.Errorf("confidenceFloor must be between 0 and 1, got %g", *c.ConfidenceFloor)
	}
	if c.CacheAdmissionConfidence != nil && (*c.CacheAdmissionConfidence < 0 || *c.CacheAdmissionConfidence > 1) {
		return fmt.Errorf("cacheAdmissionConfidence must be between 0 and 1, got %g", *c.CacheAdmissionConfidence)
	}
	if c.MaxPromptTokens < 1 {
		return fmt.Errorf("maxPromptTokens must be positive, got %d", c.MaxPromptTokens)
	}
	return nil
}

// Timeout returns the routing deadline as a duration.
func (c *RouterConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Floor returns the configured confidence floor.
func (c *RouterConfig) Floor() float64 {
	if c.ConfidenceFloor == nil {
		return 0.45
	}
	return *c.ConfidenceFloor
}

// AdmissionConfidence returns the cache admission bound.
func (c *RouterConfig) AdmissionConfidence() float64 {
	if c.CacheAdmissionConfidence == nil {
		return 0.7
	}
	return *c.CacheAdmissionConfidence
}

// CacheConfig tunes the prompt cache.
type CacheConfig struct {
	// Enabled turns the cache on. On by default.
	Enabled *bool `yaml:"enabled,omitempty"`

	// MaxEntries bounds the cache; least recently used entries are
	// evicted beyond it.
	MaxEntries int `yaml:"maxEntries,omitempty"`

	// SimilarityThreshold is the minimum cosine similarity for a
	// semantic hit.
	SimilarityThreshold *float64 `yaml:"similarityThreshold,omitempty"`

	// TTLSeconds expires entries; zero keeps them subject only to
	// the LRU bound.
	TTLSeconds int `yaml:"ttlSeconds,omitempty"`

	// StripPunctuation lists the characters removed while normalizing
	// a prompt before hashing and embedding. An explicit empty string
	// disables stripping.
	StripPunctuation *string `yaml:"stripPunctuation,omitempty"`
}

func (c *CacheConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 512
	}
	if c.SimilarityThreshold == nil {
		c.SimilarityThreshold = Float64Ptr(0.92)
	}
	if c.StripPunctuation == nil {
		c.StripPunctuation = StringPtr(DefaultStripPunctuation)
	}
}

// DefaultStripPunctuation is the punctuation removed from prompts
// during normalization unless configured otherwise.
const DefaultStripPunctuation = `.,!?;:'"`

func (c *CacheConfig) Validate() error {
	if c.MaxEntries < 1 {
		return fmt.Errorf("maxEntries must be positive, got %d", c.MaxEntries)
	}
	if c.SimilarityThreshold != nil && (*c.SimilarityThreshold <= 0 || *c.SimilarityThreshold > 1) {
		return fmt.Errorf("similarityThreshold must be in (0, 1], got %g", *c.SimilarityThreshold)
	}
	if c.TTLSeconds < 0 {
		return fmt.Errorf("ttlSeconds must not be negative, got %d", c.TTLSeconds)
	}
	return nil
}

// IsEnabled reports whether the cache is on.
func (c *CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TTL returns the entry lifetime; zero means no expiry.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Threshold returns the semantic similarity bound.
func (c *CacheConfig) Threshold() float64 {
	if c.SimilarityThreshold == nil {
		return 0.92
	}
	return *c.SimilarityThreshold
}

// Punctuation returns the characters stripped during normalization.
func (c *CacheConfig) Punctuation() string {
	if c.StripPunctuation == nil {
		return DefaultStripPunctuation
	}
	return *c.StripPunctuation
}

// SessionConfig tunes session snapshot persistence.
type SessionConfig struct {
	// TTLSeconds is the session snapshot lifetime.
	TTLSeconds int `yaml:"ttlSeconds,omitempty"`
}

func (c *SessionConfig) SetDefaults() {
	if c.TTLSeconds == 0 {
		c.TTLSeconds = 86400
	}
}

func (c *SessionConfig) Validate() error {
	if c.TTLSeconds < 0 {
		return fmt.Errorf("ttlSeconds must not be negative, got %d", c.TTLSeconds)
	}
	return nil
}

// TTL returns the session lifetime; zero means no expiry.
func (c *SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// TaskConfig tunes task snapshot persistence.
type TaskConfig struct {
	// TTLSeconds is the task snapshot lifetime.
	TTLSeconds int `yaml:"ttlSeconds,omitempty"`
}

func (c *TaskConfig) SetDefaults() {
	if c.TTLSeconds == 0 {
		c.TTLSeconds = 172800
	}
}

func (c *TaskConfig) Validate() error {
	if c.TTLSeconds < 0 {
		return fmt.Errorf("ttlSeconds must not be negative, got %d", c.TTLSeconds)
	}
	return nil
}

// TTL returns the task lifetime; zero means no expiry.
func (c *TaskConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// FallbackConfig names the agent that receives requests the router
// cannot place.
type FallbackConfig struct {
	// AgentID of the fallback agent. Must be configured under
	// agent.<name>.
	AgentID string `yaml:"agentId,omitempty"`
}

func (c *FallbackConfig) SetDefaults() {
	if c.AgentID == "" {
		c.AgentID = "assistant"
	}
}

func (c *FallbackConfig) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("agentId is required")
	}
	return nil
}
