package config

import (
	"fmt"
	"time"
)

// StoreBackend identifies a key-value backend.
type StoreBackend string

const (
	StoreBackendMemory   StoreBackend = "memory"
	StoreBackendRedis    StoreBackend = "redis"
	StoreBackendSQLite   StoreBackend = "sqlite"
	StoreBackendPostgres StoreBackend = "postgres"
	StoreBackendMySQL    StoreBackend = "mysql"
)

// StoreConfig selects where sessions, tasks, and cache entries are
// persisted.
type StoreConfig struct {
	// Backend type (memory, redis, sqlite, postgres, mysql).
	Backend StoreBackend `yaml:"backend,omitempty"`

	// DSN for the SQL backends.
	DSN string `yaml:"dsn,omitempty"`

	// Redis connection settings.
	Redis RedisStoreConfig `yaml:"redis,omitempty"`
}

// RedisStoreConfig configures the redis backend.
type RedisStoreConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = StoreBackendMemory
	}
	if c.Backend == StoreBackendSQLite && c.DSN == "" {
		c.DSN = ".majordomo/majordomo.db"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
}

func (c *StoreConfig) Validate() error {
	switch c.Backend {
	case StoreBackendMemory, StoreBackendRedis, StoreBackendSQLite:
	case StoreBackendPostgres, StoreBackendMySQL:
		if c.DSN == "" {
			return fmt.Errorf("dsn is required for backend %q", c.Backend)
		}
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, redis, sqlite, postgres, mysql)", c.Backend)
	}
	return nil
}

// LLMProvider identifies the language-model provider for routing.
type LLMProvider string

const (
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderAnthropic LLMProvider = "anthropic"
)

// LLMConfig configures the routing language model.
type LLMConfig struct {
	// Provider type (openai, anthropic).
	Provider LLMProvider `yaml:"provider,omitempty"`

	// Model identifier.
	Model string `yaml:"model,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion; falls
	// back to the provider's conventional environment variable.
	APIKey string `yaml:"apiKey,omitempty"`

	// Host overrides the provider's base URL.
	Host string `yaml:"host,omitempty"`

	// Temperature for generation. Routing wants determinism, so the
	// default is zero.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens limits the routing decision length.
	MaxTokens int `yaml:"maxTokens,omitempty"`

	// TimeoutSeconds bounds one HTTP call to the provider.
	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty"`

	// MaxRetries is the HTTP-level retry budget for rate limits and
	// server errors.
	MaxRetries *int `yaml:"maxRetries,omitempty"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = LLMProviderOpenAI
	}
	if c.Model == "" {
		switch c.Provider {
		case LLMProviderOpenAI:
			c.Model = "gpt-4o-mini"
		case LLMProviderAnthropic:
			c.Model = "claude-3-5-haiku-20241022"
		}
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(string(c.Provider))
	}
	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0.0)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 512
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
	if c.MaxRetries == nil {
		c.MaxRetries = IntPtr(2)
	}
}

func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMProviderOpenAI, LLMProviderAnthropic:
	default:
		return fmt.Errorf("invalid provider %q (valid: openai, anthropic)", c.Provider)
	}
	if c.APIKey == "" {
		return fmt.Errorf("apiKey is required for provider %q", c.Provider)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", *c.Temperature)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("maxTokens must be positive, got %d", c.MaxTokens)
	}
	return nil
}

// Timeout returns the per-call deadline.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Retries returns the HTTP retry budget.
func (c *LLMConfig) Retries() int {
	if c.MaxRetries == nil {
		return 2
	}
	return *c.MaxRetries
}

// EmbedderProvider identifies the embedding provider for the semantic
// cache.
type EmbedderProvider string

const (
	EmbedderProviderOpenAI EmbedderProvider = "openai"
	EmbedderProviderOllama EmbedderProvider = "ollama"
)

// EmbedderConfig configures prompt embeddings.
type EmbedderConfig struct {
	// Provider type (openai, ollama).
	Provider EmbedderProvider `yaml:"provider,omitempty"`

	// Model identifier.
	Model string `yaml:"model,omitempty"`

	// APIKey for authentication. Ollama needs none.
	APIKey string `yaml:"apiKey,omitempty"`

	// Host overrides the provider's base URL.
	Host string `yaml:"host,omitempty"`

	// Dimension of the embedding vectors.
	Dimension int `yaml:"dimension,omitempty"`

	// TimeoutSeconds bounds one embedding call.
	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = EmbedderProviderOpenAI
	}
	if c.Model == "" {
		switch c.Provider {
		case EmbedderProviderOpenAI:
			c.Model = "text-embedding-3-small"
		case EmbedderProviderOllama:
			c.Model = "nomic-embed-text"
		}
	}
	if c.Dimension == 0 {
		switch c.Provider {
		case EmbedderProviderOpenAI:
			c.Dimension = 1536
		case EmbedderProviderOllama:
			c.Dimension = 768
		}
	}
	if c.Host == "" && c.Provider == EmbedderProviderOllama {
		c.Host = "http://localhost:11434"
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(string(c.Provider))
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 15
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Provider {
	case EmbedderProviderOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("apiKey is required for provider %q", c.Provider)
		}
	case EmbedderProviderOllama:
	default:
		return fmt.Errorf("invalid provider %q (valid: openai, ollama)", c.Provider)
	}
	if c.Dimension < 1 {
		return fmt.Errorf("dimension must be positive, got %d", c.Dimension)
	}
	return nil
}

// Timeout returns the per-call deadline.
func (c *EmbedderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// VectorBackend identifies a vector index backend.
type VectorBackend string

const (
	VectorBackendChromem VectorBackend = "chromem"
	VectorBackendQdrant  VectorBackend = "qdrant"
)

// VectorConfig selects where cache embeddings are indexed.
type VectorConfig struct {
	// Backend type (chromem, qdrant).
	Backend VectorBackend `yaml:"backend,omitempty"`

	// Chromem settings for the embedded index.
	Chromem ChromemConfig `yaml:"chromem,omitempty"`

	// Qdrant settings for the external index.
	Qdrant QdrantConfig `yaml:"qdrant,omitempty"`
}

// ChromemConfig configures the embedded chromem-go index.
type ChromemConfig struct {
	// PersistPath stores the index on disk; empty keeps it in
	// memory.
	PersistPath string `yaml:"persistPath,omitempty"`

	// Compress gzips the persisted index.
	Compress bool `yaml:"compress,omitempty"`
}

// QdrantConfig configures the qdrant gRPC client.
type QdrantConfig struct {
	Host   string `yaml:"host,omitempty"`
	Port   int    `yaml:"port,omitempty"`
	APIKey string `yaml:"apiKey,omitempty"`
	UseTLS bool   `yaml:"useTls,omitempty"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = VectorBackendChromem
	}
	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Backend {
	case VectorBackendChromem:
	case VectorBackendQdrant:
		if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("qdrant port must be between 1 and 65535, got %d", c.Qdrant.Port)
		}
	default:
		return fmt.Errorf("invalid backend %q (valid: chromem, qdrant)", c.Backend)
	}
	return nil
}

// EventsConfig tunes the lifecycle event bus.
type EventsConfig struct {
	// BufferSize of each subscriber channel. Slow subscribers drop
	// events beyond it.
	BufferSize int `yaml:"bufferSize,omitempty"`

	// NATS mirrors events onto a NATS subject tree when enabled.
	NATS NATSConfig `yaml:"nats,omitempty"`
}

// NATSConfig configures the optional NATS mirror.
type NATSConfig struct {
	Enabled       *bool  `yaml:"enabled,omitempty"`
	URL           string `yaml:"url,omitempty"`
	SubjectPrefix string `yaml:"subjectPrefix,omitempty"`
}

func (c *EventsConfig) SetDefaults() {
	if c.BufferSize == 0 {
		c.BufferSize = 64
	}
	if c.NATS.Enabled == nil {
		c.NATS.Enabled = BoolPtr(false)
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "majordomo.events"
	}
}

func (c *EventsConfig) Validate() error {
	if c.BufferSize < 1 {
		return fmt.Errorf("bufferSize must be positive, got %d", c.BufferSize)
	}
	if c.NATS.IsEnabled() && c.NATS.URL == "" {
		return fmt.Errorf("nats url is required when nats is enabled")
	}
	return nil
}

// IsEnabled reports whether the NATS mirror is on.
func (c *NATSConfig) IsEnabled() bool {
	return c.Enabled != nil && *c.Enabled
}

// ObservabilityConfig tunes metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
	Tracing TracingConfig `yaml:"tracing,omitempty"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
	ServiceName  string   `yaml:"serviceName,omitempty"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.Metrics.Enabled == nil {
		c.Metrics.Enabled = BoolPtr(true)
	}
	if c.Tracing.Enabled == nil {
		c.Tracing.Enabled = BoolPtr(false)
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4317"
	}
	if c.Tracing.SamplingRate == nil {
		c.Tracing.SamplingRate = Float64Ptr(1.0)
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "majordomo"
	}
}

func (c *ObservabilityConfig) Validate() error {
	if c.Tracing.SamplingRate != nil && (*c.Tracing.SamplingRate < 0 || *c.Tracing.SamplingRate > 1) {
		return fmt.Errorf("tracing samplingRate must be between 0 and 1, got %g", *c.Tracing.SamplingRate)
	}
	if c.Tracing.IsEnabled() && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	return nil
}

// IsEnabled reports whether metrics are on.
func (c *MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// IsEnabled reports whether tracing is on.
func (c *TracingConfig) IsEnabled() bool {
	return c.Enabled != nil && *c.Enabled
}

// Rate returns the trace sampling rate.
func (c *TracingConfig) Rate() float64 {
	if c.SamplingRate == nil {
		return 1.0
	}
	return *c.SamplingRate
}

// LoggingConfig tunes the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty"`

	// Format is simple or verbose.
	Format string `yaml:"format,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid level %q (valid: debug, info, warn, error)", c.Level)
	}
	switch c.Format {
	case "simple", "verbose":
	default:
		return fmt.Errorf("invalid format %q (valid: simple, verbose)", c.Format)
	}
	return nil
}

// TLSConfig tunes outbound client TLS for remote agents and model
// providers.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. Never
	// use outside development.
	InsecureSkipVerify bool `yaml:"insecureSkipVerify,omitempty"`

	// CACertificate is a path to a PEM bundle for private CAs.
	CACertificate string `yaml:"caCertificate,omitempty"`
}

func (c *TLSConfig) SetDefaults() {}

func (c *TLSConfig) Validate() error {
	return nil
}
