// Package embedder produces vector embeddings for the semantic side
// of the prompt cache.
package embedder

import (
	"context"
	"fmt"

	"github.com/majordomohq/majordomo/pkg/config"
	"github.com/majordomohq/majordomo/pkg/httpclient"
)

// Embedder converts text into vectors.
type Embedder interface {
	// Embed converts one text to a vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts in one round trip where the
	// provider supports it.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// Model returns the model name in use.
	Model() string

	// Close releases any resources held by the embedder.
	Close() error
}

// New builds the configured embedder. Extra HTTP options (TLS, custom
// retry budget) apply to the provider client.
func New(cfg config.EmbedderConfig, opts ...httpclient.Option) (Embedder, error) {
	switch cfg.Provider {
	case config.EmbedderProviderOpenAI:
		return NewOpenAIEmbedder(cfg, opts...)
	case config.EmbedderProviderOllama:
		return NewOllamaEmbedder(cfg, opts...)
	default:
		return nil, fmt.Errorf("unknown embedder provider: %s", cfg.Provider)
	}
}
