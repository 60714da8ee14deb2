// Package vector provides cosine-similarity search over embedding
// vectors for the semantic prompt cache.
//
// Vectors are always computed externally (see pkg/embedder) and handed
// to the index precomputed. Two backends are supported: chromem, an
// embedded pure-Go index with optional file persistence, and qdrant,
// an external vector database reached over gRPC.
package vector

import (
	"context"
	"fmt"

	"github.com/majordomohq/majordomo/pkg/config"
)

// Result is a single similarity match.
type Result struct {
	// ID of the stored entry.
	ID string

	// Content stored alongside the vector, if any.
	Content string

	// Vector as stored, when the backend returns it.
	Vector []float32

	// Metadata attached at upsert time. Backends may stringify
	// values; callers must not rely on type fidelity.
	Metadata map[string]any

	// Score is the cosine similarity to the query vector, in [0, 1]
	// for normalized inputs. Higher is closer.
	Score float32
}

// Index stores embedding vectors and answers nearest-neighbor queries
// by cosine similarity. Implementations are safe for concurrent use.
type Index interface {
	// Upsert adds or replaces an entry in a collection.
	Upsert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error

	// Search returns up to topK entries closest to the query vector,
	// ordered by descending score. A collection with fewer entries
	// than topK returns what it has.
	Search(ctx context.Context, collection string, vec []float32, topK int) ([]Result, error)

	// Delete removes a single entry. Deleting an absent entry is not
	// an error.
	Delete(ctx context.Context, collection, id string) error

	// DeleteCollection removes a collection and everything in it.
	DeleteCollection(ctx context.Context, collection string) error

	// Count reports the number of entries in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Name identifies the backend.
	Name() string

	// Close releases backend resources.
	Close() error
}

// New creates an index from configuration.
func New(cfg config.VectorConfig) (Index, error) {
	switch cfg.Backend {
	case config.VectorBackendChromem:
		return NewChromemIndex(cfg.Chromem)
	case config.VectorBackendQdrant:
		return NewQdrantIndex(cfg.Qdrant)
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s (supported: chromem, qdrant)", cfg.Backend)
	}
}
