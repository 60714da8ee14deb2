package vector

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/majordomohq/majordomo/pkg/config"
)

// ChromemIndex is an embedded index backed by chromem-go. It keeps all
// vectors in memory and optionally persists them to a directory, so it
// needs no external service. Suited to single-process deployments; the
// cache bounds its size, so memory residency is acceptable.
type ChromemIndex struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection

	// embeddingFunc rejects any attempt to embed inside the index.
	// Vectors arrive precomputed.
	embeddingFunc chromem.EmbeddingFunc
}

// NewChromemIndex creates an embedded index. With a persist path the
// index is loaded from disk if present and every write is persisted
// incrementally; without one it lives in memory only.
func NewChromemIndex(cfg config.ChromemConfig) (*ChromemIndex, error) {
	var db *chromem.DB
	var err error

	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open vector index at %s: %w", cfg.PersistPath, err)
		}
		slog.Info("Opened persistent vector index", "path", cfg.PersistPath, "compress", cfg.Compress)
	} else {
		db = chromem.NewDB()
		slog.Info("Created in-memory vector index")
	}

	reject := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("index received text to embed; vectors must be precomputed")
	}

	return &ChromemIndex{
		db:            db,
		collections:   make(map[string]*chromem.Collection),
		embeddingFunc: reject,
	}, nil
}

func (x *ChromemIndex) getCollection(name string) (*chromem.Collection, error) {
	x.mu.RLock()
	if col, ok := x.collections[name]; ok {
		x.mu.RUnlock()
		return col, nil
	}
	x.mu.RUnlock()

	x.mu.Lock()
	defer x.mu.Unlock()

	if col, ok := x.collections[name]; ok {
		return col, nil
	}

	col, err := x.db.GetOrCreateCollection(name, nil, x.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("get collection %q: %w", name, err)
	}

	x.collections[name] = col
	return col, nil
}

// Upsert adds or replaces an entry with its precomputed vector.
func (x *ChromemIndex) Upsert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error {
	col, err := x.getCollection(collection)
	if err != nil {
		return err
	}

	// chromem metadata is string-valued.
	strMetadata := make(map[string]string, len(metadata))
	for k, v := range metadata {
		strMetadata[k] = fmt.Sprint(v)
	}

	content := ""
	if c, ok := metadata["content"].(string); ok {
		content = c
	}

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  strMetadata,
		Embedding: vec,
	}

	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("upsert %q: %w", id, err)
	}
	return nil
}

// Search returns the topK nearest entries by cosine similarity.
func (x *ChromemIndex) Search(ctx context.Context, collection string, vec []float32, topK int) ([]Result, error) {
	col, err := x.getCollection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults outside (0, Count].
	if n := col.Count(); topK > n {
		topK = n
	}
	if topK <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vec, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", collection, err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		metadata := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		out = append(out, Result{
			ID:       r.ID,
			Content:  r.Content,
			Vector:   r.Embedding,
			Metadata: metadata,
			Score:    r.Similarity,
		})
	}
	return out, nil
}

// Delete removes a single entry by ID.
func (x *ChromemIndex) Delete(ctx context.Context, collection, id string) error {
	col, err := x.getCollection(collection)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete %q: %w", id, err)
	}
	return nil
}

// DeleteCollection drops a collection and its entries.
func (x *ChromemIndex) DeleteCollection(ctx context.Context, collection string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("delete collection %q: %w", collection, err)
	}
	delete(x.collections, collection)
	return nil
}

// Count reports how many entries a collection holds.
func (x *ChromemIndex) Count(ctx context.Context, collection string) (int, error) {
	col, err := x.getCollection(collection)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Name returns the backend name.
func (x *ChromemIndex) Name() string {
	return "chromem"
}

// Close is a no-op; persistence happens on every write.
func (x *ChromemIndex) Close() error {
	return nil
}

var _ Index = (*ChromemIndex)(nil)
