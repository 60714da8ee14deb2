// Package promptcache remembers routing decisions keyed by the user
// prompt so that repeated requests skip the language-model routing
// call. A lookup first tries an exact match on the SHA-256 of the
// normalized prompt, then a semantic match by cosine similarity over
// embedding vectors. Entries live in the key-value store under a
// stable prefix and in an in-memory LRU that bounds the cache size;
// evicted entries are removed from the store and the vector index.
//
// The cache is an accelerator, never an authority: every failure is
// logged and reported as a miss, and deleting any entry at any time is
// safe.
package promptcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/majordomohq/majordomo/pkg/config"
	"github.com/majordomohq/majordomo/pkg/embedder"
	"github.com/majordomohq/majordomo/pkg/kv"
	"github.com/majordomohq/majordomo/pkg/vector"
)

const (
	// keyPrefix locates cache entries in the key-value store.
	keyPrefix = "cache/prompts/"

	// collection names the semantic index collection.
	collection = "prompt_cache"

	// semanticTopK is how many neighbors a semantic lookup considers.
	semanticTopK = 4

	// writeTimeout bounds the asynchronous hit-count writes.
	writeTimeout = 5 * time.Second

	// writeQueueDepth bounds the pending hit-count writes. Overflow
	// is dropped; the in-memory counters stay current and persist
	// with the next write for the same entry.
	writeQueueDepth = 128
)

// Source tells how a lookup matched.
type Source string

const (
	// SourceExact means the normalized prompt hashed to a stored entry.
	SourceExact Source = "exact"

	// SourceSemantic means a stored prompt was close enough by cosine
	// similarity.
	SourceSemantic Source = "semantic"
)

// Decision is the routing outcome stored for a prompt. Its JSON shape
// is the durable cache payload; fields are only ever added.
type Decision struct {
	// AgentID is the primary agent the request was routed to.
	AgentID string `json:"agentId"`

	// AdditionalAgents were dispatched in parallel, if any.
	AdditionalAgents []string `json:"additionalAgents,omitempty"`

	// Confidence the router reported for this decision.
	Confidence float64 `json:"confidence"`

	// Reasoning is the router's short free-text justification.
	Reasoning string `json:"reasoning,omitempty"`
}

// Entry is one cached prompt with its stored decision.
type Entry struct {
	Prompt    string    `json:"prompt"`
	Hash      string    `json:"hash"`
	Vector    []float32 `json:"vector,omitempty"`
	Decision  Decision  `json:"decision"`
	Hits      int64     `json:"hits"`
	CreatedAt time.Time `json:"createdAt"`
	LastHitAt time.Time `json:"lastHitAt"`
}

// Hit is a successful lookup: the stored decision plus how it matched.
type Hit struct {
	Decision Decision

	// Source is exact or semantic.
	Source Source

	// Score is the cosine similarity for semantic hits, 1 for exact.
	Score float64
}

// Stats is a point-in-time snapshot of the cache counters.
type Stats struct {
	Enabled      bool  `json:"enabled"`
	Entries      int   `json:"entries"`
	Hits         int64 `json:"hits"`
	ExactHits    int64 `json:"exactHits"`
	SemanticHits int64 `json:"semanticHits"`
	Misses       int64 `json:"misses"`
	Stores       int64 `json:"stores"`
	Evictions    int64 `json:"evictions"`
}

// Cache is the prompt cache. Safe for concurrent use.
type Cache struct {
	store       kv.Store
	embed       embedder.Embedder
	index       vector.Index
	threshold   float64
	ttl         time.Duration
	punctuation string
	enabled     bool
	logger      *slog.Logger

	// mu guards entry mutation; the LRU itself is internally locked.
	mu      sync.Mutex
	entries *lru.Cache[string, *Entry]

	hits         atomic.Int64
	exactHits    atomic.Int64
	semanticHits atomic.Int64
	misses       atomic.Int64
	stores       atomic.Int64
	evictions    atomic.Int64

	// writes carries hashes whose hit counters need persisting. A
	// single writer drains it so the last write for an entry always
	// lands with the latest counters.
	writes    chan string
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates a prompt cache. When the cache is disabled by
// configuration, the store, embedder, and index may be nil and every
// operation is a no-op.
func New(cfg config.CacheConfig, store kv.Store, embed embedder.Embedder, index vector.Index) (*Cache, error) {
	c := &Cache{
		store:       store,
		embed:       embed,
		index:       index,
		threshold:   cfg.Threshold(),
		ttl:         cfg.TTL(),
		punctuation: cfg.Punctuation(),
		enabled:     cfg.IsEnabled(),
		logger:      slog.Default().With("component", "promptcache"),
	}

	if !c.enabled {
		return c, nil
	}

	if store == nil {
		return nil, fmt.Errorf("prompt cache requires a key-value store")
	}
	if embed == nil {
		return nil, fmt.Errorf("prompt cache requires an embedder")
	}
	if index == nil {
		return nil, fmt.Errorf("prompt cache requires a vector index")
	}

	entries, err := lru.NewWithEvict(cfg.MaxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("prompt cache lru: %w", err)
	}
	c.entries = entries

	c.writes = make(chan string, writeQueueDepth)
	c.done = make(chan struct{})
	go c.writer()

	return c, nil
}

// Enabled reports whether the cache is active.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Lookup finds a stored decision for a prompt. It returns nil on a
// miss and on any internal failure; the caller falls through to the
// router either way.
func (c *Cache) Lookup(ctx context.Context, prompt string) *Hit {
	if !c.enabled {
		return nil
	}

	normalized := Normalize(prompt, c.punctuation)
	if normalized == "" {
		return nil
	}
	hash := HashPrompt(normalized)

	if entry, ok := c.lookupExact(ctx, hash); ok {
		c.hits.Add(1)
		c.exactHits.Add(1)
		snapshot := c.touch(entry)
		return &Hit{Decision: snapshot.Decision, Source: SourceExact, Score: 1}
	}

	if entry, score, ok := c.lookupSemantic(ctx, normalized); ok {
		c.hits.Add(1)
		c.semanticHits.Add(1)
		snapshot := c.touch(entry)
		return &Hit{Decision: snapshot.Decision, Source: SourceSemantic, Score: score}
	}

	c.misses.Add(1)
	return nil
}

// lookupExact checks the LRU and then the key-value store. A store hit
// that is absent from the LRU (restart, or a peer instance wrote it)
// is readopted into the LRU and the semantic index.
func (c *Cache) lookupExact(ctx context.Context, hash string) (*Entry, bool) {
	if entry, ok := c.entries.Get(hash); ok {
		return entry, true
	}

	raw, err := c.store.Get(ctx, keyPrefix+hash)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.logger.Warn("Prompt cache read failed", "hash", hash, "error", err)
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("Dropping corrupt prompt cache entry", "hash", hash, "error", err)
		c.deleteStored(ctx, hash)
		return nil, false
	}

	c.adopt(ctx, &entry)
	return &entry, true
}

// lookupSemantic embeds the normalized prompt and searches the vector
// index for the closest stored prompt above the similarity threshold.
func (c *Cache) lookupSemantic(ctx context.Context, normalized string) (*Entry, float64, bool) {
	vec, err := c.embed.Embed(ctx, normalized)
	if err != nil {
		c.logger.Warn("Prompt embedding failed, skipping semantic lookup", "error", err)
		return nil, 0, false
	}

	results, err := c.index.Search(ctx, collection, vec, semanticTopK)
	if err != nil {
		c.logger.Warn("Semantic lookup failed", "error", err)
		return nil, 0, false
	}

	for _, res := range results {
		score := float64(res.Score)
		if score < c.threshold {
			break // results are ordered by descending score
		}
		if entry, ok := c.lookupExact(ctx, res.ID); ok {
			return entry, score, true
		}
		// The index outlived the entry. Remove the stale vector and
		// try the next candidate.
		if err := c.index.Delete(ctx, collection, res.ID); err != nil {
			c.logger.Debug("Stale vector cleanup failed", "hash", res.ID, "error", err)
		}
	}

	return nil, 0, false
}

// Store records a routing decision for a prompt. The router calls it
// only for decisions above the admission confidence; the cache itself
// does not second-guess the decision. Storing the same prompt again
// replaces the decision and keeps the hit counter. Failures are logged
// and swallowed.
func (c *Cache) Store(ctx context.Context, prompt string, decision Decision) {
	if !c.enabled {
		return
	}

	normalized := Normalize(prompt, c.punctuation)
	if normalized == "" {
		return
	}
	hash := HashPrompt(normalized)

	if existing, ok := c.lookupExact(ctx, hash); ok {
		c.mu.Lock()
		existing.Decision = decision
		snapshot := *existing
		c.mu.Unlock()
		if err := c.persist(ctx, &snapshot); err != nil {
			c.logger.Warn("Prompt cache update failed", "hash", hash, "error", err)
		}
		return
	}

	entry := &Entry{
		Prompt:    normalized,
		Hash:      hash,
		Decision:  decision,
		CreatedAt: time.Now().UTC(),
	}

	// A failed embedding degrades the entry to exact-only matching.
	vec, err := c.embed.Embed(ctx, normalized)
	if err != nil {
		c.logger.Warn("Prompt embedding failed, caching for exact match only", "hash", hash, "error", err)
	} else {
		entry.Vector = vec
	}

	if err := c.persist(ctx, entry); err != nil {
		c.logger.Warn("Prompt cache write failed", "hash", hash, "error", err)
		return
	}

	if entry.Vector != nil {
		if err := c.index.Upsert(ctx, collection, hash, entry.Vector, map[string]any{"hash": hash}); err != nil {
			c.logger.Warn("Semantic index write failed", "hash", hash, "error", err)
		}
	}

	c.entries.Add(hash, entry)
	c.stores.Add(1)
}

// Evict removes one entry by hash. It reports whether anything was
// removed.
func (c *Cache) Evict(ctx context.Context, hash string) bool {
	if !c.enabled {
		return false
	}

	if c.entries.Remove(hash) {
		return true
	}

	// Not resident, but the store may still hold it.
	if _, err := c.store.Get(ctx, keyPrefix+hash); err != nil {
		return false
	}
	c.deleteStored(ctx, hash)
	c.evictions.Add(1)
	return true
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) {
	if !c.enabled {
		return
	}
	c.entries.Purge()

	// Sweep anything persisted but not resident.
	keys, err := c.store.Keys(ctx, keyPrefix)
	if err != nil {
		c.logger.Warn("Prompt cache sweep failed", "error", err)
		return
	}
	for _, key := range keys {
		c.deleteStored(ctx, key[len(keyPrefix):])
	}
}

// List returns copies of the resident entries, most recently hit
// first. Vectors are omitted.
func (c *Cache) List() []Entry {
	if !c.enabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, c.entries.Len())
	for _, hash := range c.entries.Keys() {
		entry, ok := c.entries.Peek(hash)
		if !ok {
			continue
		}
		snapshot := *entry
		snapshot.Vector = nil
		out = append(out, snapshot)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastHitAt.After(out[j].LastHitAt)
	})
	return out
}

// Stats returns the cache counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Enabled:      c.enabled,
		Hits:         c.hits.Load(),
		ExactHits:    c.exactHits.Load(),
		SemanticHits: c.semanticHits.Load(),
		Misses:       c.misses.Load(),
		Stores:       c.stores.Load(),
		Evictions:    c.evictions.Load(),
	}
	if c.enabled {
		s.Entries = c.entries.Len()
	}
	return s
}

// Warm rebuilds the in-memory LRU and the semantic index from the
// key-value store. Call it once at startup; entries beyond the LRU
// bound are evicted oldest-hit first.
func (c *Cache) Warm(ctx context.Context) error {
	if !c.enabled {
		return nil
	}

	keys, err := c.store.Keys(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("scanning prompt cache entries: %w", err)
	}

	loaded := make([]*Entry, 0, len(keys))
	for _, key := range keys {
		raw, err := c.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			c.logger.Warn("Dropping corrupt prompt cache entry", "key", key, "error", err)
			c.deleteStored(ctx, key[len(keyPrefix):])
			continue
		}
		loaded = append(loaded, &entry)
	}

	// Oldest first, so the LRU keeps the most recently hit entries
	// when the persisted set exceeds the bound.
	sort.Slice(loaded, func(i, j int) bool {
		return lastActivity(loaded[i]).Before(lastActivity(loaded[j]))
	})

	for _, entry := range loaded {
		if entry.Vector != nil {
			if err := c.index.Upsert(ctx, collection, entry.Hash, entry.Vector, map[string]any{"hash": entry.Hash}); err != nil {
				c.logger.Warn("Semantic index rebuild failed for entry", "hash", entry.Hash, "error", err)
			}
		}
		c.entries.Add(entry.Hash, entry)
	}

	if len(loaded) > 0 {
		c.logger.Info("Prompt cache warmed", "entries", c.entries.Len())
	}
	return nil
}

// Close drains the pending hit-count writes and stops the writer.
// Lookups and stores must not be issued after Close. The store,
// embedder, and index are owned by the runtime and stay open.
func (c *Cache) Close() error {
	if !c.enabled {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.writes)
	})
	<-c.done
	return nil
}

// touch bumps the hit counter and last-hit timestamp and queues the
// entry for persistence off the request path. It returns a snapshot
// taken under the lock; the caller must not read the shared entry
// afterwards, since a concurrent Store may replace its decision.
func (c *Cache) touch(entry *Entry) Entry {
	c.mu.Lock()
	entry.Hits++
	entry.LastHitAt = time.Now().UTC()
	snapshot := *entry
	c.mu.Unlock()

	if c.closed.Load() {
		return snapshot
	}
	select {
	case c.writes <- snapshot.Hash:
	default:
		// Queue full. The in-memory counters stay current and will
		// persist with the next write for this entry.
	}
	return snapshot
}

// writer persists hit-count updates in arrival order. Snapshotting at
// write time means the final write for an entry carries its latest
// counters.
func (c *Cache) writer() {
	defer close(c.done)
	for hash := range c.writes {
		entry, ok := c.entries.Peek(hash)
		if !ok {
			continue
		}
		c.mu.Lock()
		snapshot := *entry
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.persist(ctx, &snapshot)
		cancel()
		if err != nil {
			c.logger.Debug("Prompt cache hit update failed", "hash", hash, "error", err)
		}
	}
}

// adopt places an entry read from the store into the LRU and the
// semantic index.
func (c *Cache) adopt(ctx context.Context, entry *Entry) {
	if entry.Vector != nil {
		if err := c.index.Upsert(ctx, collection, entry.Hash, entry.Vector, map[string]any{"hash": entry.Hash}); err != nil {
			c.logger.Debug("Semantic index adopt failed", "hash", entry.Hash, "error", err)
		}
	}
	c.entries.Add(entry.Hash, entry)
}

// persist writes an entry to the key-value store under the cache TTL.
func (c *Cache) persist(ctx context.Context, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, keyPrefix+entry.Hash, raw, c.ttl)
}

// onEvict runs inside the LRU whenever an entry leaves it, whether by
// overflow, Evict, or Clear. The entry is removed from the store and
// the index so a restart does not resurrect it.
func (c *Cache) onEvict(hash string, _ *Entry) {
	c.evictions.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	c.deleteStored(ctx, hash)
}

// deleteStored removes an entry from the key-value store and the
// semantic index. Both deletes are idempotent.
func (c *Cache) deleteStored(ctx context.Context, hash string) {
	if err := c.store.Delete(ctx, keyPrefix+hash); err != nil && !errors.Is(err, kv.ErrNotFound) {
		c.logger.Debug("Prompt cache delete failed", "hash", hash, "error", err)
	}
	if err := c.index.Delete(ctx, collection, hash); err != nil {
		c.logger.Debug("Semantic index delete failed", "hash", hash, "error", err)
	}
}

// lastActivity orders entries for warm-up eviction.
func lastActivity(e *Entry) time.Time {
	if e.LastHitAt.After(e.CreatedAt) {
		return e.LastHitAt
	}
	return e.CreatedAt
}
