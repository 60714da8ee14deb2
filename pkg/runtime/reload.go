package runtime

import (
	"fmt"
	"reflect"

	"github.com/majordomohq/majordomo/pkg/config"
)

// Apply carries the safe-to-swap settings of a freshly loaded
// configuration onto the running process: router thresholds, request
// limits, cache tuning, and the snapshot TTLs. Sections that name
// connections or processes (server, store, model, embedder, vector,
// events, agents) need a restart; a change there is reported in the
// log and left alone. In-flight requests may observe either the old
// or the new value of a swapped setting.
func (r *Runtime) Apply(next *config.Config) error {
	if next == nil {
		return fmt.Errorf("config is required")
	}
	next.SetDefaults()
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.cfg
	cur.Router.TimeoutMs = next.Router.TimeoutMs
	cur.Router.ConfidenceFloor = next.Router.ConfidenceFloor
	cur.Router.CacheAdmissionConfidence = next.Router.CacheAdmissionConfidence
	cur.Router.MaxPromptTokens = next.Router.MaxPromptTokens
	cur.Request.TimeoutMs = next.Request.TimeoutMs
	cur.Request.MaxQueuedPerContext = next.Request.MaxQueuedPerContext
	cur.Request.EmptyReply = next.Request.EmptyReply
	cur.Cache.SimilarityThreshold = next.Cache.SimilarityThreshold
	cur.Cache.TTLSeconds = next.Cache.TTLSeconds
	cur.Session.TTLSeconds = next.Session.TTLSeconds
	cur.Task.TTLSeconds = next.Task.TTLSeconds

	if restartNeeded(cur, next) {
		r.logger.Warn("Configuration changes to server, store, model, cache wiring, events, or agents take effect on restart")
	}

	r.logger.Info("Applied configuration change",
		"confidenceFloor", cur.Router.Floor(),
		"cacheAdmission", cur.Router.AdmissionConfidence(),
		"requestTimeoutMs", cur.Request.TimeoutMs)
	return nil
}

// restartNeeded reports whether next differs in a section Apply does
// not swap.
func restartNeeded(cur, next *config.Config) bool {
	return !reflect.DeepEqual(cur.Server, next.Server) ||
		!reflect.DeepEqual(cur.Fallback, next.Fallback) ||
		!reflect.DeepEqual(cur.Store, next.Store) ||
		!reflect.DeepEqual(cur.LLM, next.LLM) ||
		!reflect.DeepEqual(cur.Embedder, next.Embedder) ||
		!reflect.DeepEqual(cur.Vector, next.Vector) ||
		!reflect.DeepEqual(cur.Events, next.Events) ||
		!reflect.DeepEqual(cur.Observability, next.Observability) ||
		!reflect.DeepEqual(cur.Agents, next.Agents) ||
		cur.Cache.IsEnabled() != next.Cache.IsEnabled() ||
		cur.Cache.MaxEntries != next.Cache.MaxEntries
}
