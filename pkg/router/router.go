// Package router decides which agents handle a request. It consults
// the prompt cache first, then asks the language model for a
// structured decision, validates it against the agent registry, and
// falls back to the configured default agent rather than failing.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"

	"github.com/majordomohq/majordomo/pkg/agent"
	"github.com/majordomohq/majordomo/pkg/config"
	"github.com/majordomohq/majordomo/pkg/llm"
	"github.com/majordomohq/majordomo/pkg/promptcache"
	"github.com/majordomohq/majordomo/pkg/session"
)

// Source tells where a routing decision came from.
type Source string

const (
	// SourceModel means the language model produced the decision.
	SourceModel Source = "model"

	// SourceCacheExact means the prompt cache matched the normalized
	// request verbatim.
	SourceCacheExact Source = "cache-exact"

	// SourceCacheSemantic means the prompt cache matched a similar
	// stored request.
	SourceCacheSemantic Source = "cache-semantic"

	// SourceFallback means routing could not settle on an agent and
	// the default agent takes the request.
	SourceFallback Source = "fallback"
)

// Decision is the routing outcome for one request. Route always
// returns a usable decision; routing problems surface as the fallback
// agent with the cause in Reasoning.
type Decision struct {
	AgentID          string
	AdditionalAgents []string
	Confidence       float64
	Reasoning        string
	Source           Source

	// Clarify asks the user to choose between Candidates instead of
	// dispatching, set when the model named several plausible agents
	// but trusted none of them.
	Clarify    bool
	Candidates []string
}

// Agents returns the primary agent followed by the additional ones.
func (d Decision) Agents() []string {
	return append([]string{d.AgentID}, d.AdditionalAgents...)
}

// routeReply is the JSON shape the model is asked to produce.
type routeReply struct {
	AgentID          string   `json:"agentId" jsonschema:"required,description=Name of the agent that should handle the request"`
	Reasoning        string   `json:"reasoning" jsonschema:"required,description=One short sentence explaining the choice"`
	Confidence       float64  `json:"confidence" jsonschema:"required,minimum=0,maximum=1,description=How certain the routing is"`
	AdditionalAgents []string `json:"additionalAgents,omitempty" jsonschema:"description=Other agents to dispatch in parallel when the request spans several domains"`
}

// retryDelay is the base backoff before the single retry; a jitter of
// the same magnitude is added on top.
const retryDelay = 150 * time.Millisecond

// Router turns request text into a Decision.
type Router struct {
	cfg      *config.RouterConfig
	provider llm.Provider
	cache    *promptcache.Cache
	registry *agent.Registry
	fallback string
	output   *llm.StructuredOutput
	count    tokenCounter
	logger   *slog.Logger
}

// New creates a router. cache may be nil when caching is disabled;
// fallback must name a registered agent.
func New(cfg *config.RouterConfig, provider llm.Provider, cache *promptcache.Cache, registry *agent.Registry, fallback string, logger *slog.Logger) (*Router, error) {
	if provider == nil {
		return nil, fmt.Errorf("router requires a language model provider")
	}
	if registry == nil {
		return nil, fmt.Errorf("router requires an agent registry")
	}
	if _, ok := registry.Get(fallback); !ok {
		return nil, fmt.Errorf("fallback agent %q is not registered", fallback)
	}
	if logger == nil {
		logger = slog.Default()
	}

	output, err := decisionOutput()
	if err != nil {
		return nil, err
	}

	return &Router{
		cfg:      cfg,
		provider: provider,
		cache:    cache,
		registry: registry,
		fallback: fallback,
		output:   output,
		count:    newTokenCounter(),
		logger:   logger.With("component", "router"),
	}, nil
}

// Route picks the agents for a request. It never returns an error:
// cache and model failures degrade to the fallback agent so the
// request always goes somewhere.
func (r *Router) Route(ctx context.Context, req agent.Request, history []session.Turn) Decision {
	if hit := r.lookupCache(ctx, req.Text); hit != nil {
		return *hit
	}

	messages := composePrompt(r.registry.List(), history, req.Text, r.cfg.MaxPromptTokens, r.count)

	text, err := r.generate(ctx, messages)
	if err != nil {
		r.logger.Warn("Routing model call failed, using fallback agent", "error", err)
		return r.fallbackDecision(fmt.Sprintf("routing failed: %v", err), 0)
	}

	reply, err := parseReply(text)
	if err != nil {
		r.logger.Warn("Routing reply unparseable, using fallback agent", "error", err)
		return r.fallbackDecision(fmt.Sprintf("routing reply unparseable: %v", err), 0)
	}

	decision := r.validate(reply)

	if decision.Source == SourceModel && !decision.Clarify && decision.Confidence >= r.cfg.AdmissionConfidence() {
		r.storeCache(ctx, req.Text, decision)
	}
	return decision
}

// lookupCache returns a decision served from the prompt cache, or nil
// when there is none. A cached decision naming an agent that has since
// left the registry is ignored so the model can re-route.
func (r *Router) lookupCache(ctx context.Context, text string) *Decision {
	if r.cache == nil {
		return nil
	}
	hit := r.cache.Lookup(ctx, text)
	if hit == nil {
		return nil
	}

	if _, ok := r.registry.Get(hit.Decision.AgentID); !ok {
		r.logger.Warn("Cached decision names unknown agent, re-routing", "agent", hit.Decision.AgentID)
		return nil
	}

	source := SourceCacheExact
	if hit.Source == promptcache.SourceSemantic {
		source = SourceCacheSemantic
	}
	r.logger.Debug("Routing served from cache",
		"agent", hit.Decision.AgentID,
		"source", source,
		"score", hit.Score)

	return &Decision{
		AgentID:          hit.Decision.AgentID,
		AdditionalAgents: r.known(hit.Decision.AdditionalAgents, hit.Decision.AgentID),
		Confidence:       hit.Decision.Confidence,
		Reasoning:        hit.Decision.Reasoning,
		Source:           source,
	}
}

func (r *Router) storeCache(ctx context.Context, text string, d Decision) {
	if r.cache == nil {
		return
	}
	r.cache.Store(ctx, text, promptcache.Decision{
		AgentID:          d.AgentID,
		AdditionalAgents: d.AdditionalAgents,
		Confidence:       d.Confidence,
		Reasoning:        d.Reasoning,
	})
}

// generate calls the model with one retry. Each attempt gets its own
// timeout; the retry is skipped when the caller's context is done.
func (r *Router) generate(ctx context.Context, messages []llm.Message) (string, error) {
	text, err := r.attempt(ctx, messages)
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", err
	}

	delay := retryDelay + rand.N(retryDelay)
	r.logger.Debug("Routing model call failed, retrying", "delay", delay, "error", err)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return "", err
	}

	return r.attempt(ctx, messages)
}

func (r *Router) attempt(ctx context.Context, messages []llm.Message) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout())
	defer cancel()

	text, _, err := r.provider.GenerateStructured(cctx, messages, r.output)
	return text, err
}

// validate turns a parsed model reply into a Decision, redirecting to
// the fallback agent on anything the registry cannot honor.
func (r *Router) validate(reply *routeReply) Decision {
	agentID := strings.TrimSpace(reply.AgentID)

	if reply.Confidence < 0 || reply.Confidence > 1 {
		r.logger.Warn("Routing reply has out-of-range confidence, using fallback agent",
			"confidence", reply.Confidence, "agent", agentID)
		return r.fallbackDecision(fmt.Sprintf("model confidence %g out of range", reply.Confidence), 0)
	}
	if agentID == "" {
		r.logger.Warn("Routing reply named no agent, using fallback agent")
		return r.fallbackDecision("model named no agent", reply.Confidence)
	}
	if _, ok := r.registry.Get(agentID); !ok {
		r.logger.Warn("Routing reply names unknown agent, using fallback agent", "agent", agentID)
		return r.fallbackDecision(fmt.Sprintf("model chose unknown agent %q", agentID), reply.Confidence)
	}

	extra := r.known(reply.AdditionalAgents, agentID)

	if reply.Confidence < r.cfg.Floor() {
		if len(extra) > 0 {
			candidates := append([]string{agentID}, extra...)
			r.logger.Info("Routing confidence below floor with several candidates, asking for clarification",
				"confidence", reply.Confidence, "candidates", candidates)
			return Decision{
				AgentID:          agentID,
				AdditionalAgents: extra,
				Confidence:       reply.Confidence,
				Reasoning:        strings.TrimSpace(reply.Reasoning),
				Source:           SourceModel,
				Clarify:          true,
				Candidates:       candidates,
			}
		}
		r.logger.Info("Routing confidence below floor, using fallback agent",
			"confidence", reply.Confidence, "agent", agentID)
		return r.fallbackDecision(
			fmt.Sprintf("confidence %.2f below floor for %s", reply.Confidence, agentID),
			reply.Confidence)
	}

	return Decision{
		AgentID:          agentID,
		AdditionalAgents: extra,
		Confidence:       reply.Confidence,
		Reasoning:        strings.TrimSpace(reply.Reasoning),
		Source:           SourceModel,
	}
}

func (r *Router) fallbackDecision(reason string, confidence float64) Decision {
	return Decision{
		AgentID:    r.fallback,
		Confidence: confidence,
		Reasoning:  reason,
		Source:     SourceFallback,
	}
}

// known filters names to registered agents, dropping blanks,
// duplicates and the primary agent.
func (r *Router) known(names []string, primary string) []string {
	var out []string
	seen := map[string]bool{primary: true}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := r.registry.Get(name); !ok {
			r.logger.Debug("Dropping unknown additional agent", "agent", name)
			continue
		}
		out = append(out, name)
	}
	return out
}

// parseReply decodes the model's JSON, repairing prose wrappers and
// truncated output before giving up.
func parseReply(text string) (*routeReply, error) {
	trimmed := clipJSON(strings.TrimSpace(text))
	if trimmed == "" {
		return nil, fmt.Errorf("empty model reply")
	}

	var reply routeReply
	if err := json.Unmarshal([]byte(trimmed), &reply); err == nil {
		return &reply, nil
	}

	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return nil, fmt.Errorf("repairing model reply: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &reply); err != nil {
		return nil, fmt.Errorf("decoding repaired model reply: %w", err)
	}
	return &reply, nil
}

// clipJSON cuts prose and code fences around the outermost object.
// Truncated output has no closing brace; everything from the first
// brace on is kept for the repair pass.
func clipJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return text
	}
	if end := strings.LastIndexByte(text, '}'); end > start {
		return text[start : end+1]
	}
	return text[start:]
}

// decisionOutput reflects the routeReply schema once at construction.
func decisionOutput() (*llm.StructuredOutput, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(&routeReply{})

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling routing schema: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding routing schema: %w", err)
	}

	return &llm.StructuredOutput{
		Name:    "route_decision",
		Schema:  doc,
		Prefill: "{",
	}, nil
}
