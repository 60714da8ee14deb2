// Package agent defines the agent-facing half of the orchestrator: the
// request envelope handed to agents, the descriptor registry the
// router selects from, and the invoker that normalizes local, remote,
// and keyed transports into one response shape.
package agent

import (
	"context"
	"time"

	"github.com/majordomohq/majordomo/pkg/a2a"
	"github.com/majordomohq/majordomo/pkg/config"
	"github.com/majordomohq/majordomo/pkg/registry"
)

// Request is the envelope every agent receives. Copies are handed
// downstream; agents must not mutate it.
type Request struct {
	// Text is the user utterance.
	Text string `json:"text"`

	// ContextID groups related requests into one conversation.
	ContextID string `json:"contextId"`

	// TaskID addresses a specific long-running operation, when the
	// request continues one.
	TaskID string `json:"taskId,omitempty"`

	// Metadata is a small free-form mapping passed through verbatim.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Descriptor is the public metadata of one routable agent.
type Descriptor struct {
	// Name is the stable agent identifier, unique in the registry.
	Name string

	// Description is what the router reads when placing a request.
	Description string

	// Transport selects how the agent is reached.
	Transport config.AgentTransport

	// Handler is the in-process handle for local transport.
	Handler Handler

	// URL is the JSON-RPC endpoint for remote transport.
	URL string

	// Key is resolved through the locator for keyed transport.
	Key string

	// Timeout bounds one invocation of this agent.
	Timeout time.Duration

	// Priority orders this agent's text in a combined reply; lower
	// comes first.
	Priority int

	// LongRunning declares the agent may answer with a task that
	// outlives the request. Without it, any non-completed task reply
	// is a contract violation.
	LongRunning bool

	// StateHistory reports whether the agent keeps state-transition
	// history for its tasks. Learned from the remote card.
	StateHistory bool

	// Skills advertised by the remote card, for the directory listing.
	Skills []a2a.AgentSkill
}

// FromConfig builds a descriptor from its configuration section. The
// handler for local transport and the card-derived capabilities for
// remote transport are filled in by the runtime afterwards.
func FromConfig(name string, cfg *config.AgentConfig) *Descriptor {
	return &Descriptor{
		Name:        name,
		Description: cfg.Description,
		Transport:   cfg.Transport,
		URL:         cfg.URL,
		Key:         cfg.Key,
		Timeout:     cfg.Timeout(),
		Priority:    cfg.Priority,
		LongRunning: cfg.LongRunning,
	}
}

// Card renders the descriptor as an A2A agent card for the directory
// endpoint.
func (d *Descriptor) Card() a2a.AgentCard {
	return a2a.AgentCard{
		Name:               d.Name,
		Description:        d.Description,
		URL:                d.URL,
		PreferredTransport: a2a.TransportJSONRPC,
		Capabilities: a2a.AgentCapabilities{
			StateTransitionHistory: d.StateHistory,
		},
		Skills: d.Skills,
	}
}

// Registry holds the routable agent descriptors.
type Registry struct {
	*registry.BaseRegistry[*Descriptor]
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[*Descriptor]()}
}

// Filter returns the descriptors matching keep, in name order.
func (r *Registry) Filter(keep func(*Descriptor) bool) []*Descriptor {
	var out []*Descriptor
	for _, d := range r.List() {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// LongRunning returns the descriptors declaring long-running support.
func (r *Registry) LongRunning() []*Descriptor {
	return r.Filter(func(d *Descriptor) bool { return d.LongRunning })
}

// Handler is an in-process agent implementation. Handlers honor ctx
// cancellation; the invoker enforces the per-agent deadline with it.
type Handler interface {
	Handle(ctx context.Context, req Request) (Reply, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (Reply, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (Reply, error) {
	return f(ctx, req)
}

// Locator resolves keyed-transport agents to in-process handlers at
// invocation time. Hosting processes register handlers under opaque
// keys; the binding may change between calls.
type Locator interface {
	Resolve(key string) (Handler, bool)
}

// HandlerMap is a Locator backed by a registry of handlers.
type HandlerMap struct {
	*registry.BaseRegistry[Handler]
}

// NewHandlerMap creates an empty handler locator.
func NewHandlerMap() *HandlerMap {
	return &HandlerMap{BaseRegistry: registry.NewBaseRegistry[Handler]()}
}

// Resolve implements Locator.
func (m *HandlerMap) Resolve(key string) (Handler, bool) {
	return m.Get(key)
}
