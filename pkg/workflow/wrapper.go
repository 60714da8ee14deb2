// Package workflow runs the request pipeline: route, fan out to the
// chosen agents, aggregate their responses into one reply, and keep
// the session and task records straight. The driver is the only
// component that writes to the session store.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/majordomohq/majordomo/pkg/agent"
	"github.com/majordomohq/majordomo/pkg/events"
	"github.com/majordomohq/majordomo/pkg/observability"
)

// Wrapper executes one branch of the fan-out: resolve the descriptor,
// invoke the agent, normalize the outcome. It never panics and never
// returns an error; anything that goes wrong becomes a failed
// response for the aggregator to report.
type Wrapper struct {
	invoker  *agent.Invoker
	registry *agent.Registry
	bus      *events.Bus
	logger   *slog.Logger
}

// NewWrapper builds the branch executor shared by all requests.
func NewWrapper(invoker *agent.Invoker, registry *agent.Registry, bus *events.Bus, logger *slog.Logger) *Wrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Wrapper{
		invoker:  invoker,
		registry: registry,
		bus:      bus,
		logger:   logger.With("component", "wrapper"),
	}
}

// Execute runs one agent for one request and reports the branch
// lifecycle on the event bus.
func (w *Wrapper) Execute(ctx context.Context, requestID, agentID string, req agent.Request) (resp agent.Response) {
	start := time.Now()
	w.publish(events.AgentStarted(requestID, req.ContextID, agentID))

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Agent branch panicked", "agent", agentID, "panic", r)
			resp = agent.Response{
				AgentID: agentID,
				Error:   fmt.Sprintf("agent %q panicked: %v", agentID, r),
				Elapsed: time.Since(start),
			}
		}
		w.finish(ctx, requestID, req.ContextID, resp)
	}()

	d, ok := w.registry.Get(agentID)
	if !ok {
		resp = agent.Response{
			AgentID: agentID,
			Error:   fmt.Sprintf("agent %q is not registered", agentID),
			Elapsed: time.Since(start),
		}
		return resp
	}

	return w.invoker.Invoke(ctx, d, req)
}

func (w *Wrapper) finish(ctx context.Context, requestID, contextID string, resp agent.Response) {
	w.publish(events.AgentCompleted(requestID, contextID, resp.AgentID, resp.Success, resp.Error, resp.Elapsed))
	observability.GlobalRecorder().RecordAgentInvocation(ctx, resp.AgentID, resp.Success, resp.Elapsed)
}

func (w *Wrapper) publish(e events.Event) {
	if w.bus != nil {
		w.bus.Publish(e)
	}
}
