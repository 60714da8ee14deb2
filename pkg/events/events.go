// Package events carries the workflow lifecycle notifications:
// routing outcomes, per-agent dispatch boundaries and the final
// output of each request. Subscribers get them over buffered
// channels; an optional NATS mirror republishes them for consumers
// outside the process.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type labels a lifecycle event.
type Type string

const (
	// TypeRoutingCompleted fires once the router has settled on the
	// agents for a request.
	TypeRoutingCompleted Type = "routing-completed"

	// TypeAgentStarted fires when a dispatch branch begins.
	TypeAgentStarted Type = "agent-started"

	// TypeAgentCompleted fires when a dispatch branch finishes,
	// successfully or not.
	TypeAgentCompleted Type = "agent-completed"

	// TypeWorkflowOutput fires with the final reply of a request.
	TypeWorkflowOutput Type = "workflow-output"
)

// Event is one lifecycle notification. Data holds the type-specific
// payload; the envelope fields identify the request it belongs to.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	RequestID string         `json:"requestId"`
	ContextID string         `json:"contextId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	ElapsedMs int64          `json:"elapsedMs,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// New creates an event envelope stamped with a fresh ID and the
// current time.
func New(t Type, requestID, contextID string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		RequestID: requestID,
		ContextID: contextID,
		Timestamp: time.Now().UTC(),
	}
}

// RoutingCompleted reports the routing decision for a request.
func RoutingCompleted(requestID, contextID string, agents []string, source string, confidence float64, elapsed time.Duration) Event {
	e := New(TypeRoutingCompleted, requestID, contextID)
	e.ElapsedMs = elapsed.Milliseconds()
	e.Data = map[string]any{
		"agents":     agents,
		"source":     source,
		"confidence": confidence,
	}
	return e
}

// AgentStarted reports that a dispatch branch began.
func AgentStarted(requestID, contextID, agentID string) Event {
	e := New(TypeAgentStarted, requestID, contextID)
	e.Data = map[string]any{"agent": agentID}
	return e
}

// AgentCompleted reports that a dispatch branch finished.
func AgentCompleted(requestID, contextID, agentID string, success bool, errText string, elapsed time.Duration) Event {
	e := New(TypeAgentCompleted, requestID, contextID)
	e.ElapsedMs = elapsed.Milliseconds()
	e.Data = map[string]any{
		"agent":   agentID,
		"success": success,
	}
	if errText != "" {
		e.Data["error"] = errText
	}
	return e
}

// WorkflowOutput reports the final reply of a request. state is the
// task state the caller sees, or "completed" for a plain reply.
func WorkflowOutput(requestID, contextID, taskID, state, reply string, elapsed time.Duration) Event {
	e := New(TypeWorkflowOutput, requestID, contextID)
	e.TaskID = taskID
	e.ElapsedMs = elapsed.Milliseconds()
	e.Data = map[string]any{
		"state": state,
		"reply": reply,
	}
	return e
}

// Publisher accepts events. The bus and the NATS mirror implement it.
type Publisher interface {
	Publish(e Event)
}

// Bus fans events out to in-process subscribers. Publish never
// blocks: a subscriber that falls behind its buffer loses events, the
// request path does not wait for it.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	buffer int
	closed bool

	dropped atomic.Int64
	mirror  Publisher
	logger  *slog.Logger
}

// NewBus creates a bus whose subscriber channels hold buffer events.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer < 1 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
		logger: logger.With("component", "events"),
	}
}

// Mirror attaches a secondary publisher, typically the NATS mirror,
// that receives every published event. Call before the first Publish.
func (b *Bus) Mirror(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mirror = p
}

// Subscribe registers a listener. The returned cancel func detaches
// it and closes the channel; call it exactly once.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber that has buffer room, then
// to the mirror. It is safe from any goroutine and never blocks.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
				b.logger.Warn("Subscriber buffer full, dropping events", "dropped", n, "type", e.Type)
			}
		}
	}

	if b.mirror != nil {
		b.mirror.Publish(e)
	}
}

// Dropped returns how many events were lost to full subscriber
// buffers since the bus was created.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close detaches all subscribers and closes their channels. Publish
// becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
