package workflow

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// contextGate serializes requests that share a context identifier.
// Each context gets a one-slot semaphore; later arrivals queue behind
// the holder up to a bounded depth and are rejected beyond it.
// Distinct contexts never contend.
type contextGate struct {
	mu    sync.Mutex
	slots map[string]*gateSlot
}

type gateSlot struct {
	sem *semaphore.Weighted

	// waiters counts the holder plus everyone queued behind it. Slots
	// are dropped from the map when it reaches zero.
	waiters int
}

func newContextGate() *contextGate {
	return &contextGate{slots: make(map[string]*gateSlot)}
}

// acquire claims the context's slot, queueing behind an in-flight
// request when necessary. depth bounds the queue; an arrival finding
// it full gets ErrBusy, and an arrival whose ctx dies while queued
// gets the context error. The returned release must be called exactly
// once.
func (g *contextGate) acquire(ctx context.Context, contextID string, depth int) (func(), error) {
	g.mu.Lock()
	slot, ok := g.slots[contextID]
	if !ok {
		slot = &gateSlot{sem: semaphore.NewWeighted(1)}
		g.slots[contextID] = slot
	}
	if slot.waiters > depth {
		g.mu.Unlock()
		return nil, ErrBusy
	}
	slot.waiters++
	g.mu.Unlock()

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		g.leave(contextID, slot)
		return nil, err
	}

	return func() {
		slot.sem.Release(1)
		g.leave(contextID, slot)
	}, nil
}

func (g *contextGate) leave(contextID string, slot *gateSlot) {
	g.mu.Lock()
	slot.waiters--
	if slot.waiters == 0 {
		delete(g.slots, contextID)
	}
	g.mu.Unlock()
}
