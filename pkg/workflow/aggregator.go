package workflow

import (
	"sort"
	"strings"
	"sync"

	"github.com/majordomohq/majordomo/pkg/agent"
)

// aggState tracks the aggregator's lifecycle: empty until the first
// response arrives, collecting until Close.
type aggState int

const (
	aggEmpty aggState = iota
	aggCollecting
	aggClosed
)

// Aggregator collects branch responses and composes the single reply
// the user sees. It concatenates in priority order and inserts
// connective tissue; it never rewrites agent text and never reorders
// within a priority tier.
type Aggregator struct {
	mu        sync.Mutex
	state     aggState
	responses []agent.Response
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add records one branch response. Responses arriving after Close are
// dropped; the reply has already been composed.
func (a *Aggregator) Add(resp agent.Response) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == aggClosed {
		return
	}
	a.state = aggCollecting
	a.responses = append(a.responses, resp)
}

// Result is the composed outcome of one request.
type Result struct {
	// Text is the unified reply.
	Text string

	// NeedsInput is set when any successful branch asked a question;
	// the reply must keep the conversation open. InputAgent names the
	// first asking branch in priority order.
	NeedsInput bool
	InputAgent string

	// PerformedAction is set when a branch reported a tool effect
	// behind a continuing task. ActionAgent names it.
	PerformedAction bool
	ActionAgent     string

	// Continuation is the agent-private state to persist with the
	// task, from the first branch (in priority order) that supplied
	// one.
	Continuation map[string]any

	// AnyFailed and AllFailed summarize branch outcomes. AllFailed is
	// false when nothing was dispatched.
	AnyFailed bool
	AllFailed bool

	// Responses holds every branch outcome in priority order.
	Responses []agent.Response
}

// Close seals the aggregator and composes the reply. rank maps an
// agent to its priority (lower first); unknown agents rank last.
// Calling Close twice returns the composition of the same responses.
func (a *Aggregator) Close(rank func(agentID string) int) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = aggClosed

	ordered := make([]agent.Response, len(a.responses))
	copy(ordered, a.responses)
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i].AgentID) < rank(ordered[j].AgentID)
	})

	result := Result{Responses: ordered}

	var parts []string
	var failures []agent.Response
	for _, resp := range ordered {
		if !resp.Success {
			failures = append(failures, resp)
			continue
		}
		if resp.NeedsInput && !result.NeedsInput {
			result.NeedsInput = true
			result.InputAgent = resp.AgentID
		}
		if resp.PerformedAction && !result.PerformedAction {
			result.PerformedAction = true
			result.ActionAgent = resp.AgentID
		}
		if result.Continuation == nil && resp.Continuation != nil {
			result.Continuation = resp.Continuation
		}
		if text := strings.TrimSpace(resp.Content); text != "" {
			parts = append(parts, text)
		}
	}

	result.AnyFailed = len(failures) > 0
	result.AllFailed = len(failures) == len(ordered) && len(ordered) > 0

	if result.AllFailed {
		result.Text = apology(failures[0])
		return result
	}

	result.Text = join(parts)
	if len(failures) > 0 {
		result.Text = appendTrailer(result.Text, failures)
	}
	return result
}

// join concatenates successive messages with connectors: the second
// gets "Also, ", the third and later "And, ".
func join(parts []string) string {
	if len(parts) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(parts[0])
	for i, part := range parts[1:] {
		b.WriteString(" ")
		if i == 0 {
			b.WriteString("Also, ")
		} else {
			b.WriteString("And, ")
		}
		b.WriteString(part)
	}
	return b.String()
}

// appendTrailer adds the single failure sentence, listing every
// failed branch in priority order.
func appendTrailer(text string, failures []agent.Response) string {
	var b strings.Builder
	if text != "" {
		b.WriteString(text)
		b.WriteString(" ")
	}

	b.WriteString("However, I wasn't able to complete the ")
	for i, f := range failures {
		if i > 0 {
			b.WriteString("; or the ")
		}
		b.WriteString(f.AgentID)
		b.WriteString(" request because ")
		b.WriteString(f.Error)
	}
	b.WriteString(".")
	return b.String()
}

// apology is the all-failed reply, quoting the first error in
// priority order.
func apology(first agent.Response) string {
	return "I'm sorry, I couldn't complete your request because " + first.Error + "."
}
