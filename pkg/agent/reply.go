package agent

import "time"

// ReplyKind discriminates the shapes an agent may answer with.
type ReplyKind string

const (
	// ReplyText is a plain answer; the work is done.
	ReplyText ReplyKind = "text"

	// ReplyTaskWorking reports an operation continuing past this
	// request.
	ReplyTaskWorking ReplyKind = "task-working"

	// ReplyTaskInputRequired means the agent needs clarifying user
	// input before it can proceed.
	ReplyTaskInputRequired ReplyKind = "task-input-required"
)

// Reply is the tagged variant an agent answers with. Errors travel on
// the error return of Handler.Handle, not in the reply.
type Reply struct {
	// Kind selects the variant.
	Kind ReplyKind

	// Text is the agent's message for the user.
	Text string

	// PerformedAction marks that a tool effect already happened, so
	// the orchestrator reports progress rather than a final answer.
	// Meaningful only with ReplyTaskWorking.
	PerformedAction bool

	// Continuation is agent-private state persisted with the task and
	// handed back on the follow-up request. Opaque to the core.
	Continuation map[string]any
}

// TextReply answers with a final message.
func TextReply(text string) Reply {
	return Reply{Kind: ReplyText, Text: text}
}

// WorkingReply reports an operation that continues past this request.
// performedAction marks that a tool effect already occurred.
func WorkingReply(text string, performedAction bool) Reply {
	return Reply{Kind: ReplyTaskWorking, Text: text, PerformedAction: performedAction}
}

// InputRequiredReply asks the user a clarifying question.
func InputRequiredReply(question string) Reply {
	return Reply{Kind: ReplyTaskInputRequired, Text: question}
}

// Response is the normalized outcome of one agent invocation, the
// shape the aggregator composes from. Exactly one is produced per
// dispatched agent, success or not.
type Response struct {
	// AgentID names the agent that produced this response.
	AgentID string `json:"agentId"`

	// Content is the agent's text, empty on failure.
	Content string `json:"content,omitempty"`

	// Success is false when the invocation failed or timed out.
	Success bool `json:"success"`

	// Error holds the failure description when Success is false.
	Error string `json:"error,omitempty"`

	// Elapsed is the invocation wall time.
	Elapsed time.Duration `json:"elapsed"`

	// NeedsInput marks the agent waiting on clarifying user input.
	NeedsInput bool `json:"needsInput,omitempty"`

	// PerformedAction marks a tool effect behind a continuing task.
	PerformedAction bool `json:"performedAction,omitempty"`

	// Continuation is the agent-private blob to persist with the
	// task, when the reply carried one.
	Continuation map[string]any `json:"-"`
}

// failedResponse builds the uniform failure shape.
func failedResponse(agentID string, elapsed time.Duration, err error) Response {
	return Response{
		AgentID: agentID,
		Success: false,
		Error:   err.Error(),
		Elapsed: elapsed,
	}
}
