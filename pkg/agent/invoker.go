package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/majordomohq/majordomo/pkg/a2a"
	"github.com/majordomohq/majordomo/pkg/config"
)

// MetadataPerformedAction is the task metadata key a remote agent sets
// to mark that a tool effect already occurred.
const MetadataPerformedAction = "performedAction"

// Invoker calls agents across the three transports and normalizes
// whatever comes back into a Response. It never returns an error:
// failures become failed responses, and retry policy belongs to the
// caller.
type Invoker struct {
	locator    Locator
	clientOpts []a2a.ClientOption
	logger     *slog.Logger

	// mu guards clients, one JSON-RPC client per remote endpoint.
	mu      sync.Mutex
	clients map[string]*a2a.Client
}

// InvokerOption configures the invoker.
type InvokerOption func(*Invoker)

// WithClientOptions forwards options to every remote JSON-RPC client
// the invoker creates.
func WithClientOptions(opts ...a2a.ClientOption) InvokerOption {
	return func(inv *Invoker) {
		inv.clientOpts = append(inv.clientOpts, opts...)
	}
}

// NewInvoker builds an invoker. The locator may be nil when no keyed
// agents are configured.
func NewInvoker(locator Locator, opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		locator: locator,
		logger:  slog.Default().With("component", "invoker"),
		clients: make(map[string]*a2a.Client),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke calls one agent with the request under the descriptor's
// timeout and returns the normalized response. Cancellation of ctx is
// passed through: local and keyed handlers see it directly, remote
// calls abandon the outbound request.
func (inv *Invoker) Invoke(ctx context.Context, d *Descriptor, req Request) Response {
	start := time.Now()

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	var resp Response
	switch d.Transport {
	case config.TransportLocal:
		resp = inv.invokeLocal(ctx, d, d.Handler, req, start)
	case config.TransportKeyed:
		handler, ok := inv.resolve(d)
		if !ok {
			return failedResponse(d.Name, time.Since(start),
				fmt.Errorf("no handler bound for key %q", d.Key))
		}
		resp = inv.invokeLocal(ctx, d, handler, req, start)
	case config.TransportRemote:
		resp = inv.invokeRemote(ctx, d, req, start)
	default:
		resp = failedResponse(d.Name, time.Since(start),
			fmt.Errorf("unknown transport %q", d.Transport))
	}

	if !resp.Success {
		inv.logger.Debug("Agent invocation failed",
			"agent", d.Name, "transport", d.Transport, "error", resp.Error, "elapsed", resp.Elapsed)
	}
	return resp
}

// resolve looks up the handler for a keyed descriptor.
func (inv *Invoker) resolve(d *Descriptor) (Handler, bool) {
	if inv.locator == nil {
		return nil, false
	}
	return inv.locator.Resolve(d.Key)
}

// invokeLocal runs an in-process handler and classifies its reply.
func (inv *Invoker) invokeLocal(ctx context.Context, d *Descriptor, handler Handler, req Request, start time.Time) Response {
	if handler == nil {
		return failedResponse(d.Name, time.Since(start),
			fmt.Errorf("agent %q has no handler", d.Name))
	}

	reply, err := handler.Handle(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		return failedResponse(d.Name, elapsed, normalizeErr(err, d.Timeout))
	}

	return inv.classifyReply(d, reply, elapsed)
}

// classifyReply is the single place a local reply variant becomes a
// response.
func (inv *Invoker) classifyReply(d *Descriptor, reply Reply, elapsed time.Duration) Response {
	resp := Response{
		AgentID:      d.Name,
		Content:      reply.Text,
		Success:      true,
		Elapsed:      elapsed,
		Continuation: reply.Continuation,
	}

	switch reply.Kind {
	case ReplyText, "":
		resp.Continuation = nil

	case ReplyTaskInputRequired:
		if !d.LongRunning {
			return failedResponse(d.Name, elapsed, contractViolation(d, "input-required"))
		}
		resp.NeedsInput = true

	case ReplyTaskWorking:
		if !d.LongRunning {
			return failedResponse(d.Name, elapsed, contractViolation(d, "working"))
		}
		resp.PerformedAction = reply.PerformedAction

	default:
		return failedResponse(d.Name, elapsed,
			fmt.Errorf("agent %q answered with unrecognized reply kind %q", d.Name, reply.Kind))
	}

	return resp
}

// invokeRemote synthesizes a message/send call, awaits the reply, and
// classifies the message-or-task union.
func (inv *Invoker) invokeRemote(ctx context.Context, d *Descriptor, req Request, start time.Time) Response {
	msg := a2a.NewUserMessage(req.Text, req.ContextID)
	msg.TaskID = req.TaskID

	result, err := inv.client(d.URL).SendMessage(ctx, a2a.MessageSendParams{
		Message:  msg,
		Metadata: req.Metadata,
	})
	elapsed := time.Since(start)
	if err != nil {
		return failedResponse(d.Name, elapsed, normalizeErr(err, d.Timeout))
	}

	return inv.classifyResult(d, result, elapsed)
}

// classifyResult is the single place a remote message-or-task reply
// becomes a response.
func (inv *Invoker) classifyResult(d *Descriptor, result *a2a.SendMessageResult, elapsed time.Duration) Response {
	switch {
	case result.Message != nil:
		return Response{
			AgentID: d.Name,
			Content: a2a.Text(result.Message),
			Success: true,
			Elapsed: elapsed,
		}

	case result.Task != nil:
		return inv.classifyTask(d, result.Task, elapsed)

	default:
		return failedResponse(d.Name, elapsed,
			fmt.Errorf("agent %q returned an empty reply", d.Name))
	}
}

func (inv *Invoker) classifyTask(d *Descriptor, task *a2a.Task, elapsed time.Duration) Response {
	state := task.Status.State
	content := a2a.TaskText(task)

	if state == a2a.TaskStateCompleted {
		return Response{AgentID: d.Name, Content: content, Success: true, Elapsed: elapsed}
	}

	if !d.LongRunning {
		return failedResponse(d.Name, elapsed, contractViolation(d, string(state)))
	}

	switch state {
	case a2a.TaskStateInputRequired:
		return Response{
			AgentID:      d.Name,
			Content:      content,
			Success:      true,
			Elapsed:      elapsed,
			NeedsInput:   true,
			Continuation: remoteContinuation(task),
		}

	case a2a.TaskStateWorking, a2a.TaskStateSubmitted:
		return Response{
			AgentID:         d.Name,
			Content:         content,
			Success:         true,
			Elapsed:         elapsed,
			PerformedAction: taskPerformedAction(task),
			Continuation:    remoteContinuation(task),
		}

	case a2a.TaskStateFailed:
		if content == "" {
			content = "task failed"
		}
		return failedResponse(d.Name, elapsed, errors.New(content))

	case a2a.TaskStateCancelled:
		return failedResponse(d.Name, elapsed, fmt.Errorf("agent %q cancelled the task", d.Name))

	default:
		return failedResponse(d.Name, elapsed,
			fmt.Errorf("agent %q returned task in unrecognized state %q", d.Name, state))
	}
}

// client returns the JSON-RPC client for an endpoint, creating it on
// first use.
func (inv *Invoker) client(endpoint string) *a2a.Client {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if c, ok := inv.clients[endpoint]; ok {
		return c
	}
	c := a2a.NewClient(endpoint, inv.clientOpts...)
	inv.clients[endpoint] = c
	return c
}

// contractViolation reports a non-completed task reply from an agent
// that disclaims long-running support.
func contractViolation(d *Descriptor, state string) error {
	return fmt.Errorf("agent %q answered with a %s task but does not declare long-running support", d.Name, state)
}

// normalizeErr rewrites context errors into user-facing failure text.
// Transport errors wrap the context error, so matching happens on the
// returned error rather than on ctx.
func normalizeErr(err error, timeout time.Duration) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		if timeout > 0 {
			return fmt.Errorf("timed out after %s", timeout)
		}
		return errors.New("timed out")
	case errors.Is(err, context.Canceled):
		return errors.New("cancelled")
	}
	return err
}

// taskPerformedAction reads the tool-effect marker from task metadata.
func taskPerformedAction(task *a2a.Task) bool {
	v, ok := task.Metadata[MetadataPerformedAction]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// remoteContinuation captures what a follow-up request needs to reach
// the remote task again.
func remoteContinuation(task *a2a.Task) map[string]any {
	cont := map[string]any{"remoteTaskId": task.ID}
	for k, v := range task.Metadata {
		cont[k] = v
	}
	return cont
}
