package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/majordomohq/majordomo/pkg/a2a"
	"github.com/majordomohq/majordomo/pkg/agent"
	"github.com/majordomohq/majordomo/pkg/config"
	"github.com/majordomohq/majordomo/pkg/events"
	"github.com/majordomohq/majordomo/pkg/observability"
	"github.com/majordomohq/majordomo/pkg/router"
	"github.com/majordomohq/majordomo/pkg/session"
)

// Sentinel errors the transport converts to wire error shapes. Nothing
// else escapes the driver except context errors after cancellation.
var (
	// ErrBusy rejects a request whose context already has a full queue.
	ErrBusy = errors.New("too many queued requests for this context")

	// ErrTaskNotFound reports an unknown task identifier.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotCancelable reports a cancel attempt on a task already
	// in a terminal state.
	ErrTaskNotCancelable = errors.New("task is in a terminal state")
)

// Task metadata keys the driver writes. Everything else in task
// metadata is agent-private continuation state, passed through
// verbatim.
const (
	// metaAgent names the agent whose reply opened or advanced the task.
	metaAgent = "agent"

	// metaCandidates lists the agents offered by a clarification
	// question.
	metaCandidates = "candidates"
)

// historyWindow is how many recent turns the router sees. The router
// trims further to its token budget.
const historyWindow = 12

// Driver runs the pipeline for one request: serialize per context,
// load the session, route, fan out, aggregate, classify, persist. It
// is re-entrant; per-context ordering is the only coupling between
// concurrent requests.
//
// The session is written twice per request: once with the user turn
// before routing, once with the assistant turn after aggregation. A
// cancelled request skips the second write, so its transcript keeps
// the user turn but never a half-finished reply.
type Driver struct {
	cfg      *config.Config
	router   *router.Router
	wrapper  *Wrapper
	registry *agent.Registry
	store    *session.Store
	bus      *events.Bus
	gate     *contextGate
	logger   *slog.Logger

	// mu guards inflight, the cancel handles tasks/cancel can reach.
	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// NewDriver wires the pipeline. bus may be nil when nothing subscribes
// to workflow events.
func NewDriver(cfg *config.Config, rt *router.Router, wrapper *Wrapper, registry *agent.Registry, store *session.Store, bus *events.Bus, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		cfg:      cfg,
		router:   rt,
		wrapper:  wrapper,
		registry: registry,
		store:    store,
		bus:      bus,
		gate:     newContextGate(),
		logger:   logger.With("component", "driver"),
		inflight: make(map[string]context.CancelFunc),
	}
}

// Process handles one message/send call end to end and returns the
// message-or-task union for the transport to serialize. The returned
// error is ErrBusy, a context error after cancellation or timeout, or
// nil.
func (d *Driver) Process(ctx context.Context, msg a2a.Message, metadata map[string]any) (*a2a.SendMessageResult, error) {
	start := time.Now()
	requestID := uuid.NewString()

	contextID := msg.ContextID
	if contextID == "" {
		contextID = uuid.NewString()
	}

	text := strings.TrimSpace(a2a.Text(&msg))
	if text == "" {
		return d.emptyReply(ctx, requestID, contextID, start), nil
	}

	rctx, cancel := context.WithTimeout(ctx, d.cfg.Request.Timeout())
	defer cancel()

	if msg.TaskID != "" {
		d.trackInflight(msg.TaskID, cancel)
		defer d.untrackInflight(msg.TaskID)
	}

	release, err := d.gate.acquire(rctx, contextID, d.cfg.Request.QueueDepth())
	if err != nil {
		if errors.Is(err, ErrBusy) {
			d.logger.Warn("Rejecting request, context queue is full", "contextId", contextID)
			observability.GlobalRecorder().RecordRequest(ctx, "busy", time.Since(start))
			return nil, fmt.Errorf("context %s: %w", contextID, err)
		}
		observability.GlobalRecorder().RecordRequest(ctx, cancelOutcome(err), time.Since(start))
		return nil, err
	}
	defer release()

	return d.run(rctx, requestID, contextID, msg.TaskID, text, metadata, start)
}

func (d *Driver) run(ctx context.Context, requestID, contextID, taskID, text string, metadata map[string]any, start time.Time) (*a2a.SendMessageResult, error) {
	snap := d.loadSession(ctx, contextID)
	history := snap.Recent(historyWindow)

	working := snap.Clone()
	working.AppendUser(text)
	d.saveSession(ctx, working)

	req := agent.Request{
		Text:      text,
		ContextID: contextID,
		TaskID:    taskID,
		Metadata:  metadata,
	}
	var prior *a2a.Task
	if taskID != "" {
		prior = d.resumeTask(ctx, taskID, &req)
	}

	routeStart := time.Now()
	decision := d.router.Route(ctx, req, history)
	d.afterRouting(ctx, requestID, contextID, decision, time.Since(routeStart))

	if err := ctx.Err(); err != nil {
		return nil, d.abandoned(ctx, requestID, err, start)
	}

	if decision.Clarify {
		return d.clarify(ctx, requestID, contextID, taskID, working, decision, start)
	}

	result := d.dispatch(ctx, requestID, req, decision)
	if err := ctx.Err(); err != nil {
		return nil, d.abandoned(ctx, requestID, err, start)
	}

	return d.finish(ctx, requestID, contextID, taskID, working, prior, result, start)
}

// dispatch fans the request out to every routed agent and waits for
// all branches. Branch failures arrive as failed responses; only
// cancellation of ctx stops the request, and the caller checks for
// that after the wait.
func (d *Driver) dispatch(ctx context.Context, requestID string, req agent.Request, decision router.Decision) Result {
	agg := NewAggregator()

	g, gctx := errgroup.WithContext(ctx)
	for _, agentID := range decision.Agents() {
		g.Go(func() error {
			agg.Add(d.wrapper.Execute(gctx, requestID, agentID, req))
			return nil
		})
	}
	_ = g.Wait()

	return agg.Close(d.rank)
}

// finish appends the assistant turn, classifies the outcome into a
// message or a task, and persists what the classification requires.
func (d *Driver) finish(ctx context.Context, requestID, contextID, taskID string, working *session.Snapshot, prior *a2a.Task, result Result, start time.Time) (*a2a.SendMessageResult, error) {
	working.AppendAssistant(result.Text, result.NeedsInput)
	d.saveSession(ctx, working)

	if result.AllFailed {
		d.logger.Warn("Every branch failed", "contextId", contextID, "reply", result.Text)
	}

	switch {
	case result.NeedsInput:
		task := d.newTask(taskID, contextID, a2a.TaskStateInputRequired, result.Text,
			taskMetadata(result.InputAgent, result.Continuation))
		d.saveTask(ctx, task)
		d.output(ctx, requestID, contextID, task.ID, string(task.Status.State), result.Text, start)
		return &a2a.SendMessageResult{Task: task}, nil

	case result.PerformedAction && d.longRunning(result.ActionAgent):
		task := d.newTask(taskID, contextID, a2a.TaskStateWorking, result.Text,
			taskMetadata(result.ActionAgent, result.Continuation))
		d.saveTask(ctx, task)
		d.output(ctx, requestID, contextID, task.ID, string(task.Status.State), result.Text, start)
		return &a2a.SendMessageResult{Task: task}, nil

	default:
		if prior != nil && !prior.Status.State.Terminal() {
			d.completeTask(ctx, prior, result.Text)
		}
		reply := a2a.NewAgentMessage(result.Text, contextID)
		d.output(ctx, requestID, contextID, "", "completed", result.Text, start)
		return &a2a.SendMessageResult{Message: &reply}, nil
	}
}

// clarify answers with an input-required task asking the user to pick
// between the routing candidates instead of dispatching anything.
func (d *Driver) clarify(ctx context.Context, requestID, contextID, taskID string, working *session.Snapshot, decision router.Decision, start time.Time) (*a2a.SendMessageResult, error) {
	question := d.clarifyQuestion(decision.Candidates)

	working.AppendAssistant(question, true)
	d.saveSession(ctx, working)

	task := d.newTask(taskID, contextID, a2a.TaskStateInputRequired, question,
		map[string]any{metaCandidates: decision.Candidates})
	d.saveTask(ctx, task)

	d.logger.Info("Routing ambiguous, asking for clarification",
		"contextId", contextID, "candidates", decision.Candidates)
	d.output(ctx, requestID, contextID, task.ID, string(task.Status.State), question, start)
	return &a2a.SendMessageResult{Task: task}, nil
}

// clarifyQuestion words the choice between routing candidates using
// their registered descriptions.
func (d *Driver) clarifyQuestion(candidates []string) string {
	var b strings.Builder
	b.WriteString("I want to make sure I do the right thing. Should I use ")
	for i, name := range candidates {
		switch {
		case i == 0:
		case i == len(candidates)-1:
			b.WriteString(" or ")
		default:
			b.WriteString(", ")
		}
		b.WriteString(name)
		if desc, ok := d.registry.Get(name); ok && desc.Description != "" {
			b.WriteString(" (")
			b.WriteString(desc.Description)
			b.WriteString(")")
		}
	}
	b.WriteString("?")
	return b.String()
}

// GetTask returns the persisted task snapshot.
func (d *Driver) GetTask(ctx context.Context, taskID string) (*a2a.Task, error) {
	task, err := d.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	return task, nil
}

// CancelTask cancels the in-flight request continuing the task, if
// any, and persists the task as cancelled so tasks/get keeps returning
// a definite answer.
func (d *Driver) CancelTask(ctx context.Context, taskID string) (*a2a.Task, error) {
	task, err := d.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	if task.Status.State.Terminal() {
		return nil, fmt.Errorf("task %s is %s: %w", taskID, task.Status.State, ErrTaskNotCancelable)
	}

	d.cancelInflight(taskID)

	task.Status.State = a2a.TaskStateCancelled
	task.Status.Timestamp = a2a.Timestamp(time.Now())
	if err := d.store.PutTask(ctx, task, d.cfg.Task.TTL()); err != nil {
		return nil, err
	}

	d.logger.Info("Task cancelled", "taskId", taskID)
	return task, nil
}

// emptyReply answers a request carrying no text without touching the
// session, the cache, or the router.
func (d *Driver) emptyReply(ctx context.Context, requestID, contextID string, start time.Time) *a2a.SendMessageResult {
	text := d.cfg.Request.EmptyReply
	reply := a2a.NewAgentMessage(text, contextID)

	elapsed := time.Since(start)
	d.publish(events.WorkflowOutput(requestID, contextID, "", "completed", text, elapsed))
	observability.GlobalRecorder().RecordRequest(ctx, "empty", elapsed)
	return &a2a.SendMessageResult{Message: &reply}
}

// abandoned drops the request without the final session write so a
// half-finished exchange never lands in the transcript.
func (d *Driver) abandoned(ctx context.Context, requestID string, err error, start time.Time) error {
	outcome := cancelOutcome(err)
	d.logger.Info("Request abandoned", "requestId", requestID, "cause", outcome)
	observability.GlobalRecorder().RecordRequest(ctx, outcome, time.Since(start))
	return fmt.Errorf("request %s: %w", requestID, err)
}

func cancelOutcome(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "cancelled"
}

// resumeTask loads the task a follow-up request continues and merges
// its stored continuation into the request metadata, caller keys
// winning. An unknown or unreadable task is logged and the request
// proceeds without it; the text still routes.
func (d *Driver) resumeTask(ctx context.Context, taskID string, req *agent.Request) *a2a.Task {
	task, err := d.store.GetTask(ctx, taskID)
	if err != nil {
		d.logger.Warn("Task load failed, continuing without task state", "taskId", taskID, "error", err)
		return nil
	}
	if task == nil {
		d.logger.Warn("Request continues an unknown task", "taskId", taskID)
		return nil
	}

	if len(task.Metadata) > 0 {
		merged := make(map[string]any, len(task.Metadata)+len(req.Metadata))
		for k, v := range task.Metadata {
			if k == metaAgent || k == metaCandidates {
				continue
			}
			merged[k] = v
		}
		for k, v := range req.Metadata {
			merged[k] = v
		}
		req.Metadata = merged
	}
	return task
}

// afterRouting emits the routing-completed event and the routing and
// cache metrics for one decision.
func (d *Driver) afterRouting(ctx context.Context, requestID, contextID string, decision router.Decision, elapsed time.Duration) {
	d.publish(events.RoutingCompleted(requestID, contextID, decision.Agents(), string(decision.Source), decision.Confidence, elapsed))

	rec := observability.GlobalRecorder()
	rec.RecordRouting(ctx, string(decision.Source), elapsed)
	if d.cfg.Cache.IsEnabled() {
		rec.RecordCacheLookup(ctx, cacheOutcome(decision.Source))
	}

	d.logger.Debug("Routing completed",
		"agents", decision.Agents(),
		"source", decision.Source,
		"confidence", decision.Confidence,
		"reasoning", decision.Reasoning)
}

func cacheOutcome(s router.Source) string {
	switch s {
	case router.SourceCacheExact:
		return "exact"
	case router.SourceCacheSemantic:
		return "semantic"
	default:
		return "miss"
	}
}

// loadSession reads the context's snapshot, starting cold when the
// store is unreachable or the context is new.
func (d *Driver) loadSession(ctx context.Context, contextID string) *session.Snapshot {
	snap, err := d.store.Get(ctx, contextID)
	if err != nil {
		d.logger.Warn("Session load failed, starting cold", "contextId", contextID, "error", err)
	}
	if snap == nil {
		snap = session.NewSnapshot(contextID)
	}
	return snap
}

// saveSession persists the snapshot. A write failure is logged and the
// in-memory reply is still delivered.
func (d *Driver) saveSession(ctx context.Context, snap *session.Snapshot) {
	if err := d.store.Put(ctx, snap, d.cfg.Session.TTL()); err != nil {
		d.logger.Error("Session write failed", "contextId", snap.ContextID, "error", err)
	}
}

func (d *Driver) saveTask(ctx context.Context, task *a2a.Task) {
	if err := d.store.PutTask(ctx, task, d.cfg.Task.TTL()); err != nil {
		d.logger.Error("Task write failed", "taskId", task.ID, "error", err)
	}
}

// newTask builds a task snapshot. A request continuing an existing
// task keeps its identifier so tasks/get tracks one record across
// turns; fresh tasks get a minted one.
func (d *Driver) newTask(taskID, contextID string, state a2a.TaskState, text string, meta map[string]any) *a2a.Task {
	if taskID == "" {
		taskID = uuid.NewString()
	}
	reply := a2a.NewAgentMessage(text, contextID)
	reply.TaskID = taskID

	return &a2a.Task{
		ID:        taskID,
		ContextID: contextID,
		Status: a2a.TaskStatus{
			State:     state,
			Message:   &reply,
			Timestamp: a2a.Timestamp(time.Now()),
		},
		History:  []a2a.Message{reply},
		Metadata: meta,
		Kind:     a2a.KindTask,
	}
}

// completeTask closes out a continued task whose follow-up ended in a
// plain reply, so tasks/get reflects that the work is done.
func (d *Driver) completeTask(ctx context.Context, task *a2a.Task, text string) {
	reply := a2a.NewAgentMessage(text, task.ContextID)
	reply.TaskID = task.ID

	task.Status = a2a.TaskStatus{
		State:     a2a.TaskStateCompleted,
		Message:   &reply,
		Timestamp: a2a.Timestamp(time.Now()),
	}
	task.History = append(task.History, reply)
	d.saveTask(ctx, task)
}

// taskMetadata merges the continuation blob with the owning agent's
// name. The continuation is replaced each turn, not accumulated; an
// agent that needs state across turns returns it every time.
func taskMetadata(agentID string, continuation map[string]any) map[string]any {
	meta := make(map[string]any, len(continuation)+1)
	for k, v := range continuation {
		meta[k] = v
	}
	if agentID != "" {
		meta[metaAgent] = agentID
	}
	return meta
}

// rank orders composition by descriptor priority; agents that have
// left the registry sort last.
func (d *Driver) rank(agentID string) int {
	if desc, ok := d.registry.Get(agentID); ok {
		return desc.Priority
	}
	return math.MaxInt
}

func (d *Driver) longRunning(agentID string) bool {
	desc, ok := d.registry.Get(agentID)
	return ok && desc.LongRunning
}

// output emits the workflow-output event and the request metric.
func (d *Driver) output(ctx context.Context, requestID, contextID, taskID, state, reply string, start time.Time) {
	elapsed := time.Since(start)
	d.publish(events.WorkflowOutput(requestID, contextID, taskID, state, reply, elapsed))
	observability.GlobalRecorder().RecordRequest(ctx, state, elapsed)
}

// trackInflight lets tasks/cancel reach a request that continues the
// task. Concurrent requests rarely share a task id; the last
// registration wins.
func (d *Driver) trackInflight(taskID string, cancel context.CancelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight[taskID] = cancel
}

func (d *Driver) untrackInflight(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, taskID)
}

// cancelInflight cancels the in-flight request continuing the task, if
// there is one.
func (d *Driver) cancelInflight(taskID string) bool {
	d.mu.Lock()
	cancel, ok := d.inflight[taskID]
	d.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

func (d *Driver) publish(e events.Event) {
	if d.bus != nil {
		d.bus.Publish(e)
	}
}
