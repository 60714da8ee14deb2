package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/majordomohq/majordomo/pkg/a2a"
	"github.com/majordomohq/majordomo/pkg/config"
)

func localDescriptor(name string, handler Handler) *Descriptor {
	return &Descriptor{
		Name:      name,
		Transport: config.TransportLocal,
		Handler:   handler,
		Timeout:   time.Second,
	}
}

func TestInvoker_Local(t *testing.T) {
	inv := NewInvoker(nil)
	d := localDescriptor("light", HandlerFunc(func(_ context.Context, req Request) (Reply, error) {
		if req.Text != "turn on the lights" {
			t.Errorf("handler got text %q", req.Text)
		}
		return TextReply("Lights on."), nil
	}))

	resp := inv.Invoke(context.Background(), d, Request{Text: "turn on the lights", ContextID: "ctx-1"})
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
	if resp.Content != "Lights on." {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.AgentID != "light" {
		t.Errorf("agent = %q", resp.AgentID)
	}
	if resp.NeedsInput || resp.PerformedAction {
		t.Errorf("unexpected flags on a text reply: %+v", resp)
	}
}

func TestInvoker_LocalError(t *testing.T) {
	inv := NewInvoker(nil)
	d := localDescriptor("light", HandlerFunc(func(context.Context, Request) (Reply, error) {
		return Reply{}, errors.New("bulb unreachable")
	}))

	resp := inv.Invoke(context.Background(), d, Request{Text: "turn on the lights"})
	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.Error != "bulb unreachable" {
		t.Errorf("error = %q", resp.Error)
	}
	if resp.Content != "" {
		t.Errorf("failed response must carry no content, got %q", resp.Content)
	}
}

func TestInvoker_LocalTimeout(t *testing.T) {
	inv := NewInvoker(nil)
	d := localDescriptor("slow", HandlerFunc(func(ctx context.Context, _ Request) (Reply, error) {
		<-ctx.Done()
		return Reply{}, ctx.Err()
	}))
	d.Timeout = 30 * time.Millisecond

	resp := inv.Invoke(context.Background(), d, Request{Text: "anything"})
	if resp.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(resp.Error, "timed out after 30ms") {
		t.Errorf("error = %q, want timeout text", resp.Error)
	}
}

func TestInvoker_LocalCancellation(t *testing.T) {
	inv := NewInvoker(nil)
	d := localDescriptor("slow", HandlerFunc(func(ctx context.Context, _ Request) (Reply, error) {
		<-ctx.Done()
		return Reply{}, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	resp := inv.Invoke(ctx, d, Request{Text: "anything"})
	if resp.Success {
		t.Fatal("expected cancellation failure")
	}
	if resp.Error != "cancelled" {
		t.Errorf("error = %q, want cancelled", resp.Error)
	}
}

func TestInvoker_Keyed(t *testing.T) {
	handlers := NewHandlerMap()
	if err := handlers.Register("music-svc", HandlerFunc(func(context.Context, Request) (Reply, error) {
		return TextReply("Playing jazz."), nil
	})); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	inv := NewInvoker(handlers)
	d := &Descriptor{
		Name:      "music",
		Transport: config.TransportKeyed,
		Key:       "music-svc",
		Timeout:   time.Second,
	}

	resp := inv.Invoke(context.Background(), d, Request{Text: "play jazz"})
	if !resp.Success || resp.Content != "Playing jazz." {
		t.Fatalf("unexpected response %+v", resp)
	}

	d.Key = "missing"
	resp = inv.Invoke(context.Background(), d, Request{Text: "play jazz"})
	if resp.Success {
		t.Fatal("expected failure for unbound key")
	}
	if !strings.Contains(resp.Error, `no handler bound for key "missing"`) {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestInvoker_LocalTaskReplies(t *testing.T) {
	inv := NewInvoker(nil)

	tests := []struct {
		name        string
		longRunning bool
		reply       Reply
		wantSuccess bool
		wantInput   bool
		wantAction  bool
		wantErr     string
	}{
		{
			name:        "input required",
			longRunning: true,
			reply:       InputRequiredReply("To what temperature?"),
			wantSuccess: true,
			wantInput:   true,
		},
		{
			name:        "working with action",
			longRunning: true,
			reply:       WorkingReply("Preheating the oven.", true),
			wantSuccess: true,
			wantAction:  true,
		},
		{
			name:        "working without long-running support",
			longRunning: false,
			reply:       WorkingReply("Preheating the oven.", true),
			wantSuccess: false,
			wantErr:     "does not declare long-running support",
		},
		{
			name:        "input required without long-running support",
			longRunning: false,
			reply:       InputRequiredReply("Which room?"),
			wantSuccess: false,
			wantErr:     "does not declare long-running support",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := localDescriptor("climate", HandlerFunc(func(context.Context, Request) (Reply, error) {
				return tt.reply, nil
			}))
			d.LongRunning = tt.longRunning

			resp := inv.Invoke(context.Background(), d, Request{Text: "warm it up"})
			if resp.Success != tt.wantSuccess {
				t.Fatalf("success = %v, want %v (error %q)", resp.Success, tt.wantSuccess, resp.Error)
			}
			if resp.NeedsInput != tt.wantInput {
				t.Errorf("needsInput = %v, want %v", resp.NeedsInput, tt.wantInput)
			}
			if resp.PerformedAction != tt.wantAction {
				t.Errorf("performedAction = %v, want %v", resp.PerformedAction, tt.wantAction)
			}
			if tt.wantErr != "" && !strings.Contains(resp.Error, tt.wantErr) {
				t.Errorf("error = %q, want substring %q", resp.Error, tt.wantErr)
			}
		})
	}
}

// rpcServer is a minimal JSON-RPC peer answering message/send with a
// canned result.
func rpcServer(t *testing.T, result any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req a2a.JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Method != a2a.MethodMessageSend {
			t.Errorf("method = %q, want %q", req.Method, a2a.MethodMessageSend)
		}

		resp, err := a2a.NewResponse(req.ID, result)
		if err != nil {
			t.Errorf("build response: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func remoteDescriptor(url string, longRunning bool) *Descriptor {
	return &Descriptor{
		Name:        "oven",
		Transport:   config.TransportRemote,
		URL:         url,
		Timeout:     time.Second,
		LongRunning: longRunning,
	}
}

func TestInvoker_RemoteMessageReply(t *testing.T) {
	msg := a2a.NewAgentMessage("Oven is off.", "ctx-7")
	srv := rpcServer(t, msg)
	defer srv.Close()

	inv := NewInvoker(nil)
	resp := inv.Invoke(context.Background(), remoteDescriptor(srv.URL, false), Request{
		Text:      "is the oven off?",
		ContextID: "ctx-7",
	})

	if !resp.Success {
		t.Fatalf("expected success, got %q", resp.Error)
	}
	if resp.Content != "Oven is off." {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestInvoker_RemoteTaskReplies(t *testing.T) {
	workingTask := func(performed bool) a2a.Task {
		task := a2a.Task{
			ID:        "task-9",
			ContextID: "ctx-7",
			Status: a2a.TaskStatus{
				State:   a2a.TaskStateWorking,
				Message: ptrMessage("Preheating to 200C."),
			},
			Kind: a2a.KindTask,
		}
		if performed {
			task.Metadata = map[string]any{MetadataPerformedAction: true}
		}
		return task
	}

	tests := []struct {
		name        string
		longRunning bool
		task        a2a.Task
		wantSuccess bool
		wantInput   bool
		wantAction  bool
		wantErr     string
	}{
		{
			name:        "completed task is a plain success",
			longRunning: false,
			task: a2a.Task{
				ID:     "task-9",
				Status: a2a.TaskStatus{State: a2a.TaskStateCompleted, Message: ptrMessage("Done.")},
				Kind:   a2a.KindTask,
			},
			wantSuccess: true,
		},
		{
			name:        "input required sets the flag",
			longRunning: true,
			task: a2a.Task{
				ID:     "task-9",
				Status: a2a.TaskStatus{State: a2a.TaskStateInputRequired, Message: ptrMessage("Which rack?")},
				Kind:   a2a.KindTask,
			},
			wantSuccess: true,
			wantInput:   true,
		},
		{
			name:        "working with tool-effect marker",
			longRunning: true,
			task:        workingTask(true),
			wantSuccess: true,
			wantAction:  true,
		},
		{
			name:        "working without marker",
			longRunning: true,
			task:        workingTask(false),
			wantSuccess: true,
		},
		{
			name:        "working task violates a short-running contract",
			longRunning: false,
			task:        workingTask(true),
			wantSuccess: false,
			wantErr:     "does not declare long-running support",
		},
		{
			name:        "failed task surfaces its message",
			longRunning: true,
			task: a2a.Task{
				ID:     "task-9",
				Status: a2a.TaskStatus{State: a2a.TaskStateFailed, Message: ptrMessage("heater fault")},
				Kind:   a2a.KindTask,
			},
			wantSuccess: false,
			wantErr:     "heater fault",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := rpcServer(t, tt.task)
			defer srv.Close()

			inv := NewInvoker(nil)
			resp := inv.Invoke(context.Background(), remoteDescriptor(srv.URL, tt.longRunning), Request{Text: "preheat the oven"})

			if resp.Success != tt.wantSuccess {
				t.Fatalf("success = %v, want %v (error %q)", resp.Success, tt.wantSuccess, resp.Error)
			}
			if resp.NeedsInput != tt.wantInput {
				t.Errorf("needsInput = %v, want %v", resp.NeedsInput, tt.wantInput)
			}
			if resp.PerformedAction != tt.wantAction {
				t.Errorf("performedAction = %v, want %v", resp.PerformedAction, tt.wantAction)
			}
			if tt.wantErr != "" && !strings.Contains(resp.Error, tt.wantErr) {
				t.Errorf("error = %q, want substring %q", resp.Error, tt.wantErr)
			}
			if tt.wantSuccess && tt.task.Status.State != a2a.TaskStateCompleted {
				if resp.Continuation == nil || resp.Continuation["remoteTaskId"] != "task-9" {
					t.Errorf("continuation missing remote task id: %+v", resp.Continuation)
				}
			}
		})
	}
}

func TestInvoker_RemoteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}))
	defer srv.Close()

	inv := NewInvoker(nil)
	d := remoteDescriptor(srv.URL, false)
	d.Timeout = 30 * time.Millisecond

	resp := inv.Invoke(context.Background(), d, Request{Text: "anything"})
	if resp.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(resp.Error, "timed out") {
		t.Errorf("error = %q, want timeout text", resp.Error)
	}
}

func ptrMessage(text string) *a2a.Message {
	msg := a2a.NewAgentMessage(text, "ctx-7")
	return &msg
}
