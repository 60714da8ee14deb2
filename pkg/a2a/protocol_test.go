package a2a

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSendMessageResult_UnmarshalKinds(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantMsg  bool
		wantTask bool
		wantErr  bool
	}{
		{
			name:    "message result",
			payload: `{"kind":"message","role":"agent","parts":[{"kind":"text","text":"I've turned on the kitchen lights."}],"messageId":"m-1","contextId":"ctx-1"}`,
			wantMsg: true,
		},
		{
			name:     "task result",
			payload:  `{"kind":"task","id":"t-1","contextId":"ctx-1","status":{"state":"working","timestamp":"2026-08-25T10:00:00Z"},"history":[]}`,
			wantTask: true,
		},
		{
			name:    "unknown kind",
			payload: `{"kind":"artifact"}`,
			wantErr: true,
		},
		{
			name:    "missing kind",
			payload: `{"role":"agent"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result SendMessageResult
			err := json.Unmarshal([]byte(tt.payload), &result)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (result.Message != nil) != tt.wantMsg {
				t.Errorf("Message = %v, want present=%v", result.Message, tt.wantMsg)
			}
			if (result.Task != nil) != tt.wantTask {
				t.Errorf("Task = %v, want present=%v", result.Task, tt.wantTask)
			}
		})
	}
}

func TestSendMessageResult_MarshalRoundTrip(t *testing.T) {
	msg := NewAgentMessage("Done.", "ctx-9")
	data, err := json.Marshal(SendMessageResult{Message: &msg})
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if !strings.Contains(string(data), `"kind":"message"`) {
		t.Errorf("marshaled result missing kind discriminator: %s", data)
	}

	var decoded SendMessageResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if decoded.Message == nil || Text(decoded.Message) != "Done." {
		t.Errorf("round trip lost message text: %+v", decoded.Message)
	}

	if _, err := json.Marshal(SendMessageResult{}); err == nil {
		t.Error("Marshal of empty result should error")
	}
}

func TestTaskState_Terminal(t *testing.T) {
	tests := []struct {
		state    TaskState
		terminal bool
	}{
		{TaskStateSubmitted, false},
		{TaskStateWorking, false},
		{TaskStateInputRequired, false},
		{TaskStateCompleted, true},
		{TaskStateCancelled, true},
		{TaskStateFailed, true},
	}

	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("TaskState(%s).Terminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestTaskState_WireValues(t *testing.T) {
	// The hyphenated form is what peers expect on the wire.
	if string(TaskStateInputRequired) != "input-required" {
		t.Errorf("input-required state = %q", TaskStateInputRequired)
	}
	if string(TaskStateCancelled) != "cancelled" {
		t.Errorf("cancelled state = %q", TaskStateCancelled)
	}
}

func TestText(t *testing.T) {
	msg := Message{
		Role: RoleAgent,
		Parts: []Part{
			{Kind: PartKindText, Text: "Lights are on."},
			{Kind: PartKindData, Data: map[string]any{"device": "kitchen"}},
			{Kind: PartKindText, Text: "Anything else?"},
		},
	}

	got := Text(&msg)
	want := "Lights are on.\nAnything else?"
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}

	if Text(nil) != "" {
		t.Error("Text(nil) should be empty")
	}
}

func TestTaskText(t *testing.T) {
	statusMsg := NewAgentMessage("Timer started.", "ctx-1")
	task := &Task{
		ID:        "t-1",
		ContextID: "ctx-1",
		Status: TaskStatus{
			State:     TaskStateWorking,
			Message:   &statusMsg,
			Timestamp: Timestamp(time.Now()),
		},
		Kind: KindTask,
	}

	if got := TaskText(task); got != "Timer started." {
		t.Errorf("TaskText() = %q, want status message text", got)
	}

	// Without a status message, fall back to the last agent turn.
	user := NewUserMessage("set a timer", "ctx-1")
	agent := NewAgentMessage("Working on it.", "ctx-1")
	task.Status.Message = nil
	task.History = []Message{user, agent}

	if got := TaskText(task); got != "Working on it." {
		t.Errorf("TaskText() fallback = %q, want last agent text", got)
	}

	if TaskText(nil) != "" {
		t.Error("TaskText(nil) should be empty")
	}
}

func TestNewUserMessage(t *testing.T) {
	msg := NewUserMessage("Turn on the kitchen lights", "ctx-42")

	if msg.Role != RoleUser {
		t.Errorf("Role = %q, want user", msg.Role)
	}
	if msg.Kind != KindMessage {
		t.Errorf("Kind = %q, want message", msg.Kind)
	}
	if msg.MessageID == "" {
		t.Error("MessageID should be minted")
	}
	if msg.ContextID != "ctx-42" {
		t.Errorf("ContextID = %q, want ctx-42", msg.ContextID)
	}
	if len(msg.Parts) != 1 || msg.Parts[0].Kind != PartKindText {
		t.Errorf("Parts = %+v, want single text part", msg.Parts)
	}
}

func TestTimestamp(t *testing.T) {
	ts := Timestamp(time.Date(2026, 8, 25, 10, 30, 0, 0, time.FixedZone("CEST", 2*3600)))
	if ts != "2026-08-25T08:30:00Z" {
		t.Errorf("Timestamp() = %q, want UTC RFC3339", ts)
	}

	if _, err := time.Parse(time.RFC3339, Timestamp(time.Now())); err != nil {
		t.Errorf("Timestamp() not parseable: %v", err)
	}
}

func TestAgentCard_JSONShape(t *testing.T) {
	card := AgentCard{
		Name:               "light",
		Description:        "Controls lights and switches",
		URL:                "http://localhost:9001",
		Version:            "1.0.0",
		PreferredTransport: TransportJSONRPC,
		Capabilities: AgentCapabilities{
			Streaming:              false,
			PushNotifications:      false,
			StateTransitionHistory: true,
		},
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills: []AgentSkill{
			{ID: "toggle", Name: "Toggle lights", Description: "Turn lights on or off"},
		},
	}

	data, err := json.Marshal(card)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}

	for _, field := range []string{
		`"preferredTransport":"JSONRPC"`,
		`"stateTransitionHistory":true`,
		`"defaultInputModes"`,
		`"skills"`,
	} {
		if !strings.Contains(string(data), field) {
			t.Errorf("card JSON missing %s: %s", field, data)
		}
	}
}
