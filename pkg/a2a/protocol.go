// Package a2a implements the Agent-to-Agent (A2A) protocol surface:
// the JSON-RPC 2.0 dialect, the message/task object model, and agent
// card discovery. Specification: https://a2a-protocol.org/
package a2a

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// KIND DISCRIMINATORS
// Result objects carry a "kind" field so callers can tell a plain
// message reply from a task envelope.
// ============================================================================

const (
	KindMessage = "message"
	KindTask    = "task"
)

// ============================================================================
// MESSAGE - Conversation Messages
// ============================================================================

// Role identifies the message sender.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is a single conversational turn.
type Message struct {
	Role      Role   `json:"role"`
	Parts     []Part `json:"parts"`
	MessageID string `json:"messageId"`
	TaskID    string `json:"taskId,omitempty"`
	ContextID string `json:"contextId,omitempty"`
	Kind      string `json:"kind"` // always "message"
}

// Part is a unit of message content, discriminated by Kind.
type Part struct {
	Kind string         `json:"kind"` // "text", "data", "file"
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
	File *FilePart      `json:"file,omitempty"`
}

const (
	PartKindText = "text"
	PartKindData = "data"
	PartKindFile = "file"
)

// FilePart references file content inline or by URI.
type FilePart struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    []byte `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// ============================================================================
// TASK - Unit of Work
// ============================================================================

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateCancelled     TaskState = "cancelled"
	TaskStateFailed        TaskState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCancelled, TaskStateFailed:
		return true
	}
	return false
}

// TaskStatus is the current status of a task, with the agent message
// that accompanied the last transition.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"` // RFC 3339
}

// Task is a unit of work tracked across turns.
type Task struct {
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	History   []Message      `json:"history,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Kind      string         `json:"kind"` // always "task"
}

// ============================================================================
// RPC METHOD PARAMETERS
// ============================================================================

const (
	MethodMessageSend = "message/send"
	MethodTasksGet    = "tasks/get"
	MethodTasksCancel = "tasks/cancel"
)

// MessageSendParams are the params of message/send.
type MessageSendParams struct {
	Message  Message        `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskQueryParams are the params of tasks/get.
type TaskQueryParams struct {
	ID string `json:"id"`
}

// TaskCancelParams are the params of tasks/cancel.
type TaskCancelParams struct {
	ID string `json:"id"`
}

// SendMessageResult is the union result of message/send: a plain
// message reply or a task envelope, discriminated by "kind".
type SendMessageResult struct {
	Message *Message
	Task    *Task
}

func (r SendMessageResult) MarshalJSON() ([]byte, error) {
	switch {
	case r.Message != nil:
		return json.Marshal(r.Message)
	case r.Task != nil:
		return json.Marshal(r.Task)
	default:
		return nil, fmt.Errorf("empty message/send result")
	}
}

func (r *SendMessageResult) UnmarshalJSON(data []byte) error {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	switch probe.Kind {
	case KindMessage:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		r.Message = &msg
		return nil
	case KindTask:
		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		r.Task = &task
		return nil
	default:
		return fmt.Errorf("unrecognized message/send result kind %q", probe.Kind)
	}
}

// ============================================================================
// AGENT CARD - Discovery & Capability Advertisement
// Served at /.well-known/agent.json
// ============================================================================

// WellKnownCardPath is the default discovery path for agent cards.
const WellKnownCardPath = "/.well-known/agent.json"

// Transport identifiers for AgentCard.PreferredTransport.
const (
	TransportJSONRPC  = "JSONRPC"
	TransportHTTPJSON = "HTTP+JSON"
	TransportGRPC     = "GRPC"
)

// AgentCard advertises an agent's identity, endpoint, and capabilities.
type AgentCard struct {
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	URL                string            `json:"url"`
	Version            string            `json:"version,omitempty"`
	PreferredTransport string            `json:"preferredTransport"`
	Capabilities       AgentCapabilities `json:"capabilities"`
	DefaultInputModes  []string          `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string          `json:"defaultOutputModes,omitempty"`
	Skills             []AgentSkill      `json:"skills,omitempty"`
}

// AgentCapabilities describes optional protocol features.
type AgentCapabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

// AgentSkill describes one skill an agent advertises.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// AgentDirectory is a listing of known agents.
type AgentDirectory struct {
	Agents []AgentCard `json:"agents"`
	Total  int         `json:"total"`
}

// ============================================================================
// TIMESTAMPS
// ============================================================================

// Timestamp renders t in the wire format used by task statuses.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
