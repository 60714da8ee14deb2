// Package session persists conversation transcripts and task
// snapshots, keyed by the protocol context identifier.
//
// A session is a monotonically growing list of turns. The workflow
// driver reads the snapshot at request start, appends the user turn
// and the final assistant turn, and writes it back at request end.
// Snapshots serialize as JSON so fields can be added without breaking
// old readers.
package session

import (
	"time"
)

// Turn roles. The transcript uses "assistant" for replies regardless
// of which agent produced them; agent attribution lives in the reply
// text itself.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`

	// NeedsInput marks an assistant turn that asked the user a
	// question instead of completing the request.
	NeedsInput bool `json:"needsInput,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the persisted state of one conversation.
type Snapshot struct {
	ContextID string    `json:"contextId"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSnapshot starts an empty conversation for a context.
func NewSnapshot(contextID string) *Snapshot {
	now := time.Now().UTC()
	return &Snapshot{
		ContextID: contextID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendUser adds a user turn.
func (s *Snapshot) AppendUser(text string) {
	s.append(Turn{Role: RoleUser, Text: text, Timestamp: time.Now().UTC()})
}

// AppendAssistant adds an assistant turn. needsInput marks replies
// that ask the user for more information.
func (s *Snapshot) AppendAssistant(text string, needsInput bool) {
	s.append(Turn{Role: RoleAssistant, Text: text, NeedsInput: needsInput, Timestamp: time.Now().UTC()})
}

func (s *Snapshot) append(turn Turn) {
	s.Turns = append(s.Turns, turn)
	s.UpdatedAt = turn.Timestamp
}

// TurnCount returns the number of turns.
func (s *Snapshot) TurnCount() int {
	return len(s.Turns)
}

// LastTurn returns the most recent turn, or nil for an empty
// conversation.
func (s *Snapshot) LastTurn() *Turn {
	if len(s.Turns) == 0 {
		return nil
	}
	return &s.Turns[len(s.Turns)-1]
}

// Recent returns up to n of the most recent turns, oldest first.
func (s *Snapshot) Recent(n int) []Turn {
	if n <= 0 || len(s.Turns) == 0 {
		return nil
	}
	if n >= len(s.Turns) {
		n = len(s.Turns)
	}
	out := make([]Turn, n)
	copy(out, s.Turns[len(s.Turns)-n:])
	return out
}

// Clone returns a deep copy. The driver hands copies downstream so no
// executor can mutate the transcript it is aggregating.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Turns = make([]Turn, len(s.Turns))
	copy(clone.Turns, s.Turns)
	return &clone
}
