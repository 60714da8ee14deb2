package session

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSnapshot_AppendGrowth(t *testing.T) {
	snap := NewSnapshot("ctx-1")
	if snap.TurnCount() != 0 {
		t.Fatalf("new snapshot should be empty, got %d turns", snap.TurnCount())
	}

	snap.AppendUser("Turn on the kitchen lights")
	snap.AppendAssistant("I've turned on the kitchen lights.", false)

	if snap.TurnCount() != 2 {
		t.Fatalf("expected 2 turns, got %d", snap.TurnCount())
	}

	last := snap.LastTurn()
	if last == nil || last.Role != RoleAssistant {
		t.Errorf("expected assistant last turn, got %+v", last)
	}
	if last.NeedsInput {
		t.Error("plain reply should not be marked needs-input")
	}
	if snap.Turns[0].Role != RoleUser {
		t.Errorf("expected user first turn, got %s", snap.Turns[0].Role)
	}
}

func TestSnapshot_NeedsInputMarker(t *testing.T) {
	snap := NewSnapshot("ctx-2")
	snap.AppendUser("Make it warmer")
	snap.AppendAssistant("Do you mean the light color temperature or the heating?", true)

	last := snap.LastTurn()
	if !last.NeedsInput {
		t.Error("clarification turn should be marked needs-input")
	}
}

func TestSnapshot_Recent(t *testing.T) {
	snap := NewSnapshot("ctx-3")
	for _, text := range []string{"one", "two", "three", "four"} {
		snap.AppendUser(text)
	}

	recent := snap.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(recent))
	}
	if recent[0].Text != "three" || recent[1].Text != "four" {
		t.Errorf("expected the two most recent turns oldest first, got %q %q", recent[0].Text, recent[1].Text)
	}

	if got := snap.Recent(10); len(got) != 4 {
		t.Errorf("asking for more than available should return all, got %d", len(got))
	}
	if got := snap.Recent(0); got != nil {
		t.Errorf("Recent(0) should be nil, got %v", got)
	}
}

func TestSnapshot_CloneIsIndependent(t *testing.T) {
	snap := NewSnapshot("ctx-4")
	snap.AppendUser("original")

	clone := snap.Clone()
	clone.AppendAssistant("only in clone", false)
	clone.Turns[0].Text = "mutated"

	if snap.TurnCount() != 1 {
		t.Errorf("clone append leaked into original, %d turns", snap.TurnCount())
	}
	if snap.Turns[0].Text != "original" {
		t.Errorf("clone mutation leaked into original: %q", snap.Turns[0].Text)
	}

	var nilSnap *Snapshot
	if nilSnap.Clone() != nil {
		t.Error("cloning nil should stay nil")
	}
}

func TestSnapshot_UnknownFieldsSurvive(t *testing.T) {
	// A newer writer may add fields; this reader must not choke.
	payload := []byte(`{
		"contextId": "ctx-5",
		"turns": [{"role": "user", "text": "hi", "timestamp": "2026-08-25T10:00:00Z", "futureField": 7}],
		"createdAt": "2026-08-25T10:00:00Z",
		"updatedAt": "2026-08-25T10:00:00Z",
		"schemaRevision": 3
	}`)

	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		t.Fatalf("unknown fields must not break decoding: %v", err)
	}
	if snap.ContextID != "ctx-5" || snap.TurnCount() != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if !snap.Turns[0].Timestamp.Equal(time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected timestamp: %v", snap.Turns[0].Timestamp)
	}
}
