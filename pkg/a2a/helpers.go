package a2a

import (
	"strings"

	"github.com/google/uuid"
)

// NewUserMessage builds a user message with a minted message ID.
func NewUserMessage(text, contextID string) Message {
	return Message{
		Role:      RoleUser,
		Parts:     []Part{{Kind: PartKindText, Text: text}},
		MessageID: uuid.NewString(),
		ContextID: contextID,
		Kind:      KindMessage,
	}
}

// NewAgentMessage builds an agent reply with a minted message ID.
func NewAgentMessage(text, contextID string) Message {
	return Message{
		Role:      RoleAgent,
		Parts:     []Part{{Kind: PartKindText, Text: text}},
		MessageID: uuid.NewString(),
		ContextID: contextID,
		Kind:      KindMessage,
	}
}

// Text concatenates the text parts of a message.
func Text(msg *Message) string {
	if msg == nil {
		return ""
	}

	var texts []string
	for _, part := range msg.Parts {
		if part.Kind == PartKindText && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// TaskText extracts the agent-visible text of a task: the status
// message if present, otherwise the last agent message in history.
func TaskText(task *Task) string {
	if task == nil {
		return ""
	}

	if text := Text(task.Status.Message); text != "" {
		return text
	}

	for i := len(task.History) - 1; i >= 0; i-- {
		if task.History[i].Role == RoleAgent {
			if text := Text(&task.History[i]); text != "" {
				return text
			}
		}
	}
	return ""
}
