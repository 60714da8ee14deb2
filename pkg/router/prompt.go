package router

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/majordomohq/majordomo/pkg/agent"
	"github.com/majordomohq/majordomo/pkg/llm"
	"github.com/majordomohq/majordomo/pkg/session"
)

// encodingName is the BPE vocabulary used for prompt budgeting. The
// budget only has to be consistent, not provider-exact.
const encodingName = "cl100k_base"

// tokenCounter measures text against the prompt budget.
type tokenCounter func(string) int

// newTokenCounter returns a tiktoken-backed counter, falling back to a
// bytes/4 estimate when the encoding is unavailable (offline hosts).
func newTokenCounter() tokenCounter {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return func(s string) int { return (len(s) + 3) / 4 }
	}
	return func(s string) int { return len(enc.Encode(s, nil, nil)) }
}

// composePrompt builds the routing conversation: a system preamble
// describing the job and the available agents, recent session turns
// for follow-up context, and the request text as the final user turn.
// History is dropped oldest-first to keep the prompt under maxTokens.
func composePrompt(agents []*agent.Descriptor, history []session.Turn, text string, maxTokens int, count tokenCounter) []llm.Message {
	system := systemPreamble(agents)

	budget := maxTokens - count(system) - count(text)
	kept := fitHistory(history, budget, count)

	messages := make([]llm.Message, 0, len(kept)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, turn := range kept {
		role := llm.RoleUser
		if turn.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Text})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: text})
}

// fitHistory keeps the newest turns that fit the budget, returned in
// conversation order.
func fitHistory(history []session.Turn, budget int, count tokenCounter) []session.Turn {
	if budget <= 0 || len(history) == 0 {
		return nil
	}

	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := count(history[i].Text)
		if cost > budget {
			break
		}
		budget -= cost
		start = i
	}
	return history[start:]
}

// systemPreamble renders the router instructions with the agent list.
func systemPreamble(agents []*agent.Descriptor) string {
	var b strings.Builder
	b.WriteString("You are the request router of a home-automation orchestrator. ")
	b.WriteString("Pick the single best agent for the user's request. ")
	b.WriteString("Name additional agents only when the request genuinely spans several domains.\n\n")
	b.WriteString("Available agents:\n")

	for _, d := range agents {
		desc := d.Description
		if desc == "" {
			desc = "No description."
		}
		if d.LongRunning {
			fmt.Fprintf(&b, "- %s: %s (may run long-lived tasks)\n", d.Name, desc)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", d.Name, desc)
		}
	}

	b.WriteString("\nAnswer with JSON only: agentId (one of the names above), ")
	b.WriteString("reasoning (one short sentence), confidence (0 to 1), ")
	b.WriteString("and optionally additionalAgents. ")
	b.WriteString("Low confidence is better than a wrong agent.")
	return b.String()
}
