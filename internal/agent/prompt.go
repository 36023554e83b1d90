package agent

import (
	"strings"

	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/llm"
)

const (
	promptDivider = "----------------"
	memoryHeader  = "RELEVANT MEMORIES FROM PAST:"
	memoryFooter  = "Use the memories above to answer if they are relevant. If not, ignore them."
)

// BuildSystemPrompt combines the chat's base prompt with recalled memories.
// The layout is fixed even when there are no memories.
func BuildSystemPrompt(base string, memories []string) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n")
	b.WriteString(promptDivider)
	b.WriteString("\n")
	if len(memories) > 0 {
		b.WriteString("\n")
		b.WriteString(memoryHeader)
		for _, m := range memories {
			b.WriteString("\n- ")
			b.WriteString(m)
		}
	}
	b.WriteString("\n")
	b.WriteString(promptDivider)
	b.WriteString("\n")
	b.WriteString(memoryFooter)
	return b.String()
}

// buildPrompt places the system instruction first, then the history in order.
func buildPrompt(system string, history []domain.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == domain.RoleAI {
			role = llm.RoleAI
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}
