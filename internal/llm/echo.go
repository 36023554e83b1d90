package llm

import (
	"context"
	"fmt"
	"strings"
)

// Echo is an offline Model for local development. It replies with the last
// user message and how many memories were in the system prompt.
type Echo struct{}

// Generate implements Model.
func (Echo) Generate(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var last string
	memories := 0
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			last = m.Content
		case RoleSystem:
			memories += strings.Count(m.Content, "\n- ")
		}
	}
	if last == "" {
		return "", ErrEmptyResponse
	}

	return fmt.Sprintf("You said: %s (recalled %d memories)", last, memories), nil
}
