// Package llm wraps the chat model behind a small provider-neutral interface.
package llm

import (
	"context"
	"errors"
)

// Role identifies the author of a prompt message.
type Role string

// Prompt roles.
const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleAI     Role = "ai"
)

// Message is one entry of an ordered prompt.
type Message struct {
	Role    Role
	Content string
}

// Model generates a reply for an ordered prompt.
type Model interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// ErrEmptyResponse is returned when the provider answers with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")
