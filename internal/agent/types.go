// Package agent runs a single conversational turn: recall memories, build
// the prompt, call the model, and queue the user's input for long-term memory.
package agent

import (
	"context"
	"errors"

	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/memory"
)

// ErrNoUserMessage is returned when the history does not end with a user message.
var ErrNoUserMessage = errors.New("history must end with a user message")

// Retriever looks up memory fragments relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, userID, query, chatID string, k int) ([]string, error)
}

// Submitter accepts fragments for background persistence.
type Submitter interface {
	Submit(f memory.Fragment)
}

// Turn is the input to one agent turn.
type Turn struct {
	UserID       string
	ChatID       string
	SystemPrompt string
	// History is the recent window, oldest first, ending with the new user message.
	History []domain.Message
}

// Stage is a step of the turn lifecycle.
type Stage int

// Turn stages in execution order.
const (
	StageIdle Stage = iota
	StageMemoryLookup
	StagePromptAssembly
	StageModelInference
	StageResponseReady
	StageMemoryPersist
	StageTerminal
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageMemoryLookup:
		return "memory_lookup"
	case StagePromptAssembly:
		return "prompt_assembly"
	case StageModelInference:
		return "model_inference"
	case StageResponseReady:
		return "response_ready"
	case StageMemoryPersist:
		return "memory_persist"
	case StageTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}
