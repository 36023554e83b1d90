package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/llm"
	"github.com/ashureev/persona-chat/internal/memory"
)

// Config holds executor settings.
type Config struct {
	// MemoryK is how many fragments to recall per turn.
	MemoryK int
	Logger  *slog.Logger
}

// Executor runs agent turns. It holds no per-turn state and is safe for
// concurrent use.
type Executor struct {
	model    llm.Model
	memories Retriever
	writer   Submitter
	k        int
	logger   *slog.Logger
}

// NewExecutor creates an executor. memories and writer may be nil, which
// disables recall and persistence respectively.
func NewExecutor(model llm.Model, memories Retriever, writer Submitter, cfg Config) *Executor {
	if cfg.MemoryK <= 0 {
		cfg.MemoryK = memory.DefaultK
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		model:    model,
		memories: memories,
		writer:   writer,
		k:        cfg.MemoryK,
		logger:   cfg.Logger,
	}
}

// RunTurn produces the assistant reply for the last user message in
// turn.History. Memory failures degrade to an empty recall; a model failure
// returns an error wrapping domain.ErrInference and nothing is remembered.
func (e *Executor) RunTurn(ctx context.Context, turn Turn) (string, error) {
	start := time.Now()
	log := e.logger.With("user_id", turn.UserID, "chat_id", turn.ChatID)
	stage := func(s Stage) { log.Debug("agent turn stage", "stage", s.String()) }

	stage(StageIdle)

	if len(turn.History) == 0 || turn.History[len(turn.History)-1].Role != domain.RoleUser {
		return "", ErrNoUserMessage
	}
	input := turn.History[len(turn.History)-1].Content

	stage(StageMemoryLookup)
	memories := e.recall(ctx, log, turn, input)

	stage(StagePromptAssembly)
	prompt := buildPrompt(BuildSystemPrompt(turn.SystemPrompt, memories), turn.History)

	stage(StageModelInference)
	reply, err := e.model.Generate(ctx, prompt)
	if err != nil {
		log.Error("model inference failed", "error", err)
		stage(StageTerminal)
		return "", fmt.Errorf("%w: %w", domain.ErrInference, err)
	}

	stage(StageResponseReady)

	stage(StageMemoryPersist)
	if e.writer != nil {
		e.writer.Submit(memory.Fragment{UserID: turn.UserID, ChatID: turn.ChatID, Text: input})
	}

	stage(StageTerminal)
	log.Info("agent turn completed",
		"memories", len(memories),
		"history", len(turn.History),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reply, nil
}

func (e *Executor) recall(ctx context.Context, log *slog.Logger, turn Turn, query string) []string {
	if e.memories == nil {
		return nil
	}

	memories, err := e.memories.Retrieve(ctx, turn.UserID, query, turn.ChatID, e.k)
	if err != nil {
		log.Warn("memory lookup failed, continuing without memories", "error", err)
		return nil
	}
	return memories
}
