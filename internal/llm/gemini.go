package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/genai"
)

// NewClient creates a Gemini API client shared by the chat model and the
// embedder.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, errors.New("GenAI API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}

// GeminiConfig configures a Gemini model.
type GeminiConfig struct {
	Model       string
	Temperature float32
	MaxRetries  int
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Gemini is a Model backed by the Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
	maxRetries  int
	timeout     time.Duration
	logger      *slog.Logger

	initialInterval time.Duration
}

// NewGemini wraps an existing client.
func NewGemini(client *genai.Client, cfg GeminiConfig) (*Gemini, error) {
	if client == nil {
		return nil, errors.New("genai client is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gemini{
		client:          client,
		model:           cfg.Model,
		temperature:     cfg.Temperature,
		maxRetries:      max(cfg.MaxRetries, 0),
		timeout:         cfg.Timeout,
		logger:          cfg.Logger,
		initialInterval: 500 * time.Millisecond,
	}, nil
}

// Generate sends the prompt and returns the reply text. Transient provider
// errors are retried up to the configured limit.
func (g *Gemini) Generate(ctx context.Context, messages []Message) (string, error) {
	system, contents := buildContents(messages)
	if len(contents) == 0 {
		return "", errors.New("prompt has no conversational messages")
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(g.maxRetries)), ctx)

	var reply string
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			g.logger.Warn("model call failed, retrying",
				"model", g.model,
				"attempt", attempt,
				"error", err,
			)
			return err
		}

		reply = strings.TrimSpace(resp.Text())
		if reply == "" {
			return backoff.Permanent(ErrEmptyResponse)
		}
		return nil
	}, policy)
	if err != nil {
		return "", fmt.Errorf("gemini generate (%d attempts): %w", attempt, err)
	}

	return reply, nil
}

// buildContents folds system messages into a single system instruction and
// maps the remaining turns onto Gemini roles.
func buildContents(messages []Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAI:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	return strings.Join(system, "\n\n"), contents
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}

	// Transport failures carry no status code.
	return true
}
