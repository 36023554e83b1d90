package memory

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	chromem "github.com/philippgille/chromem-go"
	"google.golang.org/genai"
)

// Embedder converts text to an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingFunc adapts an Embedder to chromem's embedding function type.
func EmbeddingFunc(e Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.Embed(ctx, text)
	}
}

// HashEmbedder is an offline embedder based on feature hashing of word
// tokens. Texts sharing words land close together, which is enough for
// local development and tests without a model endpoint.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder creates a hashing embedder. dims <= 0 selects 256.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dimensions: dims}
}

// Embed returns a deterministic unit vector for text.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	// Texts without word tokens (only emoji or punctuation) still need a
	// non-zero vector or cosine similarity is undefined.
	if len(tokens) == 0 {
		h := fnv.New64a()
		_, _ = h.Write([]byte(text))
		vec[int(h.Sum64()%uint64(e.dimensions))] = 1
	}

	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// GeminiEmbedder generates embeddings with the Gemini API.
type GeminiEmbedder struct {
	client   *genai.Client
	model    string
	taskType string
}

// NewGeminiEmbedder wraps an existing genai client.
func NewGeminiEmbedder(client *genai.Client, model string) (*GeminiEmbedder, error) {
	if client == nil {
		return nil, errors.New("genai client is required")
	}
	if model == "" {
		model = "text-embedding-004"
	}
	return &GeminiEmbedder{
		client:   client,
		model:    model,
		taskType: "SEMANTIC_SIMILARITY",
	}, nil
}

// Embed generates an embedding for a single text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: e.taskType,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, errors.New("gemini embed: no embeddings returned")
	}

	return normalize(result.Embeddings[0].Values), nil
}

// normalize converts an embedding to a unit vector.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}

	norm = math.Sqrt(norm)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
