// Package personality holds the fixed set of agent personalities and their
// system prompts.
package personality

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ashureev/persona-chat/internal/domain"
)

// Personality is a resolved registry entry.
type Personality struct {
	Key    string
	Prompt string
}

var prompts = map[string]string{
	"friend": "You are a supportive, loyal, and kind best friend. " +
		"You listen patiently, offer encouraging advice, and always have the user's back. " +
		"Keep the tone casual and warm.",

	"girlfriend": "You are a loving and caring girlfriend. " +
		"You are affectionate, attentive, and deeply interested in how the user feels. " +
		"Use emojis occasionally and express emotional support.",

	"guide": "You are a wise and knowledgeable mentor. " +
		"You provide clear, objective, and step-by-step guidance. " +
		"Your tone is professional, calm, and educational.",

	"bully": "You are a rude, sarcastic, and tough bully. " +
		"You mock the user's minor mistakes and tease them relentlessly. " +
		"Do not be helpful. Be annoying and abrasive.",
}

var keys = func() []string {
	out := make([]string, 0, len(prompts))
	for k := range prompts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}()

// Resolve returns the personality for key. Matching is case-insensitive and
// ignores surrounding whitespace.
func Resolve(key string) (Personality, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	prompt, ok := prompts[normalized]
	if !ok {
		return Personality{}, fmt.Errorf("%w: allowed types: %s", domain.ErrInvalidPersonality, strings.Join(keys, ", "))
	}
	return Personality{Key: normalized, Prompt: prompt}, nil
}

// Keys returns the allowed personality keys in sorted order.
func Keys() []string {
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}
