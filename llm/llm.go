// Package llm provides the text-generation capability used by the
// memory managers for structured extraction and by the chat surface
// for replies. Providers are interchangeable behind Generator;
// AnthropicGenerator and OpenAIGenerator are the SDK-provided
// implementations.
package llm

import (
	"context"
	"strings"

	"github.com/becomeliminal/recall/core"
)

// Generator produces a completion for a sequence of chat messages.
//
// Replies requested as JSON must go through StripFences before
// parsing: models wrap structured output in markdown code fences
// often enough that callers are expected to tolerate it.
type Generator interface {
	Generate(ctx context.Context, messages []core.Message, temperature float32) (string, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(ctx context.Context, messages []core.Message, temperature float32) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, messages []core.Message, temperature float32) (string, error) {
	return f(ctx, messages, temperature)
}

// StripFences removes a surrounding markdown code fence (``` or
// ```json) from a model reply, returning the inner text trimmed.
// Replies without fences pass through untouched.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 && strings.EqualFold(strings.TrimSpace(s[:idx]), "json") {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// StripQuotes trims whitespace and any wrapping single or double
// quotes from a short one-line model reply, such as a journal label.
func StripQuotes(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	s = strings.Trim(s, `'`)
	return strings.TrimSpace(s)
}
