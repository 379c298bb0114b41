package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/becomeliminal/recall/core"
)

// DefaultAnthropicModel is used when AnthropicConfig.Model is empty.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicConfig configures the Anthropic-backed generator.
type AnthropicConfig struct {
	// Model is the Claude model to use.
	Model string

	// MaxTokens caps the response length. Default: 1024.
	MaxTokens int64
}

// AnthropicGenerator implements Generator on the Anthropic Messages API.
type AnthropicGenerator struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicGenerator creates a generator backed by the given client.
func NewAnthropicGenerator(client *anthropic.Client, cfg AnthropicConfig) *AnthropicGenerator {
	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	return &AnthropicGenerator{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}
}

// Generate sends the messages to the Claude API and returns the
// concatenated text blocks of the reply. System-role messages become
// the request's system prompt.
func (g *AnthropicGenerator) Generate(ctx context.Context, messages []core.Message, temperature float32) (string, error) {
	var system string
	var params []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case core.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case core.RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   g.maxTokens,
		Messages:    params,
		Temperature: anthropic.Float(float64(temperature)),
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	resp, err := g.client.Messages.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
