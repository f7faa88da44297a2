package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicModels maps the core's short model names to concrete Anthropic
// model IDs.
var AnthropicModels = map[string]string{
	"haiku":  "claude-haiku-4-5-20251001",
	"sonnet": "claude-sonnet-4-5-20250929",
}

// AnthropicClient issues completions via the Anthropic Messages API. A new
// anthropic.Client is constructed per call with the caller-supplied API
// key, since key rotation means the key changes between calls.
type AnthropicClient struct{}

// NewAnthropicClient returns a ready-to-use client.
func NewAnthropicClient() *AnthropicClient {
	return &AnthropicClient{}
}

func (c *AnthropicClient) Complete(ctx context.Context, apiKey string, req CompletionRequest) (CompletionResponse, error) {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	modelID := AnthropicModels[req.Model]
	if modelID == "" {
		modelID = req.Model
	}
	if modelID == "" {
		modelID = AnthropicModels["haiku"]
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	prompt := req.Prompt
	if req.CachedContext != "" {
		prompt = req.CachedContext + "\n\n" + prompt
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	message, err := client.Messages.New(ctx, params)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: anthropic completion: %w", err)
	}

	var parts []string
	for _, block := range message.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	text := strings.Join(parts, "")
	if text == "" {
		return CompletionResponse{}, ErrEmptyResponse
	}

	return CompletionResponse{
		Text:         text,
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}, nil
}

// RegisterCache is a no-op: the Anthropic path makes no registration
// call and sets no cache-control breakpoint, so CachedContext is resent
// in full on every CompletionRequest instead.
func (c *AnthropicClient) RegisterCache(ctx context.Context, apiKey, key, content string, ttlSeconds int) error {
	return nil
}
