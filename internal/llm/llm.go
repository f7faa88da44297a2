// Package llm defines the provider-agnostic contract the knowledge
// extractor and speaker identifier issue completions through, plus the
// concrete Anthropic and Gemini implementations the core wires in. The
// only sentinel error is ErrEmptyResponse; provider failures are
// returned as wrapped errors carrying the provider's status and message
// text, which internal/keymanager classifies as rate-limit or quota
// failures by matching that text. No typed rate-limit or quota error
// exists.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a provider call succeeds transport-wise
// but yields no text content.
var ErrEmptyResponse = errors.New("llm: empty response")

// CompletionRequest is a single prompt turn. SystemPrompt is optional.
// CachedContext, when non-empty, is sent ahead of Prompt. CacheKey, when
// non-empty, names a cache entry created through Client.RegisterCache:
// the Gemini client sends it as the request's cached content (and then
// omits CachedContext); the Anthropic client ignores it.
type CompletionRequest struct {
	Model         string
	SystemPrompt  string
	Prompt        string
	CachedContext string
	CacheKey      string
	MaxTokens     int
	Temperature   float64
}

// CompletionResponse carries the generated text and token accounting used
// by internal/keymanager.UpdateKeyUsage.
type CompletionResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
	CacheHit     bool
}

// Client is the contract every LLM provider implementation satisfies. A
// mock implementation is chosen in tests via configuration instead of
// patching provider methods.
type Client interface {
	// Complete issues one prompt turn and returns the raw text response.
	Complete(ctx context.Context, apiKey string, req CompletionRequest) (CompletionResponse, error)
	// RegisterCache creates or refreshes a provider-side prompt cache entry
	// for key, valid for roughly ttlSeconds. Providers without native cache
	// support treat this as a no-op and CompletionRequest.CachedContext is
	// resent on every call instead.
	RegisterCache(ctx context.Context, apiKey, key, content string, ttlSeconds int) error
}
