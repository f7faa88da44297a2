package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GeminiModels maps short model names to Gemini API model IDs.
var GeminiModels = map[string]string{
	"gemini-flash": "gemini-2.5-flash",
	"gemini-pro":   "gemini-2.5-pro",
}

const geminiGenerateEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s"
const geminiCacheEndpoint = "https://generativelanguage.googleapis.com/v1beta/cachedContents?key=%s"

// GeminiClient issues completions against the Gemini REST API.
type GeminiClient struct {
	httpClient *http.Client
}

// NewGeminiClient returns a ready-to-use client with a generous timeout for
// large-context extraction prompts.
func NewGeminiClient() *GeminiClient {
	return &GeminiClient{httpClient: &http.Client{Timeout: 120 * time.Second}}
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenCfg struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  *geminiGenCfg   `json:"generationConfig,omitempty"`
	CachedContent     string          `json:"cachedContent,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata geminiUsageMetadata `json:"usageMetadata"`
}

func (c *GeminiClient) Complete(ctx context.Context, apiKey string, req CompletionRequest) (CompletionResponse, error) {
	modelID := GeminiModels[req.Model]
	if modelID == "" {
		modelID = req.Model
	}
	if modelID == "" {
		modelID = GeminiModels["gemini-flash"]
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	body := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: req.Prompt}}},
		},
		GenerationConfig: &geminiGenCfg{
			Temperature:     req.Temperature,
			MaxOutputTokens: maxTokens,
		},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	if req.CacheKey != "" {
		body.CachedContent = req.CacheKey
	} else if req.CachedContext != "" {
		body.Contents = append([]geminiContent{{Parts: []geminiPart{{Text: req.CachedContext}}}}, body.Contents...)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: marshal gemini request: %w", err)
	}

	url := fmt.Sprintf(geminiGenerateEndpoint, modelID, apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: read gemini response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return CompletionResponse{}, fmt.Errorf("llm: gemini API error (status %d): %s", resp.StatusCode, string(data))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: unmarshal gemini response: %w", err)
	}

	var parts []string
	for _, cand := range parsed.Candidates {
		for _, p := range cand.Content.Parts {
			parts = append(parts, p.Text)
		}
	}
	text := strings.Join(parts, "")
	if text == "" {
		return CompletionResponse{}, ErrEmptyResponse
	}

	return CompletionResponse{
		Text:         text,
		InputTokens:  parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		CacheHit:     parsed.UsageMetadata.CachedContentTokenCount > 0,
	}, nil
}

type geminiCacheRequest struct {
	Model    string        `json:"model"`
	Contents []geminiContent `json:"contents"`
	TTL      string        `json:"ttl"`
}

type geminiCacheResponse struct {
	Name string `json:"name"`
}

// RegisterCache creates a Gemini explicit context cache holding content
// for ttlSeconds. The cache manager tracks the key-to-content binding
// itself, so the assigned server-side name is not surfaced through this
// narrow interface method.
func (c *GeminiClient) RegisterCache(ctx context.Context, apiKey, key, content string, ttlSeconds int) error {
	modelID := GeminiModels["gemini-flash"]
	body := geminiCacheRequest{
		Model:    "models/" + modelID,
		Contents: []geminiContent{{Parts: []geminiPart{{Text: content}}}},
		TTL:      fmt.Sprintf("%ds", ttlSeconds),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("llm: marshal gemini cache request: %w", err)
	}

	url := fmt.Sprintf(geminiCacheEndpoint, apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("llm: build gemini cache request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("llm: gemini cache request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("llm: gemini cache API error (status %d): %s", resp.StatusCode, string(data))
	}
	return nil
}
