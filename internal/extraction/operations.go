package extraction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
	"github.com/sblumenf/podcastknowledge-sub007/internal/llm"
)

type rawEntity struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Confidence  float64           `json:"confidence"`
	Importance  float64           `json:"importance"`
	Description string            `json:"description"`
	Properties  map[string]string `json:"properties"`
}

type rawRelationship struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type rawQuote struct {
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker"`
	Timestamp  float64 `json:"timestamp"`
	Context    string  `json:"context"`
	Confidence float64 `json:"confidence"`
}

type rawInsight struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
}

// ExtractEntities runs the entity extraction prompt against a segment
// batch and returns validated entities. apiKey selects which rotated key
// to use; cacheKey, when non-empty, is passed on the request so the
// provider can reference a previously registered episode cache. The
// batch's segment text is always included in the prompt.
func (e *Extractor) ExtractEntities(ctx context.Context, apiKey string, segments []episode.Segment, cacheKey string) ([]episode.Entity, error) {
	text := combineSegments(segments)
	prompt := entityPrompt(text, e.Config.Mode)

	req := llm.CompletionRequest{
		Model:       "gemini-flash",
		Prompt:      prompt,
		CacheKey:    cacheKey,
		MaxTokens:   4096,
		Temperature: 0.1,
	}
	// Transport and provider errors propagate so the caller can rotate
	// keys and retry; only malformed responses degrade to an empty result.
	resp, err := e.Client.Complete(ctx, apiKey, req)
	if err != nil {
		return nil, err
	}

	jsonStr, ok := extractJSONArray(resp.Text)
	if !ok {
		return nil, nil
	}
	var raw []rawEntity
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, nil
	}

	entities := make([]episode.Entity, 0, len(raw))
	for _, r := range raw {
		if len(r.Name) < 2 || r.Type == "" {
			continue
		}
		entityType := r.Type
		if e.Config.Mode != ModeFixed {
			entityType = sanitizeSchemalessType(r.Type, r.Name)
			e.discoveredTypes[entityType] = struct{}{}
		}
		idx := 0
		if len(segments) > 0 {
			idx = segments[0].Index
		}
		entities = append(entities, episode.Entity{
			Name:        r.Name,
			Type:        entityType,
			Confidence:  clamp01(r.Confidence),
			Importance:  clampScore(r.Importance),
			Description: r.Description,
			Properties:  stringMapToAny(r.Properties),
			SegmentIdx:  idx,
		})
	}

	return ValidateEntities(entities, e.Config.MaxEntitiesPerSegment), nil
}

// ExtractRelationships runs relationship extraction between the already
// extracted entities, falling back to co-occurrence pairs when the model
// yields nothing but multiple entities share a segment.
func (e *Extractor) ExtractRelationships(ctx context.Context, apiKey string, segments []episode.Segment, entities []episode.Entity, cacheKey string) ([]episode.Relationship, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	text := combineSegments(segments)
	prompt := relationshipPrompt(text, entities, e.Config.Mode)

	req := llm.CompletionRequest{
		Model:       "gemini-flash",
		Prompt:      prompt,
		CacheKey:    cacheKey,
		MaxTokens:   2048,
		Temperature: 0.1,
	}
	resp, err := e.Client.Complete(ctx, apiKey, req)
	if err != nil {
		return nil, err
	}
	var relationships []episode.Relationship
	if jsonStr, ok := extractJSONArray(resp.Text); ok {
		var raw []rawRelationship
		if json.Unmarshal([]byte(jsonStr), &raw) == nil {
			for _, r := range raw {
				if r.Source == "" || r.Target == "" || r.Type == "" {
					continue
				}
				if e.Config.Mode != ModeFixed {
					e.discoveredTypes[r.Type] = struct{}{}
				}
				relationships = append(relationships, episode.Relationship{
					SourceName: r.Source,
					TargetName: r.Target,
					Type:       r.Type,
					Confidence: clamp01(r.Confidence),
				})
			}
		}
	}

	if len(relationships) == 0 && len(entities) > 1 {
		relationships = coOccurrencePairs(entities)
	}
	return relationships, nil
}

func coOccurrencePairs(entities []episode.Entity) []episode.Relationship {
	var out []episode.Relationship
	for i, a := range entities {
		for _, b := range entities[i+1:] {
			out = append(out, episode.Relationship{
				SourceName: a.Name,
				TargetName: b.Name,
				Type:       "co-occurrence",
				Confidence: 0.6,
			})
		}
	}
	return out
}

// ExtractQuotes runs quote extraction over a batch of segments.
func (e *Extractor) ExtractQuotes(ctx context.Context, apiKey string, segments []episode.Segment, cacheKey string) ([]episode.Quote, error) {
	text := combineSegments(segments)
	prompt := quotePrompt(text)

	resp, err := e.Client.Complete(ctx, apiKey, llm.CompletionRequest{
		Model:       "gemini-flash",
		Prompt:      prompt,
		CacheKey:    cacheKey,
		MaxTokens:   2048,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}
	jsonStr, ok := extractJSONArray(resp.Text)
	if !ok {
		return nil, nil
	}
	var raw []rawQuote
	if json.Unmarshal([]byte(jsonStr), &raw) != nil {
		return nil, nil
	}

	// A model that omits the timestamp gets the batch's start time, so
	// the stored quote still anchors to roughly the right position.
	fallbackTS := 0.0
	if len(segments) > 0 {
		fallbackTS = segments[0].Start
	}
	quotes := make([]episode.Quote, 0, len(raw))
	for _, r := range raw {
		if len(r.Text) < e.Config.MinQuoteLength {
			continue
		}
		ts := r.Timestamp
		if ts <= 0 {
			ts = fallbackTS
		}
		quotes = append(quotes, episode.Quote{
			Text:       r.Text,
			Speaker:    r.Speaker,
			Timestamp:  ts,
			Context:    r.Context,
			Confidence: clamp01(r.Confidence),
		})
	}
	return ValidateQuotes(quotes, e.Config.MaxQuotesPerSegment), nil
}

// ExtractInsights runs insight extraction given text and an entity
// context string built from already-extracted entities.
func (e *Extractor) ExtractInsights(ctx context.Context, apiKey string, segments []episode.Segment, entityContext, cacheKey string) ([]episode.Insight, error) {
	text := combineSegments(segments)
	prompt := insightPrompt(text, entityContext)

	resp, err := e.Client.Complete(ctx, apiKey, llm.CompletionRequest{
		Model:       "gemini-flash",
		Prompt:      prompt,
		CacheKey:    cacheKey,
		MaxTokens:   2048,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, err
	}
	jsonStr, ok := extractJSONArray(resp.Text)
	if !ok {
		return nil, nil
	}
	var raw []rawInsight
	if json.Unmarshal([]byte(jsonStr), &raw) != nil {
		return nil, nil
	}

	insights := make([]episode.Insight, 0, len(raw))
	for _, r := range raw {
		if len(r.Description) < e.Config.MinInsightLength {
			continue
		}
		insights = append(insights, episode.Insight{
			Title:       r.Title,
			Description: r.Description,
			Category:    normalizeInsightType(r.Type),
			Confidence:  clamp01(r.Confidence),
		})
	}
	return ValidateInsights(insights), nil
}

// BuildEntityContext renders a short "known entities" block for the
// insight prompt, capped to avoid bloating it.
func BuildEntityContext(entities []episode.Entity) string {
	if len(entities) == 0 {
		return ""
	}
	limit := len(entities)
	if limit > 10 {
		limit = 10
	}
	out := "Known entities in this segment:"
	for _, e := range entities[:limit] {
		out += fmt.Sprintf("\n- %s (%s)", e.Name, e.Type)
	}
	return out
}

func stringMapToAny(m map[string]string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
