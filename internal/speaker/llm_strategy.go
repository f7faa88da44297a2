package speaker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sblumenf/podcastknowledge-sub007/internal/llm"
)

// llmMapping is the shape the model is asked to return: a flat object
// from generic label to identified name/role.
type llmMapping map[string]string

// runBatchedLLM builds one prompt covering every still-unidentified
// label (strategy 5), asks the LLM for a mapping, validates it, and
// writes confident results back into result. Labels the model rejects
// (empty, "UNKNOWN", or shorter than 2 characters) are left for the
// position-based fallback in Identify.
func (id *Identifier) runBatchedLLM(ctx context.Context, in Input, result Result, labels []string) {
	if id.LLMClient == nil {
		return
	}
	var pending []string
	for _, label := range labels {
		if existing, ok := result.Mappings[label]; ok && existing.Source != "none" && existing.Confidence >= id.ConfidenceMin {
			continue
		}
		pending = append(pending, label)
	}
	if len(pending) == 0 {
		return
	}

	apiKey := ""
	keyIndex := -1
	if id.Keys != nil {
		k, idx, err := id.Keys.GetNextKey("gemini-flash")
		if err != nil {
			return
		}
		apiKey, keyIndex = k, idx
	}

	prompt := buildIdentificationPrompt(in, pending)
	resp, err := id.LLMClient.Complete(ctx, apiKey, llm.CompletionRequest{
		Model:        "gemini-flash",
		SystemPrompt: "You identify podcast speakers from transcript context. Respond with JSON only.",
		Prompt:       prompt,
		MaxTokens:    1024,
	})
	if err != nil {
		if id.Keys != nil {
			_ = id.Keys.MarkKeyFailure(keyIndex, err.Error())
		}
		return
	}
	if id.Keys != nil {
		_ = id.Keys.MarkKeySuccess(keyIndex)
	}

	mapping, err := parseMapping(resp.Text)
	if err != nil {
		return
	}

	for _, label := range pending {
		name, ok := mapping[label]
		if !ok {
			continue
		}
		name = strings.Trim(strings.TrimSpace(name), `"'`)
		if !isAcceptableName(name, label) {
			continue
		}
		result.Mappings[label] = Mapping{
			GenericLabel:   label,
			IdentifiedName: name,
			Confidence:     0.8,
			Source:         "llm_identification",
		}
	}
}

// isAcceptableName rejects the model's explicit "don't know" signal and
// degenerate answers.
func isAcceptableName(name, label string) bool {
	if name == "" || name == label {
		return false
	}
	if strings.EqualFold(name, "unknown") {
		return false
	}
	return len(name) >= 2
}

func parseMapping(text string) (llmMapping, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("speaker: no JSON object in LLM response")
	}
	var m llmMapping
	if err := json.Unmarshal([]byte(text[start:end+1]), &m); err != nil {
		return nil, fmt.Errorf("speaker: unmarshal LLM mapping: %w", err)
	}
	return m, nil
}

func buildIdentificationPrompt(in Input, labels []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Podcast: %s\n", in.Podcast.Name)
	fmt.Fprintf(&b, "Episode: %s\n", in.Episode.Title)
	desc := in.Episode.Description
	if len(desc) > 500 {
		desc = desc[:500]
	}
	fmt.Fprintf(&b, "Description: %s\n\n", desc)

	for _, label := range labels {
		samples := ExtractSamples(in.Episode.Segments, label, 3)
		fmt.Fprintf(&b, "%s sample dialogue:\n", label)
		for _, s := range samples {
			fmt.Fprintf(&b, "- %q\n", s)
		}
	}

	b.WriteString("\nReturn a JSON object mapping each speaker label above to its most likely name or role. ")
	b.WriteString(`Use "UNKNOWN" only if there is truly no evidence. Example: {"Speaker 0": "Jane Doe (Host)"}`)
	return b.String()
}
