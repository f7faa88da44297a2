// Package speaker replaces generic diarization labels ("Speaker 0",
// "Guest Expert") with real names, using a cascade of increasingly
// expensive strategies: cheap regexes first, an LLM prompt last.
package speaker

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
	"github.com/sblumenf/podcastknowledge-sub007/internal/ingest"
	"github.com/sblumenf/podcastknowledge-sub007/internal/llm"
)

// DefaultConfidenceThreshold is the minimum confidence a mapping must
// carry before it is trusted over a descriptive fallback role.
const DefaultConfidenceThreshold = 0.7

// genericPatterns matches the family of placeholder labels diarization
// and upstream prompts emit: "Speaker 0", "Guest 2", "Host",
// "Co-host (segment 4)", "Guest Expert (Psychiatrist)",
// "Guest/Contributor", "Co-host/Producer".
var genericPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(speaker|guest|host|co-host)(\s*\d+|\s*\(.*\))?$`),
	regexp.MustCompile(`(?i)^guest expert(\s*\(.*\))?$`),
	regexp.MustCompile(`(?i)^(speaker|guest|host|co-host)/[\w .'-]+$`),
}

// IsGeneric reports whether label is a placeholder that should be
// replaced rather than a real name already present in the transcript.
func IsGeneric(label string) bool {
	trimmed := strings.TrimSpace(label)
	for _, p := range genericPatterns {
		if p.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// Mapping is the result of identifying one speaker.
type Mapping struct {
	GenericLabel    string
	IdentifiedName  string
	Confidence      float64
	Source          string // which strategy produced this mapping
	Evidence        []string
}

// Result is the output of Identify across every generic label in an
// episode.
type Result struct {
	Mappings map[string]Mapping
}

// KeySource selects a rotated API key for the LLM strategy and records
// the call's outcome. *keymanager.Manager satisfies it; a nil KeySource
// issues the call with an empty key (tests, providers with ambient auth).
type KeySource interface {
	GetNextKey(model string) (apiKey string, index int, err error)
	MarkKeySuccess(index int) error
	MarkKeyFailure(index int, errText string) error
}

// Identifier runs the cascade: episode-description regex,
// in-transcript self-introduction, closing-credits scan, external
// channel description, then LLM identification, taking the first
// match for each label. A match below ConfidenceMin is passed on to the
// LLM step and, if still below it, replaced by a positional fallback
// role.
type Identifier struct {
	LLMClient       llm.Client
	Keys            KeySource
	PodcastCache    *PodcastCache
	ConfidenceMin   float64
	ClosingCreditsK int // number of trailing segments scanned for credits
}

// New returns an Identifier with defaults applied.
func New(client llm.Client, cache *PodcastCache) *Identifier {
	return &Identifier{
		LLMClient:       client,
		PodcastCache:    cache,
		ConfidenceMin:   DefaultConfidenceThreshold,
		ClosingCreditsK: 5,
	}
}

// Input bundles everything a strategy may need.
type Input struct {
	Podcast       episode.Podcast
	Episode       episode.Episode
	VideoURL      string // optional external channel/video page for strategy 4
	GenericLabels []string
}

// Identify runs the cascade for every generic label in in.GenericLabels
// and returns the combined mapping, applying per-podcast caching first.
func (id *Identifier) Identify(ctx context.Context, in Input) (Result, error) {
	result := Result{Mappings: make(map[string]Mapping, len(in.GenericLabels))}

	var unresolved []string
	if id.PodcastCache != nil {
		for _, label := range in.GenericLabels {
			if m, ok := id.PodcastCache.Lookup(in.Podcast.ID, label); ok {
				result.Mappings[label] = m
				continue
			}
			unresolved = append(unresolved, label)
		}
	} else {
		unresolved = in.GenericLabels
	}

	for _, label := range unresolved {
		result.Mappings[label] = id.identifyOne(ctx, in, label)
	}

	// LLM strategy (cascade step 5) is batched across all labels the
	// cheap per-label strategies left unresolved or low-confidence,
	// since it shares one prompt covering every speaker at once.
	id.runBatchedLLM(ctx, in, result, unresolved)

	for _, label := range unresolved {
		m := result.Mappings[label]
		if m.Confidence < id.ConfidenceMin {
			m = id.fallback(in, label, m)
			result.Mappings[label] = m
		}
		if id.PodcastCache != nil {
			id.PodcastCache.Store(in.Podcast.ID, label, m)
		}
	}

	return result, nil
}

func (id *Identifier) identifyOne(ctx context.Context, in Input, label string) Mapping {
	if m, ok := fromDescription(in.Episode.Description, label); ok {
		return m
	}
	if m, ok := fromSelfIntroduction(in.Episode.Segments, label); ok {
		return m
	}
	if m, ok := fromClosingCredits(in.Episode.Segments, label, id.ClosingCreditsK); ok {
		return m
	}
	if in.VideoURL != "" {
		if m, ok := id.fromExternalDescription(ctx, in.VideoURL, label); ok {
			return m
		}
	}
	return Mapping{GenericLabel: label, Source: "none"}
}

func (id *Identifier) fromExternalDescription(ctx context.Context, videoURL, label string) (Mapping, bool) {
	content, err := ingest.FetchURL(ctx, videoURL)
	if err != nil || content.Text == "" {
		return Mapping{}, false
	}
	return fromDescription(content.Text, label)
}

// fallback derives a descriptive role from the label's position among
// the sorted generic labels when no strategy produced a confident
// mapping.
func (id *Identifier) fallback(in Input, label string, attempt Mapping) Mapping {
	if attempt.IdentifiedName != "" {
		// Keep a low-confidence name as evidence but still report a
		// descriptive fallback role as the chosen identification.
	}
	labels := append([]string(nil), in.GenericLabels...)
	sort.Strings(labels)
	first := len(labels) > 0 && labels[0] == label

	var role string
	switch {
	case first && len(labels) == 1:
		role = "Host/Narrator"
	case first:
		role = "Host"
	default:
		role = "Primary Speaker"
	}
	return Mapping{
		GenericLabel:   label,
		IdentifiedName: role,
		Confidence:     id.ConfidenceMin,
		Source:         "fallback_role",
		Evidence:       attempt.Evidence,
	}
}
