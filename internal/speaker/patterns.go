package speaker

import (
	"regexp"
	"strings"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

// descriptionPattern extracts "Host: Name" / "Guest: Name" style role
// markers from episode descriptions.
var descriptionPattern = regexp.MustCompile(`(?i:(host|guest|co-host)s?)\s*:\s*([A-Z][\w'.-]+(?:\s+[A-Z][\w'.-]+){0,3})`)

// welcomePattern catches "Join us as we welcome <Name>" phrasing.
var welcomePattern = regexp.MustCompile(`(?i)welcome\s+([A-Z][\w'.-]+(?:\s+[A-Z][\w'.-]+){0,3})`)

// fromDescription applies strategy 1 against free text (either the
// episode description or, when reused for strategy 4, fetched external
// page text).
func fromDescription(text, label string) (Mapping, bool) {
	if text == "" {
		return Mapping{}, false
	}
	if m := descriptionPattern.FindStringSubmatch(text); m != nil {
		return Mapping{
			GenericLabel:   label,
			IdentifiedName: strings.TrimSpace(m[2]),
			Confidence:     0.75,
			Source:         "episode_description",
			Evidence:       []string{m[0]},
		}, true
	}
	if m := welcomePattern.FindStringSubmatch(text); m != nil {
		return Mapping{
			GenericLabel:   label,
			IdentifiedName: strings.TrimSpace(m[1]),
			Confidence:     0.65,
			Source:         "episode_description",
			Evidence:       []string{m[0]},
		}, true
	}
	return Mapping{}, false
}

// selfIntroPattern matches first-person self-introductions within a
// segment's own text.
var selfIntroPattern = regexp.MustCompile(`(?i)\b(?:I'?m|my name is|this is)\s+([A-Z][\w'.-]+(?:\s+[A-Z][\w'.-]+){0,2})\b`)

func fromSelfIntroduction(segments []episode.Segment, label string) (Mapping, bool) {
	for _, seg := range segments {
		if seg.Speaker != label {
			continue
		}
		if m := selfIntroPattern.FindStringSubmatch(seg.Text); m != nil {
			return Mapping{
				GenericLabel:   label,
				IdentifiedName: strings.TrimSpace(m[1]),
				Confidence:     0.85,
				Source:         "self_introduction",
				Evidence:       []string{seg.Text},
			}, true
		}
	}
	return Mapping{}, false
}

// creditsPattern catches closing-credits style attributions.
var creditsPattern = regexp.MustCompile(`(?i)(?:thanks to our guest|produced by|edited by|hosted by)\s+([A-Z][\w'.-]+(?:\s+[A-Z][\w'.-]+){0,2})`)

func fromClosingCredits(segments []episode.Segment, label string, lastK int) (Mapping, bool) {
	if lastK <= 0 || len(segments) == 0 {
		return Mapping{}, false
	}
	start := len(segments) - lastK
	if start < 0 {
		start = 0
	}
	for _, seg := range segments[start:] {
		if m := creditsPattern.FindStringSubmatch(seg.Text); m != nil {
			return Mapping{
				GenericLabel:   label,
				IdentifiedName: strings.TrimSpace(m[1]),
				Confidence:     0.6,
				Source:         "closing_credits",
				Evidence:       []string{seg.Text},
			}, true
		}
	}
	return Mapping{}, false
}

// ExtractSamples pulls up to maxSamples representative utterances for a
// given speaker label, used to build the LLM identification prompt.
func ExtractSamples(segments []episode.Segment, label string, maxSamples int) []string {
	var samples []string
	for _, seg := range segments {
		if seg.Speaker != label {
			continue
		}
		text := strings.TrimSpace(seg.Text)
		if len(text) <= 20 {
			continue
		}
		if len(text) > 200 {
			text = text[:200]
		}
		samples = append(samples, text)
		if len(samples) >= maxSamples {
			break
		}
	}
	return samples
}
