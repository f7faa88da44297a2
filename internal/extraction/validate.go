package extraction

import (
	"sort"
	"strings"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

// knownInsightTypes is the normalized vocabulary for Insight.Category;
// anything else collapses to "observation".
var knownInsightTypes = map[string]bool{
	"observation":    true,
	"lesson":         true,
	"prediction":     true,
	"recommendation": true,
	"fact":           true,
}

func normalizeInsightType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if knownInsightTypes[t] {
		return t
	}
	return "observation"
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clampScore bounds an importance-style score to the [0,10] range used by
// episode.Entity.Importance.
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateEntities merges duplicate (normalized name, type) keys keeping
// max confidence, then caps the result to maxCount by importance. Entity
// names use episode.NormalizeEntityName (accent-stripped, corporate
// suffixes removed) rather than the plain lowercase-trim normalizeName
// used for quotes/insights below, per the entity-specific dedup rule.
func ValidateEntities(entities []episode.Entity, maxCount int) []episode.Entity {
	merged := make(map[string]episode.Entity)
	order := make([]string, 0, len(entities))
	for _, e := range entities {
		key := e.NormalizedKey(episode.NormalizeEntityName)
		existing, ok := merged[key]
		if !ok {
			merged[key] = e
			order = append(order, key)
			continue
		}
		if e.Confidence > existing.Confidence {
			existing.Confidence = e.Confidence
		}
		if e.Description != "" && existing.Description == "" {
			existing.Description = e.Description
		}
		merged[key] = existing
	}

	out := make([]episode.Entity, 0, len(order))
	for _, k := range order {
		out = append(out, merged[k])
	}

	if maxCount <= 0 || len(out) <= maxCount {
		return out
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return out[:maxCount]
}

// ValidateQuotes dedupes quotes by normalized text, then caps the
// result to maxCount by quotability score when the model yields more
// candidates than fit, breaking ties by confidence.
func ValidateQuotes(quotes []episode.Quote, maxCount int) []episode.Quote {
	seen := make(map[string]bool, len(quotes))
	out := make([]episode.Quote, 0, len(quotes))
	for _, q := range quotes {
		key := normalizeName(q.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}

	if maxCount <= 0 || len(out) <= maxCount {
		return out
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := quotabilityScore(out[i].Text), quotabilityScore(out[j].Text)
		if si != sj {
			return si > sj
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out[:maxCount]
}

// ValidateInsights dedupes insights by case-insensitive title.
func ValidateInsights(insights []episode.Insight) []episode.Insight {
	seen := make(map[string]bool, len(insights))
	out := make([]episode.Insight, 0, len(insights))
	for _, ins := range insights {
		key := normalizeName(ins.Title)
		if key != "" && seen[key] {
			continue
		}
		if key != "" {
			seen[key] = true
		}
		out = append(out, ins)
	}
	return out
}
