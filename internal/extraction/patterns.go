package extraction

import (
	"regexp"
	"strings"
)

// Entity-surface patterns used to infer a type hint when the schemaless
// prompt's own type label is unusable (see sanitizeSchemalessType
// below).
var (
	companySuffixPattern = regexp.MustCompile(`(?i)\b(?:inc\.?|corp\.?|llc|ltd\.?|company|co\.?)\b`)
	emailPattern         = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	urlPattern           = regexp.MustCompile(`https?://`)
	moneyPattern         = regexp.MustCompile(`\$\d`)
	datePattern          = regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`)
)

// quotePatterns lists phrasing that tends to mark a sentence as
// standalone-quotable (belief statements, absolute terms, advice
// framing, literal quoted text). Used by quotabilityScore to rank
// candidate quotes when a segment yields more than fits the cap.
var quotePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:the key|the secret|the most important|the main)\b`),
	regexp.MustCompile(`(?i)\b(?:always|never|every|all|none|nothing|everything)\b`),
	regexp.MustCompile(`(?i)\b(?:success|failure|mistake|lesson|achievement)\b`),
	regexp.MustCompile(`(?i)\b(?:believe|think|know|realize|understand|feel)\b`),
	regexp.MustCompile(`(?i)\b(?:if you|when you|you should|you must|you need to)\b`),
	regexp.MustCompile(`(?i)\b(?:changed my|transformed|revolutionized|shifted)\b`),
	regexp.MustCompile(`"[^"]{10,200}"`),
}

// quotabilityScore counts how many of quotePatterns match text,
// normalized to [0,1]: matching 30% of the pattern set counts as
// maximally quotable.
func quotabilityScore(text string) float64 {
	if text == "" {
		return 0
	}
	matches := 0
	for _, p := range quotePatterns {
		if p.MatchString(text) {
			matches++
		}
	}
	threshold := float64(len(quotePatterns)) * 0.3
	if threshold < 1 {
		threshold = 1
	}
	score := float64(matches) / threshold
	if score > 1 {
		score = 1
	}
	return score
}

// inferTypeHint guesses an entity type from its surface name when the
// model's own label looks unusable (company suffix, email, URL, money,
// date).
func inferTypeHint(name string) string {
	switch {
	case companySuffixPattern.MatchString(name):
		return "Organization"
	case emailPattern.MatchString(name), urlPattern.MatchString(name):
		return "Resource"
	case moneyPattern.MatchString(name):
		return "Metric"
	case datePattern.MatchString(name):
		return "Event"
	default:
		return ""
	}
}

// sanitizeSchemalessType sanity-checks a free-form entity type: the
// schemaless prompt has no enum to constrain the model, and it
// occasionally echoes a clause from the transcript instead of a short
// type label. A usable type is a handful of words with no sentence
// punctuation; anything else falls back to a pattern-inferred hint, then
// to "Unknown".
func sanitizeSchemalessType(rawType, name string) string {
	t := strings.TrimSpace(rawType)
	if t != "" && len(strings.Fields(t)) <= 3 && !strings.ContainsAny(t, ".!?\"") {
		return t
	}
	if hint := inferTypeHint(name); hint != "" {
		return hint
	}
	return "Unknown"
}
