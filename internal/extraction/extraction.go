// Package extraction turns transcript text into entities, relationships,
// quotes, and insights via a batch-prompt-parse-validate loop over an
// llm.Client.
package extraction

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
	"github.com/sblumenf/podcastknowledge-sub007/internal/llm"
)

// Mode selects which entity/relationship schema an Extractor produces.
type Mode string

const (
	ModeFixed      Mode = "fixed"
	ModeSchemaless Mode = "schemaless"
	ModeDual       Mode = "dual" // migration mode: run both, write both
)

// FixedEntityTypes and FixedRelationshipTypes enumerate the vocabulary
// used by fixed-schema prompts.
var FixedEntityTypes = []string{"Person", "Organization", "Concept", "Technology", "Product", "Location", "Event"}
var FixedRelationshipTypes = []string{"works_for", "founded", "created", "influenced", "discusses", "related_to", "co-occurrence"}

// Config tunes validation and caching behavior.
type Config struct {
	Mode                      Mode
	MaxEntitiesPerSegment     int
	MaxQuotesPerSegment       int
	MinInsightLength          int
	MinQuoteLength            int
	MinTranscriptSizeForCache int
	CacheTTLSeconds           int
}

// DefaultConfig returns the baseline extraction tuning values.
func DefaultConfig() Config {
	return Config{
		Mode:                      ModeFixed,
		MaxEntitiesPerSegment:     50,
		MaxQuotesPerSegment:       10,
		MinInsightLength:          20,
		MinQuoteLength:            10,
		MinTranscriptSizeForCache: 5000,
		CacheTTLSeconds:           3600,
	}
}

// Extractor drives the four extraction operations against an llm.Client,
// with an optional episode-scoped cache for large-context prompts.
type Extractor struct {
	Client llm.Client
	Cache  *llm.CacheManager
	Config Config

	discoveredTypes map[string]struct{} // schemaless mode observability
}

// New returns an Extractor ready to process an episode.
func New(client llm.Client, cache *llm.CacheManager, cfg Config) *Extractor {
	return &Extractor{Client: client, Cache: cache, Config: cfg, discoveredTypes: make(map[string]struct{})}
}

// DiscoveredTypes returns the free-form entity/relationship type strings
// seen so far in schemaless mode, for observability.
func (e *Extractor) DiscoveredTypes() []string {
	out := make([]string, 0, len(e.discoveredTypes))
	for t := range e.discoveredTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// PrepareEpisodeCache registers transcript as a large-context cache when
// it exceeds MinTranscriptSizeForCache, so subsequent per-segment prompts
// reference it by key instead of resending it.
func (e *Extractor) PrepareEpisodeCache(ctx context.Context, apiKey, episodeID, transcript string) (string, error) {
	if len(transcript) < e.Config.MinTranscriptSizeForCache {
		return "", nil
	}
	key := "episode:" + episodeID
	ttl := e.Config.CacheTTLSeconds
	if ttl <= 0 {
		ttl = 3600
	}
	if err := e.Cache.RegisterEpisodeCache(ctx, e.Client, apiKey, key, transcript, time.Duration(ttl)*time.Second); err != nil {
		return "", fmt.Errorf("extraction: register episode cache: %w", err)
	}
	return key, nil
}

// combineSegments renders a batch of segments, separating each with a
// marker and a timestamp header so the model can anchor entities to
// positions.
func combineSegments(segments []episode.Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteString("\n\n---SEGMENT---\n\n")
		}
		fmt.Fprintf(&b, "[Time: %.2f-%.2f] %s: %s", seg.Start, seg.End, seg.Speaker, seg.Text)
	}
	return b.String()
}

// extractJSONArray locates the JSON substring between the first '[' and
// the last ']' in resp, step (c). Returns false if no
// bracket pair is found; callers must not throw on parse failure.
func extractJSONArray(resp string) (string, bool) {
	start := strings.Index(resp, "[")
	end := strings.LastIndex(resp, "]")
	if start < 0 || end < start {
		return "", false
	}
	return resp[start : end+1], true
}
