package metrics

import "sync"

// SpeakerRollup tracks, per podcast, how speaker mappings were resolved
// (regex strategy, cached, LLM, or positional fallback) and a coarse
// confidence histogram.
type SpeakerRollup struct {
	mu    sync.Mutex
	byPod map[string]*speakerCounts
}

type speakerCounts struct {
	BySource  map[string]int `json:"by_source"`
	Histogram [5]int         `json:"confidence_histogram"` // [0,.2) [.2,.4) [.4,.6) [.6,.8) [.8,1]
}

// NewSpeakerRollup returns an empty rollup.
func NewSpeakerRollup() *SpeakerRollup {
	return &SpeakerRollup{byPod: make(map[string]*speakerCounts)}
}

// Record tallies one resolved speaker mapping's source (e.g.
// "episode_description", "self_introduction", "closing_credits",
// "llm_identification", "fallback_role"; the external-description
// strategy reports "episode_description") and confidence for podcastID.
func (s *SpeakerRollup) Record(podcastID, source string, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byPod[podcastID]
	if !ok {
		c = &speakerCounts{BySource: make(map[string]int)}
		s.byPod[podcastID] = c
	}
	c.BySource[source]++
	bucket := int(confidence * 5)
	if bucket > 4 {
		bucket = 4
	}
	if bucket < 0 {
		bucket = 0
	}
	c.Histogram[bucket]++
}

// Snapshot returns a copy of podcastID's rollup, or zero values if
// nothing has been recorded.
func (s *SpeakerRollup) Snapshot(podcastID string) (bySource map[string]int, histogram [5]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byPod[podcastID]
	if !ok {
		return map[string]int{}, [5]int{}
	}
	out := make(map[string]int, len(c.BySource))
	for k, v := range c.BySource {
		out[k] = v
	}
	return out, c.Histogram
}
