package speaker

import "sync"

// PodcastCache stores identified-speaker mappings per podcast so that
// subsequent episodes of the same show reuse stable host identifications
// without re-running the LLM strategy.
type PodcastCache struct {
	mu   sync.Mutex
	data map[string]map[string]Mapping // podcastID -> genericLabel -> mapping
}

// NewPodcastCache returns an empty cache.
func NewPodcastCache() *PodcastCache {
	return &PodcastCache{data: make(map[string]map[string]Mapping)}
}

// Lookup returns the cached mapping for (podcastID, label), if present.
func (c *PodcastCache) Lookup(podcastID, label string) (Mapping, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byLabel, ok := c.data[podcastID]
	if !ok {
		return Mapping{}, false
	}
	m, ok := byLabel[label]
	return m, ok
}

// Store caches m for (podcastID, label) only when it is a confident,
// non-fallback identification: fallback roles are positional and should
// be recomputed per episode rather than pinned across the podcast.
func (c *PodcastCache) Store(podcastID, label string, m Mapping) {
	if m.Source == "fallback_role" || m.Source == "none" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data[podcastID] == nil {
		c.data[podcastID] = make(map[string]Mapping)
	}
	c.data[podcastID][label] = m
}
