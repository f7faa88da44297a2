package llm

import (
	"context"
	"sync"
	"time"
)

// CacheManager owns both of the core's two overlapping caching paths:
// a provider-side prompt cache, registered
// once per episode via Client.RegisterCache and referenced by key on every
// subsequent request, and a local copy of the same content, returned by
// CachedContext, for providers with no native cache support, to which the
// transcript is resent on every call.
// DESIGN.md records the decision to keep both rather than collapse them:
// the provider cache saves tokens/cost on providers that support it, the
// local cache is the only option on providers that don't, and a single
// episode may be processed against either depending on which key's
// provider is selected that round.
type CacheManager struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	content   string
	expiresAt time.Time
}

// NewCacheManager returns an empty manager.
func NewCacheManager() *CacheManager {
	return &CacheManager{entries: make(map[string]*cacheEntry)}
}

// RegisterEpisodeCache registers content under key with both the local
// cache and, when client supports it, the provider's cache, valid for ttl.
func (m *CacheManager) RegisterEpisodeCache(ctx context.Context, client Client, apiKey, key, content string, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = &cacheEntry{content: content, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()

	return client.RegisterCache(ctx, apiKey, key, content, int(ttl.Seconds()))
}

// CachedContext returns the cached content for key if present and not
// expired. On TTL expiry the caller's next RegisterEpisodeCache call
// transparently recreates the entry.
func (m *CacheManager) CachedContext(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(m.entries, key)
		return "", false
	}
	return entry.content, true
}

// Invalidate drops key from the local cache immediately.
func (m *CacheManager) Invalidate(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}
