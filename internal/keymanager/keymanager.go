// Package keymanager rotates across multiple LLM API keys, honoring
// per-minute, per-day, and per-model quotas, and persists key state across
// process restarts.
package keymanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Status is a key's current eligibility.
type Status string

const (
	StatusAvailable     Status = "available"
	StatusRateLimited   Status = "rate_limited"
	StatusQuotaExceeded Status = "quota_exceeded"
	StatusError         Status = "error"
)

// ErrNoKeyAvailable is returned when every configured key is ineligible
// for the requested model.
var ErrNoKeyAvailable = errors.New("keymanager: no key available")

// ModelLimits are the per-model RPM/TPM/RPD quotas. A "default" entry in
// the owning Manager's Limits map is used for models with no specific
// entry.
type ModelLimits struct {
	RPM int
	TPM int
	RPD int
	TPD int
}

// modelUsage tracks a single key's counters for a single model.
type modelUsage struct {
	Requests int `json:"requests"`
	Tokens   int `json:"tokens"`
}

// KeyState is the persisted, mutable state of one API key.
type KeyState struct {
	Index               int                    `json:"index"`
	KeyName             string                 `json:"key_name"`
	Status              Status                 `json:"status"`
	ConsecutiveFailures int                    `json:"consecutive_failures"`
	RequestsToday       int                    `json:"requests_today"`
	TokensToday         int                    `json:"tokens_today"`
	RequestsThisMinute  int                    `json:"requests_this_minute"`
	TokensThisMinute    int                    `json:"tokens_this_minute"`
	LastMinuteReset     time.Time              `json:"last_minute_reset"`
	LastDailyReset      time.Time              `json:"last_daily_reset"`
	LastUsed            time.Time              `json:"last_used"`
	ErrorMessage        string                 `json:"error_message,omitempty"`
	ModelUsage          map[string]*modelUsage `json:"model_usage"`

	key string // never serialized
}

// persistedFile is the on-disk shape of the key-state file.
type persistedFile struct {
	CurrentIndex int        `json:"current_index"`
	LastReset    string     `json:"last_reset"`
	KeyStates    []KeyState `json:"key_states"`
}

// quotaPatterns and rateLimitPatterns classify a failure's error text.
var quotaPatterns = []string{"quota", "exceeded your current quota", "insufficient_quota"}
var rateLimitPatterns = []string{"rate limit", "rate_limit", "429", "too many requests"}

// Manager is the process-wide, mutex-guarded key rotation table.
type Manager struct {
	mu        sync.Mutex
	keys      []*KeyState
	current   int
	limits    map[string]ModelLimits
	statePath string
	lastReset time.Time
}

// New constructs a Manager from a set of raw API key strings. Limits maps
// model name to quota; a "default" entry is used for unconfigured models.
func New(apiKeys []string, limits map[string]ModelLimits, statePath string) (*Manager, error) {
	if len(apiKeys) == 0 {
		return nil, fmt.Errorf("keymanager: at least one API key is required")
	}
	m := &Manager{
		limits:    limits,
		statePath: statePath,
		lastReset: time.Now(),
	}
	now := time.Now()
	for i, k := range apiKeys {
		m.keys = append(m.keys, &KeyState{
			Index:           i,
			KeyName:         maskKey(k, i),
			Status:          StatusAvailable,
			LastMinuteReset: now,
			LastDailyReset:  now,
			ModelUsage:      make(map[string]*modelUsage),
			key:             k,
		})
	}

	if statePath != "" {
		if err := m.loadLocked(); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("keymanager: load state: %w", err)
		}
	}

	return m, nil
}

func maskKey(key string, index int) string {
	tail := key
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return fmt.Sprintf("key_%d (%s)", index+1, tail)
}

// GetNextKey selects the next usable key in round-robin order for model,
// skipping keys that are not available or whose per-minute/per-day counters
// for model already exceed configured limits.
func (m *Manager) GetNextKey(model string) (apiKey string, index int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetIfNeededLocked()

	n := len(m.keys)
	for i := 0; i < n; i++ {
		idx := (m.current + i) % n
		ks := m.keys[idx]
		if m.eligibleLocked(ks, model, 0) {
			m.current = (idx + 1) % n
			return ks.key, ks.Index, nil
		}
	}
	return "", -1, ErrNoKeyAvailable
}

// GetAvailableKeyForQuota behaves like GetNextKey but additionally
// requires tokensToday+tokensNeeded <= tpd_limit[model].
func (m *Manager) GetAvailableKeyForQuota(model string, tokensNeeded int) (apiKey string, index int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetIfNeededLocked()

	n := len(m.keys)
	for i := 0; i < n; i++ {
		idx := (m.current + i) % n
		ks := m.keys[idx]
		if m.eligibleLocked(ks, model, tokensNeeded) {
			m.current = (idx + 1) % n
			return ks.key, ks.Index, nil
		}
	}
	return "", -1, ErrNoKeyAvailable
}

func (m *Manager) eligibleLocked(ks *KeyState, model string, tokensNeeded int) bool {
	if ks.Status != StatusAvailable {
		return false
	}
	limits := m.limitsFor(model)
	if limits.RPM > 0 && ks.RequestsThisMinute >= limits.RPM {
		return false
	}
	if limits.RPD > 0 && ks.RequestsToday >= limits.RPD {
		return false
	}
	if limits.TPM > 0 && ks.TokensThisMinute+tokensNeeded > limits.TPM {
		return false
	}
	if limits.TPD > 0 && ks.TokensToday+tokensNeeded > limits.TPD {
		return false
	}
	return true
}

func (m *Manager) limitsFor(model string) ModelLimits {
	if l, ok := m.limits[model]; ok {
		return l
	}
	return m.limits["default"]
}

// MarkKeySuccess resets the key's failure streak and marks it available.
func (m *Manager) MarkKeySuccess(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks, err := m.byIndexLocked(index)
	if err != nil {
		return err
	}
	ks.Status = StatusAvailable
	ks.ConsecutiveFailures = 0
	ks.LastUsed = time.Now()
	ks.ErrorMessage = ""
	return m.persistLocked()
}

// MarkKeyFailure records a failed call and transitions the key's status
// based on errText.
func (m *Manager) MarkKeyFailure(index int, errText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks, err := m.byIndexLocked(index)
	if err != nil {
		return err
	}
	ks.ConsecutiveFailures++
	ks.ErrorMessage = errText

	lower := strings.ToLower(errText)
	switch {
	case matchesAny(lower, quotaPatterns):
		ks.Status = StatusQuotaExceeded
	case matchesAny(lower, rateLimitPatterns):
		ks.Status = StatusRateLimited
	case ks.ConsecutiveFailures >= 3:
		ks.Status = StatusError
	}
	return m.persistLocked()
}

// UpdateKeyUsage adds tokensUsed to the minute, day, and per-model
// counters for index.
func (m *Manager) UpdateKeyUsage(index int, tokensUsed int, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks, err := m.byIndexLocked(index)
	if err != nil {
		return err
	}
	ks.RequestsThisMinute++
	ks.TokensThisMinute += tokensUsed
	ks.RequestsToday++
	ks.TokensToday += tokensUsed
	usage := ks.ModelUsage[model]
	if usage == nil {
		usage = &modelUsage{}
		ks.ModelUsage[model] = usage
	}
	usage.Requests++
	usage.Tokens += tokensUsed
	return m.persistLocked()
}

func (m *Manager) byIndexLocked(index int) (*KeyState, error) {
	for _, ks := range m.keys {
		if ks.Index == index {
			return ks, nil
		}
	}
	return nil, fmt.Errorf("keymanager: no key with index %d", index)
}

func matchesAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// resetIfNeededLocked resets the per-minute counter when 60s have elapsed
// since it was last reset, and the per-day counters when the wall-clock
// date has advanced.
func (m *Manager) resetIfNeededLocked() {
	now := time.Now()
	for _, ks := range m.keys {
		if now.Sub(ks.LastMinuteReset) > time.Minute {
			ks.RequestsThisMinute = 0
			ks.TokensThisMinute = 0
			ks.LastMinuteReset = now
		}
		if now.Year() != ks.LastDailyReset.Year() || now.YearDay() != ks.LastDailyReset.YearDay() {
			ks.RequestsToday = 0
			ks.TokensToday = 0
			for _, u := range ks.ModelUsage {
				u.Requests = 0
				u.Tokens = 0
			}
			ks.LastDailyReset = now
			if ks.Status == StatusQuotaExceeded {
				ks.Status = StatusAvailable
			}
		}
	}
}

// Snapshot returns a copy of the current key states for reporting (e.g.
// `podcastcore keys status`).
func (m *Manager) Snapshot() []KeyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]KeyState, len(m.keys))
	for i, ks := range m.keys {
		out[i] = *ks
	}
	return out
}

func (m *Manager) persistLocked() error {
	if m.statePath == "" {
		return nil
	}
	doc := persistedFile{
		CurrentIndex: m.current,
		LastReset:    m.lastReset.Format("2006-01-02"),
	}
	for _, ks := range m.keys {
		doc.KeyStates = append(doc.KeyStates, *ks)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("keymanager: marshal state: %w", err)
	}

	dir := filepath.Dir(m.statePath)
	tmp, err := os.CreateTemp(dir, ".keystate-*.tmp")
	if err != nil {
		return fmt.Errorf("keymanager: create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("keymanager: write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("keymanager: close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.statePath); err != nil {
		return fmt.Errorf("keymanager: rename state file: %w", err)
	}
	return nil
}

func (m *Manager) loadLocked() error {
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		return err
	}
	var doc persistedFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("keymanager: unmarshal state: %w", err)
	}
	m.current = doc.CurrentIndex
	if t, err := time.Parse("2006-01-02", doc.LastReset); err == nil {
		m.lastReset = t
	}

	byIndex := make(map[int]KeyState, len(doc.KeyStates))
	for _, ks := range doc.KeyStates {
		byIndex[ks.Index] = ks
	}
	for _, ks := range m.keys {
		if loaded, ok := byIndex[ks.Index]; ok {
			key := ks.key
			*ks = loaded
			ks.key = key
			if ks.ModelUsage == nil {
				ks.ModelUsage = make(map[string]*modelUsage)
			}
		}
	}
	return nil
}

// LoadAPIKeysFromEnv implements the numbered-then-fallback env var
// discovery described in the external interfaces contract:
// GEMINI_API_KEY_1..N, stopping at the first gap, falling back to
// GEMINI_API_KEY when no numbered key is present.
func LoadAPIKeysFromEnv(prefix string) []string {
	var keys []string
	for i := 1; ; i++ {
		v := os.Getenv(fmt.Sprintf("%s_%d", prefix, i))
		if v == "" {
			break
		}
		keys = append(keys, v)
	}
	if len(keys) == 0 {
		if v := os.Getenv(prefix); v != "" {
			keys = append(keys, v)
		}
	}
	return keys
}

// WithKey runs fn with a key selected for model, marking success or
// failure on the manager based on fn's outcome, and updating usage
// counters from fn's reported token count.
func WithKey(ctx context.Context, m *Manager, model string, fn func(ctx context.Context, apiKey string) (tokensUsed int, err error)) error {
	apiKey, index, err := m.GetNextKey(model)
	if err != nil {
		return err
	}

	tokens, callErr := fn(ctx, apiKey)
	if callErr != nil {
		_ = m.MarkKeyFailure(index, callErr.Error())
		return callErr
	}
	_ = m.MarkKeySuccess(index)
	return m.UpdateKeyUsage(index, tokens, model)
}
