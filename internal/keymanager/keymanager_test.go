package keymanager

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetNextKeyRoundRobin(t *testing.T) {
	m, err := New([]string{"key-a", "key-b", "key-c"}, map[string]ModelLimits{"default": {RPM: 100}}, "")
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		k, _, err := m.GetNextKey("gemini-flash")
		require.NoError(t, err)
		seen[k] = true
	}
	assert.Len(t, seen, 3)
}

func TestNoKeyAvailableDoesNotBlock(t *testing.T) {
	m, err := New([]string{"key-a"}, nil, "")
	require.NoError(t, err)

	require.NoError(t, m.MarkKeyFailure(0, "you have exceeded your current quota"))

	_, _, err = m.GetNextKey("gemini-flash")
	assert.ErrorIs(t, err, ErrNoKeyAvailable)
}

func TestMarkKeyFailureClassification(t *testing.T) {
	m, err := New([]string{"a", "b"}, nil, "")
	require.NoError(t, err)

	require.NoError(t, m.MarkKeyFailure(0, "429 Too Many Requests"))
	require.NoError(t, m.MarkKeyFailure(1, "quota exceeded"))

	states := m.Snapshot()
	byIndex := map[int]KeyState{}
	for _, s := range states {
		byIndex[s.Index] = s
	}
	assert.Equal(t, StatusRateLimited, byIndex[0].Status)
	assert.Equal(t, StatusQuotaExceeded, byIndex[1].Status)
}

func TestMarkKeyFailureThreeTimesGoesToError(t *testing.T) {
	m, err := New([]string{"a"}, nil, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.MarkKeyFailure(0, "connection reset by peer"))
	}

	states := m.Snapshot()
	assert.Equal(t, StatusError, states[0].Status)
}

func TestMarkKeySuccessResetsFailures(t *testing.T) {
	m, err := New([]string{"a"}, nil, "")
	require.NoError(t, err)

	require.NoError(t, m.MarkKeyFailure(0, "rate limit"))
	require.NoError(t, m.MarkKeySuccess(0))

	states := m.Snapshot()
	assert.Equal(t, StatusAvailable, states[0].Status)
	assert.Equal(t, 0, states[0].ConsecutiveFailures)
}

func TestGetAvailableKeyForQuotaRespectsDailyTokenLimit(t *testing.T) {
	m, err := New([]string{"a"}, map[string]ModelLimits{"default": {TPD: 100}}, "")
	require.NoError(t, err)
	require.NoError(t, m.UpdateKeyUsage(0, 90, "gemini-flash"))

	_, _, err = m.GetAvailableKeyForQuota("gemini-flash", 20)
	assert.ErrorIs(t, err, ErrNoKeyAvailable)

	_, _, err = m.GetAvailableKeyForQuota("gemini-flash", 5)
	assert.NoError(t, err)
}

func TestWithKeyMarksFailureAndRotatesAway(t *testing.T) {
	m, err := New([]string{"key-a", "key-b", "key-c"}, nil, "")
	require.NoError(t, err)

	// A call through WithKey that fails with a quota error marks the
	// selected key quota_exceeded and surfaces the error to the caller.
	quota := errors.New("exceeded your current quota")
	err = WithKey(context.Background(), m, "gemini-flash", func(ctx context.Context, apiKey string) (int, error) {
		assert.Equal(t, "key-a", apiKey)
		return 0, quota
	})
	assert.ErrorIs(t, err, quota)
	require.NoError(t, m.MarkKeyFailure(2, "exceeded your current quota"))

	// With keys 0 and 2 exhausted, every subsequent selection lands on
	// key 1.
	for i := 0; i < 3; i++ {
		require.NoError(t, WithKey(context.Background(), m, "gemini-flash", func(ctx context.Context, apiKey string) (int, error) {
			assert.Equal(t, "key-b", apiKey)
			return 5, nil
		}))
	}

	states := m.Snapshot()
	assert.Equal(t, StatusQuotaExceeded, states[0].Status)
	assert.Equal(t, StatusAvailable, states[1].Status)
	assert.Greater(t, states[1].ModelUsage["gemini-flash"].Tokens, 0)
}

func TestPersistAndReloadState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keystate.json")

	m1, err := New([]string{"key-a", "key-b"}, nil, path)
	require.NoError(t, err)
	require.NoError(t, m1.MarkKeyFailure(0, "quota exceeded"))
	require.NoError(t, m1.UpdateKeyUsage(1, 42, "gemini-flash"))

	m2, err := New([]string{"key-a", "key-b"}, nil, path)
	require.NoError(t, err)

	states := m2.Snapshot()
	assert.Equal(t, StatusQuotaExceeded, states[0].Status)
	assert.Equal(t, 42, states[1].ModelUsage["gemini-flash"].Tokens)
}
