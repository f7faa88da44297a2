package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClientReplaysResponsesInOrder(t *testing.T) {
	m := NewMockClient(
		CompletionResponse{Text: "first"},
		CompletionResponse{Text: "second"},
	)
	r1, err := m.Complete(context.Background(), "key", CompletionRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "first", r1.Text)

	r2, err := m.Complete(context.Background(), "key", CompletionRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "second", r2.Text)
}

func TestMockClientExhaustedResponsesReturnsEmptyResponseError(t *testing.T) {
	m := NewMockClient(CompletionResponse{Text: "only"})
	_, err := m.Complete(context.Background(), "key", CompletionRequest{})
	require.NoError(t, err)
	_, err = m.Complete(context.Background(), "key", CompletionRequest{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestMockClientReplaysErrorsByIndex(t *testing.T) {
	boom := errors.New("rate limited")
	m := &MockClient{Errors: []error{boom}}
	_, err := m.Complete(context.Background(), "key", CompletionRequest{})
	assert.ErrorIs(t, err, boom)
}

func TestMockClientCompleteFuncOverridesResponses(t *testing.T) {
	m := &MockClient{
		Responses: []CompletionResponse{{Text: "ignored"}},
		CompleteFunc: func(ctx context.Context, apiKey string, req CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{Text: "from func: " + req.Prompt}, nil
		},
	}
	r, err := m.Complete(context.Background(), "key", CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "from func: hi", r.Text)
}

func TestCacheManagerRegisterAndFetch(t *testing.T) {
	c := NewCacheManager()
	client := NewMockClient()
	require.NoError(t, c.RegisterEpisodeCache(context.Background(), client, "key", "ep1", "transcript text", time.Hour))

	content, ok := c.CachedContext("ep1")
	require.True(t, ok)
	assert.Equal(t, "transcript text", content)
	assert.Equal(t, "transcript text", client.Cached["ep1"])
}

func TestCacheManagerExpiresEntries(t *testing.T) {
	c := NewCacheManager()
	client := NewMockClient()
	require.NoError(t, c.RegisterEpisodeCache(context.Background(), client, "key", "ep1", "stale", -time.Second))

	_, ok := c.CachedContext("ep1")
	assert.False(t, ok)
}

func TestCacheManagerInvalidate(t *testing.T) {
	c := NewCacheManager()
	client := NewMockClient()
	require.NoError(t, c.RegisterEpisodeCache(context.Background(), client, "key", "ep1", "content", time.Hour))
	c.Invalidate("ep1")

	_, ok := c.CachedContext("ep1")
	assert.False(t, ok)
}
