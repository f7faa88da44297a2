package speaker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
	"github.com/sblumenf/podcastknowledge-sub007/internal/llm"
)

func TestIsGeneric(t *testing.T) {
	assert.True(t, IsGeneric("Speaker 0"))
	assert.True(t, IsGeneric("Guest"))
	assert.True(t, IsGeneric("Co-host (segment 2)"))
	assert.True(t, IsGeneric("Guest Expert (Psychiatrist)"))
	assert.True(t, IsGeneric("Guest Expert"))
	assert.True(t, IsGeneric("Guest/Contributor"))
	assert.True(t, IsGeneric("Co-host/Producer"))
	assert.False(t, IsGeneric("Jane Doe"))
	assert.False(t, IsGeneric("Dr. Sarah Chen"))
}

func TestFromDescriptionRoleMarker(t *testing.T) {
	m, ok := fromDescription("In this episode, Host: Jane Doe talks with our guest.", "Speaker 0")
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", m.IdentifiedName)
	assert.Equal(t, "episode_description", m.Source)
}

func TestFromSelfIntroduction(t *testing.T) {
	segs := []episode.Segment{
		{Speaker: "Speaker 1", Text: "Hi everyone, I'm Michael Chen and welcome back."},
	}
	m, ok := fromSelfIntroduction(segs, "Speaker 1")
	require.True(t, ok)
	assert.Contains(t, m.IdentifiedName, "Michael Chen")
}

func TestFromClosingCredits(t *testing.T) {
	segs := []episode.Segment{
		{Speaker: "Speaker 0", Text: "That's our show."},
		{Speaker: "Speaker 0", Text: "Thanks to our guest Sarah Johnson for joining us today."},
	}
	m, ok := fromClosingCredits(segs, "Speaker 0", 5)
	require.True(t, ok)
	assert.Contains(t, m.IdentifiedName, "Sarah Johnson")
}

func TestIdentifyFallsBackToPositionalRole(t *testing.T) {
	id := New(llm.NewMockClient(), NewPodcastCache())
	res, err := id.Identify(context.Background(), Input{
		Podcast:       episode.Podcast{ID: "p1", Name: "Test Pod"},
		Episode:       episode.Episode{Title: "Ep 1"},
		GenericLabels: []string{"Speaker 0"},
	})
	require.NoError(t, err)
	m := res.Mappings["Speaker 0"]
	assert.Equal(t, "Host/Narrator", m.IdentifiedName)
	assert.Equal(t, "fallback_role", m.Source)
}

func TestIdentifyUsesLLMWhenCheapStrategiesFail(t *testing.T) {
	mock := llm.NewMockClient(llm.CompletionResponse{Text: `{"Speaker 0": "Alex Rivera (Host)"}`})
	id := New(mock, NewPodcastCache())
	res, err := id.Identify(context.Background(), Input{
		Podcast: episode.Podcast{ID: "p1", Name: "Test Pod"},
		Episode: episode.Episode{
			Title: "Ep 1",
			Segments: []episode.Segment{
				{Speaker: "Speaker 0", Text: "Welcome to the show, we have a lot to cover today on this topic."},
			},
		},
		GenericLabels: []string{"Speaker 0"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Alex Rivera (Host)", res.Mappings["Speaker 0"].IdentifiedName)
	assert.Equal(t, "llm_identification", res.Mappings["Speaker 0"].Source)
}

func TestIsAcceptableNameRejectsUnknown(t *testing.T) {
	assert.False(t, isAcceptableName("UNKNOWN", "Speaker 0"))
	assert.False(t, isAcceptableName("", "Speaker 0"))
	assert.False(t, isAcceptableName("a", "Speaker 0"))
	assert.True(t, isAcceptableName("Jane Doe", "Speaker 0"))
}

func TestPodcastCacheSkipsFallbackAndNone(t *testing.T) {
	c := NewPodcastCache()
	c.Store("p1", "Speaker 0", Mapping{Source: "fallback_role", IdentifiedName: "Host"})
	_, ok := c.Lookup("p1", "Speaker 0")
	assert.False(t, ok)

	c.Store("p1", "Speaker 0", Mapping{Source: "self_introduction", IdentifiedName: "Jane Doe"})
	m, ok := c.Lookup("p1", "Speaker 0")
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", m.IdentifiedName)
}
