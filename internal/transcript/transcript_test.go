package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

const sampleTranscript = `WEBVTT

NOTE
{"podcast_id":"pod1","episode_id":"ep1","episode_title":"Launch Day"}

00:00:00.000 --> 00:00:02.500
<v Speaker 0>Welcome to the show.

00:00:02.500 --> 00:00:05.000
<v Speaker 1>Thanks for having me &amp; my co-founder.

00:00:05.000 --> 00:00:06.000
<v Speaker 0>

`

func TestParseHappyPath(t *testing.T) {
	res, err := Parse(sampleTranscript)
	require.NoError(t, err)
	require.NotNil(t, res.Metadata)
	assert.Equal(t, "pod1", res.Metadata.PodcastID)
	assert.Equal(t, "ep1", res.Metadata.EpisodeID)
	assert.Equal(t, "Launch Day", res.Metadata.EpisodeTitle)

	// The empty-text third cue is dropped.
	require.Len(t, res.Segments, 2)
	assert.Equal(t, "Speaker 0", res.Segments[0].Speaker)
	assert.Equal(t, "Welcome to the show.", res.Segments[0].Text)
	assert.InDelta(t, 0.0, res.Segments[0].Start, 1e-9)
	assert.InDelta(t, 2.5, res.Segments[0].End, 1e-9)

	assert.Equal(t, "Speaker 1", res.Segments[1].Speaker)
	assert.Equal(t, "Thanks for having me & my co-founder.", res.Segments[1].Text)
}

func TestParseMissingHeaderFails(t *testing.T) {
	_, err := Parse("00:00:00.000 --> 00:00:01.000\nhello\n")
	assert.ErrorIs(t, err, ErrMalformedTranscript)
}

func TestParseMissingArrowFails(t *testing.T) {
	_, err := Parse("WEBVTT\n\nnot a timing line\nhello\n")
	assert.ErrorIs(t, err, ErrMalformedTranscript)
}

func TestParseEmitRoundTrip(t *testing.T) {
	res, err := Parse(sampleTranscript)
	require.NoError(t, err)

	out, err := Emit(res.Metadata, res.Segments)
	require.NoError(t, err)

	res2, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, res.Metadata, res2.Metadata)
	require.Len(t, res2.Segments, len(res.Segments))
	for i := range res.Segments {
		assert.Equal(t, res.Segments[i].Speaker, res2.Segments[i].Speaker)
		assert.Equal(t, res.Segments[i].Text, res2.Segments[i].Text)
		assert.InDelta(t, res.Segments[i].Start, res2.Segments[i].Start, 1e-6)
		assert.InDelta(t, res.Segments[i].End, res2.Segments[i].End, 1e-6)
	}
}

func TestEmitEscapesCueText(t *testing.T) {
	out, err := Emit(nil, []episode.Segment{
		{Start: 0, End: 1, Speaker: "Host", Text: "A & B <tag> > end"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "A &amp; B &lt;tag&gt; &gt; end")
}

func TestMergeShortSegmentsCoalescesSameSpeaker(t *testing.T) {
	segs := []episode.Segment{
		{Index: 0, Start: 0, End: 0.5, Speaker: "Host", Text: "Hi"},
		{Index: 1, Start: 0.5, End: 1.0, Speaker: "Host", Text: "there"},
		{Index: 2, Start: 1.0, End: 4.0, Speaker: "Guest", Text: "Hello back"},
	}
	merged := MergeShortSegments(segs, 2.0)
	require.Len(t, merged, 2)
	assert.Equal(t, "Hi there", merged[0].Text)
	assert.InDelta(t, 0.0, merged[0].Start, 1e-9)
	assert.InDelta(t, 1.0, merged[0].End, 1e-9)
	assert.Equal(t, 0, merged[0].Index)
	assert.Equal(t, 1, merged[1].Index)
}

func TestMergeShortSegmentsDropsEmptyText(t *testing.T) {
	segs := []episode.Segment{
		{Index: 0, Start: 0, End: 1, Speaker: "Host", Text: "Hi"},
		{Index: 1, Start: 1, End: 2, Speaker: "Host", Text: "   "},
	}
	merged := MergeShortSegments(segs, 2.0)
	require.Len(t, merged, 1)
	assert.Equal(t, "Hi", merged[0].Text)
}

func TestFormatTimestampRoundTrip(t *testing.T) {
	ts, err := parseTimestamp("01:02:03.456")
	require.NoError(t, err)
	assert.Equal(t, "01:02:03.456", formatTimestamp(ts))
}
