package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEpisodeProcessedUpdatesGlobalAndPodcast(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "metrics.json"), time.Hour)
	r.RecordEpisodeProcessed("pod-1")
	r.RecordEpisodeProcessed("pod-1")
	r.RecordEpisodeProcessed("pod-2")

	assert.Equal(t, 3, r.Global().EpisodesProcessed)
	assert.Equal(t, 2, r.Podcast("pod-1").EpisodesProcessed)
	assert.Equal(t, 1, r.Podcast("pod-2").EpisodesProcessed)
	assert.Equal(t, 0, r.Podcast("pod-unknown").EpisodesProcessed)
}

func TestRecordLLMCallAggregatesLatencyAndFlags(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "metrics.json"), time.Hour)
	r.RecordLLMCall("pod-1", 100*time.Millisecond, false, false, false)
	r.RecordLLMCall("pod-1", 200*time.Millisecond, true, false, false)
	r.RecordLLMCall("pod-1", 50*time.Millisecond, false, true, true)

	g := r.Global()
	assert.Equal(t, 3, g.LLMCalls)
	assert.Equal(t, 1, g.LLMTimeouts)
	assert.Equal(t, 1, g.LLMErrors)
	assert.Equal(t, 1, g.CacheHits)
	assert.Equal(t, 3, g.CacheAttempts)
	assert.InDelta(t, 116.67, g.AverageResponseMillis(), 0.5)
}

func TestP95ResponseMillisSingleSample(t *testing.T) {
	c := &Counters{}
	c.responseTimes = []time.Duration{150 * time.Millisecond}
	assert.Equal(t, float64(150), c.P95ResponseMillis())
}

func TestFlushWritesReadableJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	r := NewRegistry(path, time.Hour)
	r.RecordEpisodeProcessed("pod-1")
	r.RecordSegments("pod-1", 42)

	require.NoError(t, r.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc fileFormat
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 1, doc.Global.EpisodesProcessed)
	assert.Equal(t, 42, doc.Podcasts["pod-1"].Segments)
}

func TestCloseIsIdempotentAndFlushesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	r := NewRegistry(path, time.Hour)
	r.RecordEpisodeProcessed("pod-1")
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err := os.Stat(path)
	assert.NoError(t, err)
}
