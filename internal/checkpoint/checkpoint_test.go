package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

type samplePayload struct {
	Segments []int `json:"segments"`
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	m, err := New(t.TempDir(), true, false)
	require.NoError(t, err)

	in := samplePayload{Segments: []int{1, 2, 3}}
	require.NoError(t, m.SaveEpisodeProgress(context.Background(), "ep1", episode.StageTranscribe, in, nil))

	var out samplePayload
	require.NoError(t, m.LoadEpisodeProgress("ep1", episode.StageTranscribe, nil, &out))
	assert.Equal(t, in, out)
}

func TestLoadMissingReturnsErrNotFound(t *testing.T) {
	m, err := New(t.TempDir(), false, false)
	require.NoError(t, err)

	var out samplePayload
	err = m.LoadEpisodeProgress("missing", episode.StageTranscribe, nil, &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveEpisodeProgressSegmentIndex(t *testing.T) {
	m, err := New(t.TempDir(), false, false)
	require.NoError(t, err)

	idx := 2
	require.NoError(t, m.SaveEpisodeProgress(context.Background(), "ep1", episode.StageExtractKnowledge, samplePayload{Segments: []int{9}}, &idx))

	var out samplePayload
	require.NoError(t, m.LoadEpisodeProgress("ep1", episode.StageExtractKnowledge, &idx, &out))
	assert.Equal(t, []int{9}, out.Segments)
}

func TestGetEpisodeCheckpointsListsStages(t *testing.T) {
	m, err := New(t.TempDir(), false, false)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.SaveEpisodeProgress(ctx, "ep1", episode.StageTranscribe, samplePayload{}, nil))
	require.NoError(t, m.SaveEpisodeProgress(ctx, "ep1", episode.StageIdentifySpeakers, samplePayload{}, nil))

	stages, err := m.GetEpisodeCheckpoints("ep1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []episode.Stage{episode.StageTranscribe, episode.StageIdentifySpeakers}, stages)
}

func TestGetEpisodeCheckpointsSegmentIndexedStageName(t *testing.T) {
	m, err := New(t.TempDir(), false, false)
	require.NoError(t, err)

	// extract_knowledge both contains underscores and takes segment-indexed
	// checkpoints; the stage name must survive both.
	idx := 7
	ctx := context.Background()
	require.NoError(t, m.SaveEpisodeProgress(ctx, "ep1", episode.StageExtractKnowledge, samplePayload{}, &idx))
	require.NoError(t, m.SaveEpisodeProgress(ctx, "ep1", episode.StageExtractKnowledge, samplePayload{}, nil))

	stages, err := m.GetEpisodeCheckpoints("ep1")
	require.NoError(t, err)
	assert.Equal(t, []episode.Stage{episode.StageExtractKnowledge}, stages)
}

func TestGetIncompleteEpisodesExcludesCompleted(t *testing.T) {
	m, err := New(t.TempDir(), false, false)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.SaveEpisodeProgress(ctx, "ep-done", episode.StageComplete, samplePayload{}, nil))
	require.NoError(t, m.SaveEpisodeProgress(ctx, "ep-partial", episode.StageTranscribe, samplePayload{}, nil))

	incomplete, err := m.GetIncompleteEpisodes()
	require.NoError(t, err)
	assert.Contains(t, incomplete, "ep-partial")
	assert.NotContains(t, incomplete, "ep-done")
}

func TestLoadCorruptedBlobQuarantined(t *testing.T) {
	root := t.TempDir()
	m, err := New(root, false, false)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.SaveEpisodeProgress(ctx, "ep1", episode.StageStore, samplePayload{Segments: []int{1}}, nil))

	blobPath := m.blobPath("ep1", episode.StageStore, nil)
	require.NoError(t, writeAtomic(blobPath, []byte("corrupted-not-json")))

	var out samplePayload
	err = m.LoadEpisodeProgress("ep1", episode.StageStore, nil, &out)
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := filepath.Glob(filepath.Join(root, "episodes", "corrupted_*"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExportImportRoundTrip(t *testing.T) {
	src, err := New(t.TempDir(), false, false)
	require.NoError(t, err)
	require.NoError(t, src.SaveEpisodeProgress(context.Background(), "ep1", episode.StageTranscribe, samplePayload{Segments: []int{4}}, nil))

	archivePath := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, src.ExportCheckpoints(archivePath, nil))

	dst, err := New(t.TempDir(), false, false)
	require.NoError(t, err)
	n, err := dst.ImportCheckpoints(archivePath)
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	var out samplePayload
	require.NoError(t, dst.LoadEpisodeProgress("ep1", episode.StageTranscribe, nil, &out))
	assert.Equal(t, []int{4}, out.Segments)
}

func TestCleanOldCheckpointsRemovesNoneWithinWindow(t *testing.T) {
	m, err := New(t.TempDir(), false, false)
	require.NoError(t, err)
	require.NoError(t, m.SaveEpisodeProgress(context.Background(), "ep1", episode.StageTranscribe, samplePayload{}, nil))

	removed, err := m.CleanOldCheckpoints(30)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
