package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

func TestEntityNormalize(t *testing.T) {
	assert.Equal(t, "jane doe", entityNormalize("  Jane   Doe  "))
	assert.Equal(t, "acme", entityNormalize("Acme\tCorp"))
	assert.Equal(t, "cafe", entityNormalize("Café"))
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "Person", sanitizeLabel("Person"))
	assert.Equal(t, "CoOccurrence", sanitizeLabel("Co-Occurrence"))
	assert.Equal(t, "Unknown", sanitizeLabel("!!!"))
}

func TestIsFixedSchemaQuery(t *testing.T) {
	assert.True(t, IsFixedSchemaQuery("MATCH (n:Entity) RETURN n"))
	assert.False(t, IsFixedSchemaQuery("MATCH (n:Node) RETURN n"))
}

func TestTranslateFixedToSchemaless(t *testing.T) {
	out := TranslateFixedToSchemaless("MATCH (n:Entity)-[:RELATES_TO]->(m:Episode) RETURN n")
	assert.Contains(t, out, ":Node)")
	assert.NotContains(t, out, ":Entity")
	assert.NotContains(t, out, ":Episode")
}

func TestNeedsStandardization(t *testing.T) {
	assert.False(t, NeedsStandardization(nil))
	assert.True(t, NeedsStandardization([]Row{{"_type": "Person"}}))
	assert.True(t, NeedsStandardization([]Row{{"n": map[string]any{"_type": "Person"}}}))
	assert.False(t, NeedsStandardization([]Row{{"name": "Jane"}}))
}

func TestStandardizeResultsFlattensAndRenamesType(t *testing.T) {
	out := StandardizeResults([]Row{{"n": map[string]any{"_type": "Person", "name": "Jane"}}})
	require.Len(t, out, 1)
	assert.Equal(t, "Person", out[0]["type"])
	assert.Equal(t, "Jane", out[0]["name"])
	_, hasUnderscore := out[0]["_type"]
	assert.False(t, hasUnderscore)
}

// fakeStore is a minimal in-memory Store used to test CompatibleStore's
// routing and dual-write behavior without a live Neo4j driver.
type fakeStore struct {
	name     string
	nextID   string
	created  []string
	podcasts []string
	episodes []string
}

func (f *fakeStore) SetupSchema(ctx context.Context, podcastID string) error { return nil }

func (f *fakeStore) CreateNode(ctx context.Context, podcastID, nodeType string, properties map[string]any) (string, error) {
	f.created = append(f.created, nodeType)
	return f.name + "-" + f.nextID, nil
}

func (f *fakeStore) UpsertNode(ctx context.Context, podcastID, nodeType, naturalKey string, properties map[string]any) (string, error) {
	f.created = append(f.created, nodeType)
	return f.name + "-" + naturalKey, nil
}

func (f *fakeStore) CreateRelationship(ctx context.Context, podcastID, sourceID, targetID, relType string, properties map[string]any) error {
	return nil
}

func (f *fakeStore) UpdateNode(ctx context.Context, podcastID, nodeID string, properties map[string]any) error {
	return nil
}

func (f *fakeStore) DeleteNode(ctx context.Context, podcastID, nodeID string) error { return nil }

func (f *fakeStore) GetNode(ctx context.Context, podcastID, nodeID string) (Row, error) {
	return nil, nil
}

func (f *fakeStore) Query(ctx context.Context, podcastID, statement string, parameters map[string]any) ([]Row, error) {
	return nil, nil
}

func (f *fakeStore) StorePodcast(ctx context.Context, podcast episode.Podcast) error {
	f.podcasts = append(f.podcasts, podcast.ID)
	return nil
}

func (f *fakeStore) StoreEpisode(ctx context.Context, podcastID string, ep episode.Episode) (string, error) {
	f.episodes = append(f.episodes, ep.ID)
	return f.name + "-" + ep.ID, nil
}

func (f *fakeStore) StoreSegments(ctx context.Context, podcastID string, ep episode.Episode) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) Close(ctx context.Context) error { return nil }

func TestCompatibleStoreMigrationModeWritesBoth(t *testing.T) {
	fixed := &fakeStore{name: "fixed", nextID: "1"}
	schemaless := &fakeStore{name: "schemaless", nextID: "2"}
	cs := &CompatibleStore{
		Fixed:      fixed,
		Schemaless: schemaless,
		Config:     CompatibleConfig{SchemaMode: SchemaModeMixed, MigrationMode: true},
	}

	id, err := cs.CreateNode(context.Background(), "p1", "Person", map[string]any{"name": "Jane"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-1", id)
	assert.Equal(t, []string{"Person"}, fixed.created)
	assert.Equal(t, []string{"Person"}, schemaless.created)
}

func TestCompatibleStoreSingleModeWritesOnlyActive(t *testing.T) {
	fixed := &fakeStore{name: "fixed", nextID: "1"}
	cs := &CompatibleStore{
		Fixed:  fixed,
		Config: CompatibleConfig{SchemaMode: SchemaModeFixed},
	}
	_, err := cs.CreateNode(context.Background(), "p1", "Person", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Person"}, fixed.created)
}

func TestCompatibleStoreSchemalessOnlyHighLevelOps(t *testing.T) {
	schemaless := &fakeStore{name: "schemaless", nextID: "1"}
	cs := &CompatibleStore{
		Schemaless: schemaless,
		Config:     CompatibleConfig{SchemaMode: SchemaModeSchemaless},
	}

	require.NoError(t, cs.StorePodcast(context.Background(), episode.Podcast{ID: "p1"}))
	_, err := cs.StoreEpisode(context.Background(), "p1", episode.Episode{ID: "ep1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"p1"}, schemaless.podcasts)
	assert.Equal(t, []string{"ep1"}, schemaless.episodes)
}

func TestCompatibleStoreMigrationModeDualWritesHighLevelOps(t *testing.T) {
	fixed := &fakeStore{name: "fixed", nextID: "1"}
	schemaless := &fakeStore{name: "schemaless", nextID: "2"}
	cs := &CompatibleStore{
		Fixed:      fixed,
		Schemaless: schemaless,
		Config:     CompatibleConfig{SchemaMode: SchemaModeMixed, MigrationMode: true},
	}

	require.NoError(t, cs.StorePodcast(context.Background(), episode.Podcast{ID: "p1"}))
	id, err := cs.StoreEpisode(context.Background(), "p1", episode.Episode{ID: "ep1"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-ep1", id, "the primary store's ID is the one callers see")

	assert.Equal(t, []string{"p1"}, fixed.podcasts)
	assert.Equal(t, []string{"p1"}, schemaless.podcasts)
	assert.Equal(t, []string{"ep1"}, fixed.episodes)
	assert.Equal(t, []string{"ep1"}, schemaless.episodes)
}
