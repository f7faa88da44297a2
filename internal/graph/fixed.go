package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

// FixedLabels enumerates the pre-defined node labels used by the
// fixed-schema store.
var FixedLabels = []string{"Podcast", "Episode", "Segment", "Entity", "Relationship", "Quote", "Insight", "Speaker"}

// FixedStore implements Store with pre-defined node labels and
// relationship types.
type FixedStore struct {
	routing *Routing
}

// NewFixedStore returns a Store backed by the fixed schema.
func NewFixedStore(routing *Routing) *FixedStore {
	return &FixedStore{routing: routing}
}

func (s *FixedStore) SetupSchema(ctx context.Context, podcastID string) error {
	session, err := s.routing.Session(ctx, podcastID, neo4j.AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	statements := []string{
		"CREATE CONSTRAINT entity_key IF NOT EXISTS FOR (e:Entity) REQUIRE (e.podcast_id, e.episode_id, e.normalized_name, e.type) IS UNIQUE",
		"CREATE INDEX entity_name IF NOT EXISTS FOR (e:Entity) ON (e.name)",
		"CREATE CONSTRAINT episode_id IF NOT EXISTS FOR (e:Episode) REQUIRE e.id IS UNIQUE",
		"CREATE CONSTRAINT podcast_id IF NOT EXISTS FOR (p:Podcast) REQUIRE p.id IS UNIQUE",
	}
	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("graph: fixed setup schema: %w", err)
		}
	}
	return nil
}

func (s *FixedStore) CreateNode(ctx context.Context, podcastID, nodeType string, properties map[string]any) (string, error) {
	session, err := s.routing.Session(ctx, podcastID, neo4j.AccessModeWrite)
	if err != nil {
		return "", err
	}
	defer session.Close(ctx)

	id := uuid.NewString()
	props := cloneProps(properties)
	props["id"] = id
	props["podcast_id"] = podcastID

	cypher := fmt.Sprintf("CREATE (n:%s $props) RETURN n.id AS id", sanitizeLabel(nodeType))
	_, err = session.Run(ctx, cypher, map[string]any{"props": props})
	if err != nil {
		return "", fmt.Errorf("graph: fixed create node: %w", err)
	}
	return id, nil
}

func (s *FixedStore) UpsertNode(ctx context.Context, podcastID, nodeType, naturalKey string, properties map[string]any) (string, error) {
	return upsertEntity(ctx, s.routing, podcastID, nodeType, naturalKey, properties)
}

func (s *FixedStore) CreateRelationship(ctx context.Context, podcastID, sourceID, targetID, relType string, properties map[string]any) error {
	session, err := s.routing.Session(ctx, podcastID, neo4j.AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	cypher := fmt.Sprintf(
		"MATCH (a {id: $source}), (b {id: $target}) MERGE (a)-[r:%s]->(b) SET r += $props",
		sanitizeLabel(relType),
	)
	_, err = session.Run(ctx, cypher, map[string]any{
		"source": sourceID,
		"target": targetID,
		"props":  cloneProps(properties),
	})
	if err != nil {
		return fmt.Errorf("graph: fixed create relationship: %w", err)
	}
	return nil
}

func (s *FixedStore) UpdateNode(ctx context.Context, podcastID, nodeID string, properties map[string]any) error {
	session, err := s.routing.Session(ctx, podcastID, neo4j.AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	_, err = session.Run(ctx, "MATCH (n {id: $id}) SET n += $props, n.updated_at = timestamp()", map[string]any{
		"id":    nodeID,
		"props": cloneProps(properties),
	})
	if err != nil {
		return fmt.Errorf("graph: fixed update node: %w", err)
	}
	return nil
}

func (s *FixedStore) DeleteNode(ctx context.Context, podcastID, nodeID string) error {
	session, err := s.routing.Session(ctx, podcastID, neo4j.AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	_, err = session.Run(ctx, "MATCH (n {id: $id}) DETACH DELETE n", map[string]any{"id": nodeID})
	if err != nil {
		return fmt.Errorf("graph: fixed delete node: %w", err)
	}
	return nil
}

func (s *FixedStore) GetNode(ctx context.Context, podcastID, nodeID string) (Row, error) {
	rows, err := s.Query(ctx, podcastID, "MATCH (n {id: $id}) RETURN n", map[string]any{"id": nodeID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *FixedStore) Query(ctx context.Context, podcastID, statement string, parameters map[string]any) ([]Row, error) {
	session, err := s.routing.Session(ctx, podcastID, neo4j.AccessModeRead)
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)

	result, err := session.Run(ctx, statement, parameters)
	if err != nil {
		return nil, fmt.Errorf("graph: fixed query: %w", err)
	}
	return collectRows(ctx, result)
}

func (s *FixedStore) StorePodcast(ctx context.Context, podcast episode.Podcast) error {
	_, err := upsertEntity(ctx, s.routing, podcast.ID, "Podcast", podcast.ID, map[string]any{
		"name":     podcast.Name,
		"feed_url": podcast.FeedURL,
	})
	return err
}

func (s *FixedStore) StoreEpisode(ctx context.Context, podcastID string, ep episode.Episode) (string, error) {
	return upsertEntity(ctx, s.routing, podcastID, "Episode", ep.ID, map[string]any{
		"title":        ep.Title,
		"description":  ep.Description,
		"audio_url":    ep.AudioURL,
		"published_at": ep.PublishedAt.Unix(),
	})
}

func (s *FixedStore) StoreSegments(ctx context.Context, podcastID string, ep episode.Episode) ([]string, error) {
	ids := make([]string, 0, len(ep.Segments))
	for _, seg := range ep.Segments {
		id, err := upsertEntity(ctx, s.routing, podcastID, "Segment", fmt.Sprintf("%s\x00%d", ep.ID, seg.Index), map[string]any{
			"episode_id": ep.ID,
			"index":      seg.Index,
			"start":      seg.Start,
			"end":        seg.End,
			"speaker":    seg.Speaker,
			"text":       seg.Text,
		})
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *FixedStore) Close(ctx context.Context) error { return nil }

// upsertEntity implements the idempotent upsert keyed on the node's
// label plus (podcast_id, natural_key), shared by UpsertNode and the
// fixed store's higher-level helpers; callers compose natural_key.
func upsertEntity(ctx context.Context, routing *Routing, podcastID, nodeType, naturalKey string, properties map[string]any) (string, error) {
	session, err := routing.Session(ctx, podcastID, neo4j.AccessModeWrite)
	if err != nil {
		return "", err
	}
	defer session.Close(ctx)

	props := cloneProps(properties)
	props["podcast_id"] = podcastID
	props["natural_key"] = naturalKey

	cypher := fmt.Sprintf(
		`MERGE (n:%s {podcast_id: $podcast_id, natural_key: $natural_key})
		 ON CREATE SET n.id = randomUUID(), n.created_at = timestamp()
		 SET n += $props, n.updated_at = timestamp()
		 RETURN n.id AS id`,
		sanitizeLabel(nodeType),
	)
	result, err := session.Run(ctx, cypher, map[string]any{
		"podcast_id":  podcastID,
		"natural_key": naturalKey,
		"props":       props,
	})
	if err != nil {
		return "", fmt.Errorf("graph: upsert %s: %w", nodeType, err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return "", fmt.Errorf("graph: upsert %s result: %w", nodeType, err)
	}
	id, _ := record.Get("id")
	idStr, _ := id.(string)
	return idStr, nil
}

func collectRows(ctx context.Context, result neo4j.ResultWithContext) ([]Row, error) {
	var rows []Row
	for result.Next(ctx) {
		record := result.Record()
		row := make(Row, len(record.Keys))
		for _, key := range record.Keys {
			v, _ := record.Get(key)
			row[key] = v
		}
		rows = append(rows, row)
	}
	return rows, result.Err()
}

func cloneProps(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// sanitizeLabel strips characters that are not valid in an
// unescaped Cypher label/relationship-type token, since labels are
// interpolated directly (Neo4j has no parameter binding for labels).
func sanitizeLabel(label string) string {
	out := make([]rune, 0, len(label))
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "Unknown"
	}
	return string(out)
}
