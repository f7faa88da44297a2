package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

// GenericLabel is the single node label every schemaless-store node
// carries; the discovered type lives in the `_type` property instead of
// the label itself.
const GenericLabel = "Node"

// SchemalessStore implements Store with a single generic node label and
// a `_type` property for the discovered entity/relationship type.
type SchemalessStore struct {
	routing *Routing
}

// NewSchemalessStore returns a Store backed by the schemaless schema.
func NewSchemalessStore(routing *Routing) *SchemalessStore {
	return &SchemalessStore{routing: routing}
}

func (s *SchemalessStore) SetupSchema(ctx context.Context, podcastID string) error {
	session, err := s.routing.Session(ctx, podcastID, neo4j.AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	statements := []string{
		fmt.Sprintf("CREATE INDEX node_type IF NOT EXISTS FOR (n:%s) ON (n._type)", GenericLabel),
		fmt.Sprintf("CREATE INDEX node_name IF NOT EXISTS FOR (n:%s) ON (n.name)", GenericLabel),
	}
	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("graph: schemaless setup schema: %w", err)
		}
	}
	return nil
}

func (s *SchemalessStore) CreateNode(ctx context.Context, podcastID, nodeType string, properties map[string]any) (string, error) {
	session, err := s.routing.Session(ctx, podcastID, neo4j.AccessModeWrite)
	if err != nil {
		return "", err
	}
	defer session.Close(ctx)

	id := uuid.NewString()
	props := cloneProps(properties)
	props["id"] = id
	props["podcast_id"] = podcastID
	props["_type"] = nodeType

	cypher := fmt.Sprintf("CREATE (n:%s $props) RETURN n.id AS id", GenericLabel)
	_, err = session.Run(ctx, cypher, map[string]any{"props": props})
	if err != nil {
		return "", fmt.Errorf("graph: schemaless create node: %w", err)
	}
	return id, nil
}

func (s *SchemalessStore) UpsertNode(ctx context.Context, podcastID, nodeType, naturalKey string, properties map[string]any) (string, error) {
	session, err := s.routing.Session(ctx, podcastID, neo4j.AccessModeWrite)
	if err != nil {
		return "", err
	}
	defer session.Close(ctx)

	props := cloneProps(properties)
	props["podcast_id"] = podcastID
	props["natural_key"] = naturalKey
	props["_type"] = nodeType

	cypher := fmt.Sprintf(
		`MERGE (n:%s {podcast_id: $podcast_id, natural_key: $natural_key, _type: $type})
		 ON CREATE SET n.id = randomUUID(), n.created_at = timestamp()
		 SET n += $props, n.updated_at = timestamp()
		 RETURN n.id AS id`,
		GenericLabel,
	)
	result, err := session.Run(ctx, cypher, map[string]any{
		"podcast_id":  podcastID,
		"natural_key": naturalKey,
		"type":        nodeType,
		"props":       props,
	})
	if err != nil {
		return "", fmt.Errorf("graph: schemaless upsert %s: %w", nodeType, err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return "", fmt.Errorf("graph: schemaless upsert %s result: %w", nodeType, err)
	}
	id, _ := record.Get("id")
	idStr, _ := id.(string)
	return idStr, nil
}

func (s *SchemalessStore) CreateRelationship(ctx context.Context, podcastID, sourceID, targetID, relType string, properties map[string]any) error {
	session, err := s.routing.Session(ctx, podcastID, neo4j.AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	// Relationship type is also free-form, so it is carried as a
	// RELATES_TO edge with a `_type` property rather than interpolated
	// into the Cypher relationship-type token.
	props := cloneProps(properties)
	props["_type"] = relType

	cypher := "MATCH (a {id: $source}), (b {id: $target}) MERGE (a)-[r:RELATES_TO {_type: $type}]->(b) SET r += $props"
	_, err = session.Run(ctx, cypher, map[string]any{
		"source": sourceID,
		"target": targetID,
		"type":   relType,
		"props":  props,
	})
	if err != nil {
		return fmt.Errorf("graph: schemaless create relationship: %w", err)
	}
	return nil
}

func (s *SchemalessStore) UpdateNode(ctx context.Context, podcastID, nodeID string, properties map[string]any) error {
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
		return fmt.Errorf("graph: schemaless update node: %w", err)
	}
	return nil
}

func (s *SchemalessStore) DeleteNode(ctx context.Context, podcastID, nodeID string) error {
	session, err := s.routing.Session(ctx, podcastID, neo4j.AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	_, err = session.Run(ctx, "MATCH (n {id: $id}) DETACH DELETE n", map[string]any{"id": nodeID})
	if err != nil {
		return fmt.Errorf("graph: schemaless delete node: %w", err)
	}
	return nil
}

func (s *SchemalessStore) GetNode(ctx context.Context, podcastID, nodeID string) (Row, error) {
	rows, err := s.Query(ctx, podcastID, "MATCH (n {id: $id}) RETURN n", map[string]any{"id": nodeID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *SchemalessStore) Query(ctx context.Context, podcastID, statement string, parameters map[string]any) ([]Row, error) {
	session, err := s.routing.Session(ctx, podcastID, neo4j.AccessModeRead)
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)

	result, err := session.Run(ctx, statement, parameters)
	if err != nil {
		return nil, fmt.Errorf("graph: schemaless query: %w", err)
	}
	return collectRows(ctx, result)
}

func (s *SchemalessStore) StorePodcast(ctx context.Context, podcast episode.Podcast) error {
	_, err := s.UpsertNode(ctx, podcast.ID, "Podcast", podcast.ID, map[string]any{
		"name":     podcast.Name,
		"feed_url": podcast.FeedURL,
	})
	return err
}

func (s *SchemalessStore) StoreEpisode(ctx context.Context, podcastID string, ep episode.Episode) (string, error) {
	return s.UpsertNode(ctx, podcastID, "Episode", ep.ID, map[string]any{
		"episode_id":   ep.ID,
		"title":        ep.Title,
		"description":  ep.Description,
		"audio_url":    ep.AudioURL,
		"published_at": ep.PublishedAt.Unix(),
	})
}

func (s *SchemalessStore) StoreSegments(ctx context.Context, podcastID string, ep episode.Episode) ([]string, error) {
	ids := make([]string, 0, len(ep.Segments))
	for _, seg := range ep.Segments {
		id, err := s.UpsertNode(ctx, podcastID, "Segment", fmt.Sprintf("%s\x00%d", ep.ID, seg.Index), map[string]any{
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

func (s *SchemalessStore) Close(ctx context.Context) error { return nil }
