// Package graph persists entities, relationships, episodes, and speakers
// to a podcast's dedicated Neo4j database, presenting one logical Store
// interface regardless of which schema mode backs it.
package graph

import (
	"context"
	"errors"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

// ErrNoPodcastContext is returned by any high-level operation invoked
// without an active podcast context when isolation is required.
var ErrNoPodcastContext = errors.New("graph: no podcast context set")

// Row is one result row from Query, keyed by the Cypher return alias.
type Row map[string]any

// Store is the unified contract every backing implementation satisfies.
// All methods take an explicit podcastID so the caller never depends on
// ambient state leaking between concurrently processed podcasts.
type Store interface {
	SetupSchema(ctx context.Context, podcastID string) error

	CreateNode(ctx context.Context, podcastID, nodeType string, properties map[string]any) (string, error)
	// UpsertNode merges on (podcastID, naturalKey, nodeType) instead of
	// always creating a fresh node, so storing the same extracted record
	// twice (a re-run, a crash-recovered episode) refreshes properties in
	// place rather than duplicating it.
	UpsertNode(ctx context.Context, podcastID, nodeType, naturalKey string, properties map[string]any) (string, error)
	CreateRelationship(ctx context.Context, podcastID, sourceID, targetID, relType string, properties map[string]any) error
	UpdateNode(ctx context.Context, podcastID, nodeID string, properties map[string]any) error
	DeleteNode(ctx context.Context, podcastID, nodeID string) error
	GetNode(ctx context.Context, podcastID, nodeID string) (Row, error)

	Query(ctx context.Context, podcastID, statement string, parameters map[string]any) ([]Row, error)

	StorePodcast(ctx context.Context, podcast episode.Podcast) error
	StoreEpisode(ctx context.Context, podcastID string, ep episode.Episode) (string, error)
	StoreSegments(ctx context.Context, podcastID string, ep episode.Episode) ([]string, error)

	Close(ctx context.Context) error
}

// entityNormalize is this package's upsert-key normalization, delegating
// to episode.NormalizeEntityName so the graph store's natural keys agree
// with the extractor's in-segment dedup keys (lowercased,
// accent-stripped, common corporate suffixes removed).
func entityNormalize(name string) string {
	return episode.NormalizeEntityName(name)
}
