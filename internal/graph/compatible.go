package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

// SchemaMode selects which backing schema(s) CompatibleStore composes.
type SchemaMode string

const (
	SchemaModeFixed      SchemaMode = "fixed"
	SchemaModeSchemaless SchemaMode = "schemaless"
	SchemaModeMixed      SchemaMode = "mixed"
)

// CompatibleConfig tunes CompatibleStore's routing and migration
// behavior.
type CompatibleConfig struct {
	SchemaMode        SchemaMode
	MigrationMode     bool // dual-write mode
	PreferSchemaless  bool
	UseSchemalessQuery bool
	ValidateDualWrites bool
}

// CompatibleStore composes a FixedStore and/or SchemalessStore, routing
// each operation per SchemaMode/MigrationMode and, in migration mode,
// writing to both schemas per-statement rather than in one transaction:
// an inconsistency between the two is logged, not rolled back.
type CompatibleStore struct {
	Fixed      Store
	Schemaless Store
	Config     CompatibleConfig
	Logger     *slog.Logger

	routing *Routing // nil when the stores were injected directly (tests)
}

// NewCompatibleStore builds a CompatibleStore with the providers its
// config.SchemaMode requires.
func NewCompatibleStore(routing *Routing, cfg CompatibleConfig, logger *slog.Logger) *CompatibleStore {
	cs := &CompatibleStore{Config: cfg, Logger: logger, routing: routing}
	if cfg.SchemaMode == SchemaModeFixed || cfg.SchemaMode == SchemaModeMixed {
		cs.Fixed = NewFixedStore(routing)
	}
	if cfg.SchemaMode == SchemaModeSchemaless || cfg.SchemaMode == SchemaModeMixed {
		cs.Schemaless = NewSchemalessStore(routing)
	}
	return cs
}

func (c *CompatibleStore) writeProvider() Store {
	if c.Config.SchemaMode == SchemaModeMixed {
		if c.Config.PreferSchemaless {
			return c.Schemaless
		}
		return c.Fixed
	}
	return c.activeProvider()
}

func (c *CompatibleStore) activeProvider() Store {
	switch c.Config.SchemaMode {
	case SchemaModeSchemaless:
		return c.Schemaless
	case SchemaModeMixed:
		if c.Config.PreferSchemaless {
			return c.Schemaless
		}
		return c.Fixed
	default:
		return c.Fixed
	}
}

func (c *CompatibleStore) queryProvider() Store {
	if c.Config.UseSchemalessQuery && c.Schemaless != nil {
		return c.Schemaless
	}
	return c.activeProvider()
}

func (c *CompatibleStore) SetupSchema(ctx context.Context, podcastID string) error {
	if c.Fixed != nil {
		if err := c.Fixed.SetupSchema(ctx, podcastID); err != nil {
			return err
		}
	}
	if c.Schemaless != nil {
		if err := c.Schemaless.SetupSchema(ctx, podcastID); err != nil {
			return err
		}
	}
	return nil
}

func (c *CompatibleStore) CreateNode(ctx context.Context, podcastID, nodeType string, properties map[string]any) (string, error) {
	if !c.Config.MigrationMode {
		return c.writeProvider().CreateNode(ctx, podcastID, nodeType, properties)
	}

	var fixedID, schemalessID string
	var err error
	if c.Fixed != nil {
		fixedID, err = c.Fixed.CreateNode(ctx, podcastID, nodeType, properties)
		if err != nil {
			return "", err
		}
	}
	if c.Schemaless != nil {
		schemalessID, err = c.Schemaless.CreateNode(ctx, podcastID, nodeType, properties)
		if err != nil {
			return "", err
		}
		if c.Config.ValidateDualWrites && fixedID != "" && schemalessID != "" && fixedID != schemalessID {
			c.logf("dual write id mismatch: fixed=%s schemaless=%s type=%s", fixedID, schemalessID, nodeType)
		}
	}
	if fixedID != "" {
		return fixedID, nil
	}
	return schemalessID, nil
}

func (c *CompatibleStore) UpsertNode(ctx context.Context, podcastID, nodeType, naturalKey string, properties map[string]any) (string, error) {
	if !c.Config.MigrationMode {
		return c.writeProvider().UpsertNode(ctx, podcastID, nodeType, naturalKey, properties)
	}

	var fixedID, schemalessID string
	var err error
	if c.Fixed != nil {
		fixedID, err = c.Fixed.UpsertNode(ctx, podcastID, nodeType, naturalKey, properties)
		if err != nil {
			return "", err
		}
	}
	if c.Schemaless != nil {
		schemalessID, err = c.Schemaless.UpsertNode(ctx, podcastID, nodeType, naturalKey, properties)
		if err != nil {
			return "", err
		}
		if c.Config.ValidateDualWrites && fixedID != "" && schemalessID != "" && fixedID != schemalessID {
			c.logf("dual write id mismatch: fixed=%s schemaless=%s type=%s natural_key=%s", fixedID, schemalessID, nodeType, naturalKey)
		}
	}
	if fixedID != "" {
		return fixedID, nil
	}
	return schemalessID, nil
}

func (c *CompatibleStore) CreateRelationship(ctx context.Context, podcastID, sourceID, targetID, relType string, properties map[string]any) error {
	if !c.Config.MigrationMode {
		return c.writeProvider().CreateRelationship(ctx, podcastID, sourceID, targetID, relType, properties)
	}
	if c.Fixed != nil {
		if err := c.Fixed.CreateRelationship(ctx, podcastID, sourceID, targetID, relType, properties); err != nil {
			c.logf("dual write relationship failed on fixed store: %v", err)
		}
	}
	if c.Schemaless != nil {
		if err := c.Schemaless.CreateRelationship(ctx, podcastID, sourceID, targetID, relType, properties); err != nil {
			c.logf("dual write relationship failed on schemaless store: %v", err)
		}
	}
	return nil
}

func (c *CompatibleStore) UpdateNode(ctx context.Context, podcastID, nodeID string, properties map[string]any) error {
	if !c.Config.MigrationMode {
		return c.writeProvider().UpdateNode(ctx, podcastID, nodeID, properties)
	}
	if c.Fixed != nil {
		if err := c.Fixed.UpdateNode(ctx, podcastID, nodeID, properties); err != nil {
			c.logf("dual write update failed on fixed store: %v", err)
		}
	}
	if c.Schemaless != nil {
		if err := c.Schemaless.UpdateNode(ctx, podcastID, nodeID, properties); err != nil {
			c.logf("dual write update failed on schemaless store: %v", err)
		}
	}
	return nil
}

func (c *CompatibleStore) DeleteNode(ctx context.Context, podcastID, nodeID string) error {
	if !c.Config.MigrationMode {
		return c.writeProvider().DeleteNode(ctx, podcastID, nodeID)
	}
	if c.Fixed != nil {
		if err := c.Fixed.DeleteNode(ctx, podcastID, nodeID); err != nil {
			c.logf("dual delete failed on fixed store: %v", err)
		}
	}
	if c.Schemaless != nil {
		if err := c.Schemaless.DeleteNode(ctx, podcastID, nodeID); err != nil {
			c.logf("dual delete failed on schemaless store: %v", err)
		}
	}
	return nil
}

func (c *CompatibleStore) GetNode(ctx context.Context, podcastID, nodeID string) (Row, error) {
	node, err := c.queryProvider().GetNode(ctx, podcastID, nodeID)
	if err != nil || node == nil {
		return node, err
	}
	if c.Config.UseSchemalessQuery && c.Schemaless != nil {
		return StandardizeResults([]Row{node})[0], nil
	}
	return node, nil
}

func (c *CompatibleStore) Query(ctx context.Context, podcastID, statement string, parameters map[string]any) ([]Row, error) {
	if c.Config.UseSchemalessQuery && c.Schemaless != nil {
		stmt := statement
		if IsFixedSchemaQuery(stmt) {
			translated := TranslateFixedToSchemaless(stmt)
			c.logf("translated query: %s -> %s", stmt, translated)
			stmt = translated
		}
		rows, err := c.Schemaless.Query(ctx, podcastID, stmt, parameters)
		if err != nil {
			return nil, err
		}
		if NeedsStandardization(rows) {
			rows = StandardizeResults(rows)
		}
		return rows, nil
	}
	return c.queryProvider().Query(ctx, podcastID, statement, parameters)
}

func (c *CompatibleStore) StorePodcast(ctx context.Context, podcast episode.Podcast) error {
	if err := c.writeProvider().StorePodcast(ctx, podcast); err != nil {
		return err
	}
	if c.Config.MigrationMode {
		if other := c.otherProvider(); other != nil {
			if err := other.StorePodcast(ctx, podcast); err != nil {
				c.logf("dual write podcast failed on secondary store: %v", err)
			}
		}
	}
	return nil
}

func (c *CompatibleStore) StoreEpisode(ctx context.Context, podcastID string, ep episode.Episode) (string, error) {
	id, err := c.writeProvider().StoreEpisode(ctx, podcastID, ep)
	if err != nil {
		return "", err
	}
	if c.Config.MigrationMode {
		if other := c.otherProvider(); other != nil {
			if _, err := other.StoreEpisode(ctx, podcastID, ep); err != nil {
				c.logf("dual write episode failed on secondary store: %v", err)
			}
		}
	}
	return id, nil
}

func (c *CompatibleStore) StoreSegments(ctx context.Context, podcastID string, ep episode.Episode) ([]string, error) {
	ids, err := c.writeProvider().StoreSegments(ctx, podcastID, ep)
	if err != nil {
		return ids, err
	}
	if c.Config.MigrationMode {
		if other := c.otherProvider(); other != nil {
			if _, err := other.StoreSegments(ctx, podcastID, ep); err != nil {
				c.logf("dual write segments failed on secondary store: %v", err)
			}
		}
	}
	return ids, nil
}

// otherProvider returns the store writeProvider does not dispatch to, for
// migration-mode secondary writes.
func (c *CompatibleStore) otherProvider() Store {
	if c.writeProvider() == c.Fixed {
		return c.Schemaless
	}
	return c.Fixed
}

func (c *CompatibleStore) Close(ctx context.Context) error {
	if c.Fixed != nil {
		if err := c.Fixed.Close(ctx); err != nil {
			return err
		}
	}
	if c.Schemaless != nil {
		if err := c.Schemaless.Close(ctx); err != nil {
			return err
		}
	}
	if c.routing != nil {
		return c.routing.Close(ctx)
	}
	return nil
}

func (c *CompatibleStore) logf(format string, args ...any) {
	if c.Logger == nil {
		return
	}
	c.Logger.Warn(fmt.Sprintf(format, args...))
}
