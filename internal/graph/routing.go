package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Routing maps podcast IDs to the Neo4j database that stores their
// graph, sharing one driver (and its connection pool) across every
// database so switching context between podcasts never pays connection
// setup cost.
type Routing struct {
	driver neo4j.DriverWithContext

	mu        sync.RWMutex
	databases map[string]string // podcastID -> database name
}

// NewRouting wraps an already-connected driver.
func NewRouting(driver neo4j.DriverWithContext) *Routing {
	return &Routing{driver: driver, databases: make(map[string]string)}
}

// Register pins podcastID to databaseName. Safe to call repeatedly; the
// latest registration wins.
func (r *Routing) Register(podcastID, databaseName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.databases[podcastID] = databaseName
}

// DatabaseFor resolves podcastID to its database name.
func (r *Routing) DatabaseFor(podcastID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	db, ok := r.databases[podcastID]
	if !ok {
		return "", fmt.Errorf("%w: podcast %q has no registered database", ErrNoPodcastContext, podcastID)
	}
	return db, nil
}

// Session opens a session in accessMode scoped to podcastID's database.
func (r *Routing) Session(ctx context.Context, podcastID string, accessMode neo4j.AccessMode) (neo4j.SessionWithContext, error) {
	db, err := r.DatabaseFor(podcastID)
	if err != nil {
		return nil, err
	}
	return r.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: db,
		AccessMode:   accessMode,
	}), nil
}

// Close closes the shared driver.
func (r *Routing) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}
