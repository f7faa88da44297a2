package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
	"github.com/sblumenf/podcastknowledge-sub007/internal/graph"
)

// FleetAuditMirror is the subset of internal/storage/dynamograph.Store
// AuditLog needs, kept narrow so tests can fake it without pulling in the
// AWS SDK.
type FleetAuditMirror interface {
	PutAudit(ctx context.Context, podcastID string, rec episode.AuditRecord) error
}

// AuditLog appends speaker-remapping audit records to a durable
// append-only file and, when a graph store is reachable, mirrors each
// record as an audit node.
type AuditLog struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	Store graph.Store      // optional; nil disables graph mirroring
	Fleet FleetAuditMirror // optional; nil disables cross-host DynamoDB mirroring
}

// OpenAuditLog opens (creating if necessary) the append-only audit file
// at path.
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &AuditLog{path: path, file: f}, nil
}

// Record appends rec to the durable log and, if Store is set, mirrors it
// as an audit node under podcastID. A graph mirror failure is returned
// but the durable append has already succeeded by that point, so callers
// should log rather than treat it as fatal. rec.ID is assigned here if
// unset: several remappings in the same episode can share a Timestamp,
// so Timestamp alone isn't a safe uniqueness key downstream (DynamoDB
// mirroring, graph node identity).
func (a *AuditLog) Record(ctx context.Context, podcastID string, rec episode.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}

	a.mu.Lock()
	data, err := json.Marshal(rec)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	data = append(data, '\n')
	_, werr := a.file.Write(data)
	if werr == nil {
		werr = a.file.Sync()
	}
	a.mu.Unlock()
	if werr != nil {
		return werr
	}

	if a.Fleet != nil {
		if ferr := a.Fleet.PutAudit(ctx, podcastID, rec); ferr != nil {
			return ferr
		}
	}

	if a.Store == nil {
		return nil
	}
	_, err = a.Store.CreateNode(ctx, podcastID, "AuditRecord", map[string]any{
		"id":         rec.ID,
		"episode_id": rec.EpisodeID,
		"old_label":  rec.OldLabel,
		"new_label":  rec.NewLabel,
		"timestamp":  rec.Timestamp,
		"reason":     rec.Reason,
	})
	return err
}

// Close closes the underlying file handle. Closing an already closed log
// returns nil.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
