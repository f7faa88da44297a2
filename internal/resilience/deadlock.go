package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HoldTracker records when named resources were acquired so an observer
// can flag long holds. It never forcibly releases anything; it only
// logs.
type HoldTracker struct {
	mu      sync.Mutex
	started map[string]time.Time
}

// NewHoldTracker returns an empty tracker.
func NewHoldTracker() *HoldTracker {
	return &HoldTracker{started: make(map[string]time.Time)}
}

// Acquired records that resource was acquired now. Call Released on the
// same name once the holder is done.
func (t *HoldTracker) Acquired(resource string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started[resource] = time.Now()
}

// Released clears the hold record for resource.
func (t *HoldTracker) Released(resource string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.started, resource)
}

// WatchDeadlocks polls the tracker every interval and logs a warning for
// any resource held longer than threshold, until ctx is canceled.
func WatchDeadlocks(ctx context.Context, tracker *HoldTracker, logger *slog.Logger, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tracker.mu.Lock()
			now := time.Now()
			for resource, since := range tracker.started {
				if held := now.Sub(since); held > threshold {
					logger.Warn("resource held longer than threshold",
						"resource", resource, "held", held.String())
				}
			}
			tracker.mu.Unlock()
		}
	}
}
