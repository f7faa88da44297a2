package resilience

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHoldTrackerAcquiredAndReleased(t *testing.T) {
	tr := NewHoldTracker()
	tr.Acquired("res-1")
	require.Contains(t, tr.started, "res-1")

	tr.Released("res-1")
	assert.NotContains(t, tr.started, "res-1")
}

func TestWatchDeadlocksLogsLongHolds(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	tr := NewHoldTracker()
	tr.Acquired("stuck-lock")

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	WatchDeadlocks(ctx, tr, logger, 10*time.Millisecond, 20*time.Millisecond)

	assert.Contains(t, buf.String(), "stuck-lock")
	assert.Contains(t, buf.String(), "resource held longer than threshold")
}

func TestWatchDeadlocksSkipsHeldResourcesUnderThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	tr := NewHoldTracker()
	tr.Acquired("fast-lock")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	WatchDeadlocks(ctx, tr, logger, 5*time.Millisecond, time.Hour)

	assert.Empty(t, buf.String())
}
