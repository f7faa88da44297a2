package resilience

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	a := NewFileLock(path)
	require.NoError(t, a.Acquire(context.Background(), false, 0))

	b := NewFileLock(path)
	err := b.Acquire(context.Background(), false, 0)
	assert.Error(t, err, "a second non-blocking acquire on a held lock must fail")

	require.NoError(t, a.Release())
	require.NoError(t, b.Acquire(context.Background(), false, 0))
	require.NoError(t, b.Release())
}

func TestFileLockReleaseWithoutAcquireIsNoop(t *testing.T) {
	l := NewFileLock(filepath.Join(t.TempDir(), "lock"))
	assert.NoError(t, l.Release())
}

func TestFileLockBlockingWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	a := NewFileLock(path)
	require.NoError(t, a.Acquire(context.Background(), false, 0))

	b := NewFileLock(path)
	done := make(chan error, 1)
	go func() {
		done <- b.Acquire(context.Background(), true, time.Second)
	}()

	select {
	case <-done:
		t.Fatal("blocking acquire returned before the lock was released")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, a.Release())

	select {
	case err := <-done:
		require.NoError(t, err)
		require.NoError(t, b.Release())
	case <-time.After(time.Second):
		t.Fatal("blocking acquire never returned after release")
	}
}

func TestFileLockBlockingTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	a := NewFileLock(path)
	require.NoError(t, a.Acquire(context.Background(), false, 0))
	defer a.Release()

	b := NewFileLock(path)
	err := b.Acquire(context.Background(), true, 60*time.Millisecond)
	assert.Error(t, err)
}
