package resilience

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// FileLock is an advisory OS lock on a dedicated lock file path, guarding
// checkpoint writes when the distributed flag is set. One FileLock exists
// per path within a process; Acquire/Release must be paired on every exit
// path.
type FileLock struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewFileLock returns a lock bound to path. The file is created on first
// Acquire, not here.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Acquire blocks (respecting ctx and an optional timeout) until the lock
// is obtained, or non-blocking mode reports it is already held.
func (l *FileLock) Acquire(ctx context.Context, blocking bool, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("resilience: open lock file %s: %w", l.path, err)
	}

	// Always LOCK_NB: blocking mode polls rather than parking in the
	// flock syscall, so the timeout and ctx cancellation stay observable.
	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			l.file = f
			return nil
		}
		if !blocking || (timeout > 0 && time.Now().After(deadline)) {
			f.Close()
			return fmt.Errorf("resilience: lock %s held by another process: %w", l.path, err)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Release unlocks and closes the underlying file descriptor. It is safe
// to call even if Acquire was never successfully called.
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("resilience: unlock %s: %w", l.path, err)
	}
	return closeErr
}
