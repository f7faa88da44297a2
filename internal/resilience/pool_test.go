package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolSeedsMinSizeEagerly(t *testing.T) {
	var created int32
	newFn := func(context.Context) (int, error) {
		return int(atomic.AddInt32(&created, 1)), nil
	}
	p, err := NewPool[int](context.Background(), 2, 4, newFn, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&created))

	_, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&created), "a seeded item should be handed out before lazily creating a new one")
}

func TestPoolCreatesLazilyUpToMaxSize(t *testing.T) {
	var created int32
	newFn := func(context.Context) (int, error) {
		return int(atomic.AddInt32(&created, 1)), nil
	}
	p, err := NewPool[int](context.Background(), 0, 2, newFn, nil)
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	require.NoError(t, err)
	_, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&created))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolTimeout)
}

func TestPoolReleaseMakesItemReusable(t *testing.T) {
	newFn := func(context.Context) (int, error) { return 1, nil }
	p, err := NewPool[int](context.Background(), 0, 1, newFn, nil)
	require.NoError(t, err)

	item, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(item)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.NoError(t, err)
}

func TestPoolCreateErrorReturnsSlotForRetry(t *testing.T) {
	var calls int32
	newFn := func(context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}
	p, err := NewPool[int](context.Background(), 0, 1, newFn, nil)
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	require.Error(t, err)

	item, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, item)
}

func TestPoolCloseDisposesCheckedInItems(t *testing.T) {
	var closed int32
	newFn := func(context.Context) (int, error) { return 1, nil }
	closeFn := func(int) error {
		atomic.AddInt32(&closed, 1)
		return nil
	}
	p, err := NewPool[int](context.Background(), 2, 2, newFn, closeFn)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.EqualValues(t, 2, atomic.LoadInt32(&closed))
}
