package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketAcquireWithinBurst(t *testing.T) {
	b := NewTokenBucket(10, 5)
	ctx := context.Background()
	_, err := b.Acquire(ctx, 5)
	assert.NoError(t, err)
}

func TestTokenBucketZeroRateBlocksUntilCanceled(t *testing.T) {
	b := NewTokenBucket(0, 1)
	ctx := context.Background()

	// First acquire is served from the initial burst.
	_, err := b.Acquire(ctx, 1)
	assert.NoError(t, err)

	// Second acquire has no tokens left and rate is zero: it must block
	// until the context is canceled.
	ctx2, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = b.Acquire(ctx2, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
