package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is a blocking token-bucket rate limiter. Rate is
// tokens/second, Burst is the bucket capacity. A Rate of 0 never
// refills, so Acquire blocks indefinitely unless the context is
// canceled; that case is handled separately from the
// golang.org/x/time/rate fast path below because that package treats a
// zero limit as "never satisfiable" and fails fast instead of blocking.
type TokenBucket struct {
	rateHz  float64
	limiter *rate.Limiter

	mu     sync.Mutex
	tokens float64 // only used in the rate==0 branch
}

// NewTokenBucket constructs a bucket starting full.
func NewTokenBucket(ratePerSec, burst float64) *TokenBucket {
	b := &TokenBucket{rateHz: ratePerSec}
	if ratePerSec > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(ratePerSec), int(burst))
	} else {
		b.tokens = burst
	}
	return b
}

// Acquire blocks until n tokens are available, or ctx is done, and returns
// the duration it waited.
func (b *TokenBucket) Acquire(ctx context.Context, n float64) (time.Duration, error) {
	start := time.Now()

	if b.limiter != nil {
		if err := b.limiter.WaitN(ctx, int(n)); err != nil {
			return time.Since(start), err
		}
		return time.Since(start), nil
	}

	// Rate == 0: tokens never refill. Serve from the initial burst, then
	// block until ctx is canceled.
	b.mu.Lock()
	if b.tokens >= n {
		b.tokens -= n
		b.mu.Unlock()
		return time.Since(start), nil
	}
	b.mu.Unlock()

	<-ctx.Done()
	return time.Since(start), ctx.Err()
}
