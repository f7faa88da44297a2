package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState is the breaker's current mode.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// ErrCircuitOpen is returned when Call rejects the wrapped function because
// the circuit is open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// CircuitBreaker trips after FailureThreshold consecutive failures and
// resets to half-open after RecoveryTimeout. A FailureThreshold of 0 means
// the breaker never opens.
type CircuitBreaker struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration

	mu              sync.Mutex
	state           CircuitState
	consecutiveFail int
	openedAt        time.Time
}

// NewCircuitBreaker constructs a closed breaker.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		FailureThreshold: failureThreshold,
		RecoveryTimeout:  recoveryTimeout,
		state:            CircuitClosed,
	}
}

// State returns the breaker's current state, transitioning open to
// half-open as a side effect if RecoveryTimeout has elapsed.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *CircuitBreaker) stateLocked() CircuitState {
	if b.state == CircuitOpen && time.Since(b.openedAt) >= b.RecoveryTimeout {
		b.state = CircuitHalfOpen
	}
	return b.state
}

// Call invokes fn unless the circuit is open, in which case it returns
// ErrCircuitOpen without invoking fn.
func (b *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	if b.stateLocked() == CircuitOpen {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailureLocked()
	} else {
		b.onSuccessLocked()
	}
	return err
}

func (b *CircuitBreaker) onSuccessLocked() {
	b.consecutiveFail = 0
	b.state = CircuitClosed
}

func (b *CircuitBreaker) onFailureLocked() {
	if b.FailureThreshold <= 0 {
		return
	}
	b.consecutiveFail++
	if b.state == CircuitHalfOpen {
		b.state = CircuitOpen
		b.openedAt = time.Now()
		return
	}
	if b.consecutiveFail >= b.FailureThreshold {
		b.state = CircuitOpen
		b.openedAt = time.Now()
	}
}
