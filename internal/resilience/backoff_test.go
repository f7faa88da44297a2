package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffConfigExponential(t *testing.T) {
	c := BackoffConfig{Strategy: StrategyExponential, BaseDelay: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, c.Delay(1))
	assert.Equal(t, 200*time.Millisecond, c.Delay(2))
	assert.Equal(t, 400*time.Millisecond, c.Delay(3))
}

func TestBackoffConfigLinear(t *testing.T) {
	c := BackoffConfig{Strategy: StrategyLinear, BaseDelay: 50 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, c.Delay(1))
	assert.Equal(t, 150*time.Millisecond, c.Delay(3))
}

func TestBackoffConfigConstant(t *testing.T) {
	c := BackoffConfig{Strategy: StrategyConstant, BaseDelay: 25 * time.Millisecond}
	assert.Equal(t, 25*time.Millisecond, c.Delay(1))
	assert.Equal(t, 25*time.Millisecond, c.Delay(5))
}

func TestBackoffConfigFibonacci(t *testing.T) {
	c := BackoffConfig{Strategy: StrategyFibonacci, BaseDelay: 10 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, c.Delay(1))
	assert.Equal(t, 10*time.Millisecond, c.Delay(2))
	assert.Equal(t, 20*time.Millisecond, c.Delay(3))
	assert.Equal(t, 30*time.Millisecond, c.Delay(4))
}

func TestBackoffConfigRespectsMaxDelay(t *testing.T) {
	c := BackoffConfig{Strategy: StrategyExponential, BaseDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond}
	assert.Equal(t, 250*time.Millisecond, c.Delay(5))
}

func TestBackoffConfigZeroAttemptTreatedAsFirst(t *testing.T) {
	c := BackoffConfig{Strategy: StrategyConstant, BaseDelay: 10 * time.Millisecond}
	assert.Equal(t, c.Delay(1), c.Delay(0))
}

func TestBackoffConfigJitterStaysInRange(t *testing.T) {
	c := BackoffConfig{Strategy: StrategyConstant, BaseDelay: 100 * time.Millisecond, Jitter: true}
	for i := 0; i < 50; i++ {
		d := c.Delay(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.Less(t, d, 150*time.Millisecond)
	}
}
