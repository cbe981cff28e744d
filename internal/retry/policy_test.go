package retry_test

import (
	"testing"
	"time"

	"github.com/cortexflow/orchestra/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsNegativeMaxRetries(t *testing.T) {
	_, err := retry.New(true, -1, retry.StrategyFixed, time.Second, time.Second, 1)
	assert.ErrorIs(t, err, retry.ErrNegativeMaxRetries)
}

func TestNew_RejectsNegativeInitialDelay(t *testing.T) {
	_, err := retry.New(true, 3, retry.StrategyFixed, -time.Second, time.Second, 1)
	assert.ErrorIs(t, err, retry.ErrNegativeInitialDelay)
}

func TestNew_RejectsMaxDelayBelowInitial(t *testing.T) {
	_, err := retry.New(true, 3, retry.StrategyFixed, time.Minute, time.Second, 1)
	assert.ErrorIs(t, err, retry.ErrMaxDelayBelowInitial)
}

func TestNew_RejectsBackoffBaseBelowOne(t *testing.T) {
	_, err := retry.New(true, 3, retry.StrategyExponential, time.Second, time.Minute, 0.5)
	assert.ErrorIs(t, err, retry.ErrBackoffBaseTooSmall)
}

func TestNew_RejectsUnknownStrategy(t *testing.T) {
	_, err := retry.New(true, 3, retry.Strategy("bogus"), time.Second, time.Minute, 2)
	assert.ErrorIs(t, err, retry.ErrUnknownStrategy)
}

func TestNew_AcceptsValidPolicy(t *testing.T) {
	p, err := retry.New(true, 3, retry.StrategyExponential, time.Second, time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, p.Enabled())
	assert.Equal(t, 3, p.MaxRetries())
	assert.Equal(t, retry.StrategyExponential, p.Strategy())
	assert.Equal(t, time.Second, p.InitialDelay())
	assert.Equal(t, time.Minute, p.MaxDelay())
	assert.Equal(t, 2.0, p.BackoffBase())
}

func TestShouldRetry_RespectsEnabledAndBudget(t *testing.T) {
	p, err := retry.New(true, 2, retry.StrategyFixed, time.Second, time.Second, 1)
	require.NoError(t, err)
	assert.True(t, p.ShouldRetry(0))
	assert.True(t, p.ShouldRetry(1))
	assert.False(t, p.ShouldRetry(2), "budget of 2 is spent after attempts 0 and 1")

	disabled := retry.NoRetry()
	assert.False(t, disabled.ShouldRetry(0))
}

func TestCalculateDelay_None(t *testing.T) {
	p, err := retry.New(true, 3, retry.StrategyNone, time.Second, time.Minute, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), p.CalculateDelay(0))
	assert.Equal(t, time.Duration(0), p.CalculateDelay(1))
}

func TestCalculateDelay_Fixed(t *testing.T) {
	p, err := retry.New(true, 3, retry.StrategyFixed, 5*time.Second, time.Minute, 1)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, p.CalculateDelay(0))
	assert.Equal(t, 5*time.Second, p.CalculateDelay(2))
}

func TestCalculateDelay_Linear(t *testing.T) {
	p, err := retry.New(true, 5, retry.StrategyLinear, time.Second, 3*time.Second, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Second, p.CalculateDelay(0))
	assert.Equal(t, 2*time.Second, p.CalculateDelay(1))
	assert.Equal(t, 3*time.Second, p.CalculateDelay(2), "capped at MaxDelay")
	assert.Equal(t, 3*time.Second, p.CalculateDelay(3), "capped at MaxDelay")
}

func TestCalculateDelay_Exponential(t *testing.T) {
	p, err := retry.New(true, 5, retry.StrategyExponential, time.Second, 10*time.Second, 2)
	require.NoError(t, err)
	assert.Equal(t, time.Second, p.CalculateDelay(0))
	assert.Equal(t, 2*time.Second, p.CalculateDelay(1))
	assert.Equal(t, 4*time.Second, p.CalculateDelay(2))
	assert.Equal(t, 8*time.Second, p.CalculateDelay(3))
	assert.Equal(t, 10*time.Second, p.CalculateDelay(4), "capped at MaxDelay")
}

func TestCalculateDelay_ExhaustedBudgetReturnsZero(t *testing.T) {
	p, err := retry.New(true, 2, retry.StrategyExponential, time.Second, time.Minute, 2)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), p.CalculateDelay(2))
	assert.Equal(t, time.Duration(0), p.CalculateDelay(10))
}

func TestNoRetry(t *testing.T) {
	p := retry.NoRetry()
	assert.False(t, p.Enabled())
	assert.Equal(t, 0, p.MaxRetries())
	assert.False(t, p.ShouldRetry(0))
}

func TestDefault(t *testing.T) {
	p := retry.Default()
	assert.True(t, p.Enabled())
	assert.Equal(t, 3, p.MaxRetries())
	assert.Equal(t, retry.StrategyExponential, p.Strategy())
	assert.Equal(t, time.Second, p.InitialDelay())
	assert.Equal(t, 60*time.Second, p.MaxDelay())
}

func TestFixedDelay(t *testing.T) {
	p := retry.FixedDelay(4, 250*time.Millisecond)
	assert.True(t, p.Enabled())
	assert.Equal(t, 4, p.MaxRetries())
	assert.Equal(t, retry.StrategyFixed, p.Strategy())
	assert.Equal(t, 250*time.Millisecond, p.CalculateDelay(0))
	assert.Equal(t, 250*time.Millisecond, p.CalculateDelay(3))
}
