package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{Base: time.Second, Max: 60 * time.Second, MaxExponent: 6}

	expected := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60, 60}
	prev := time.Duration(0)
	for attempt, want := range expected {
		got := p.Delay(attempt)
		assert.Equal(t, want*time.Second, got, "attempt %d", attempt)
		assert.GreaterOrEqual(t, got, prev)
		assert.LessOrEqual(t, got, 60*time.Second)
		prev = got
	}
	assert.Equal(t, 60*time.Second, p.Delay(1000))
	assert.Equal(t, time.Second, p.Delay(-1))
}

func TestRetryPolicyExhausted(t *testing.T) {
	assert.False(t, RetryPolicy{}.Exhausted(1_000_000))
	assert.False(t, RetryPolicy{MaxAttempts: 3}.Exhausted(2))
	assert.True(t, RetryPolicy{MaxAttempts: 3}.Exhausted(3))
}

func TestRetry(t *testing.T) {
	p := RetryPolicy{Base: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 3}
	boom := errors.New("boom")

	calls := 0
	err := Retry(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return boom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(context.Background(), p, func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryPermanent(t *testing.T) {
	denied := errors.New("denied")
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Base: time.Hour, MaxAttempts: 5}, func(context.Context) error {
		calls++
		return fmt.Errorf("gateway: %w", Permanent(denied))
	})
	assert.ErrorIs(t, err, denied)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls)
	assert.NoError(t, Permanent(nil))
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, RetryPolicy{Base: time.Hour}, func(context.Context) error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFloorToLot(t *testing.T) {
	assert.Equal(t, 0.1234, FloorToLot(0.123456, 0.0001))
	assert.Equal(t, 2.99, FloorToLot(2.999, 0.01))
	assert.Equal(t, 3.0, FloorToLot(3, 0.01))
	assert.Equal(t, 0.0, FloorToLot(0.004, 0.01))
	assert.Equal(t, 0.0, FloorToLot(1, 0))
}

func TestCeilToLot(t *testing.T) {
	assert.Equal(t, 0.0827, CeilToLot(5000.0/60490, 0.0001))
	assert.Equal(t, 50.0, CeilToLot(50, 0.01))
	assert.Equal(t, 0.3, CeilToLot(0.1+0.2, 0.1))
	assert.Equal(t, 0.0, CeilToLot(1, 0))
}

func TestPnLExact(t *testing.T) {
	assert.Equal(t, -2.1, PnL(true, 100, 97.9, 1))
	assert.Equal(t, 2.1, PnL(false, 100, 97.9, 1))
	assert.Equal(t, 0.3, PnL(true, 0.1, 0.2, 3))
	assert.Equal(t, -0.021, PnLFraction(-2.1, 100, 1))
	assert.Equal(t, 0.0, PnLFraction(5, 0, 1))
	assert.Equal(t, 250.0, Notional(2.5, 100))
}
