package safety

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("bybit", CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute})
	cb.now = func() time.Time { return now }

	var transitions []CircuitBreakerState
	cb.SetStateChangeCallback(func(_ string, _, to CircuitBreakerState) {
		transitions = append(transitions, to)
	})

	fail := func(context.Context) error { return errBoom }
	ok := func(context.Context) error { return nil }
	ctx := context.Background()

	assert.ErrorIs(t, cb.Call(ctx, fail), errBoom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Call(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Call(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Call(ctx, ok))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []CircuitBreakerState{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreakerIgnoredErrors(t *testing.T) {
	cb := NewCircuitBreaker("bybit", CircuitBreakerConfig{FailureThreshold: 1})
	cb.IgnoreErrors(func(err error) bool { return errors.Is(err, errBoom) })

	for i := 0; i < 3; i++ {
		_ = cb.Call(context.Background(), func(context.Context) error { return errBoom })
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter("llm", 2, 5)
	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Wait(context.Background()), "burst request %d", i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx))

	stats := rl.GetStats()
	assert.Equal(t, "llm", stats.Name)
	assert.Equal(t, 2.0, stats.Limit)
	assert.Equal(t, 5, stats.Burst)
	assert.Less(t, stats.Tokens, 1.0)

	unlimited := NewRateLimiter("none", 0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, unlimited.Wait(context.Background()))
	}
	assert.Equal(t, RateLimiterStats{Name: "none", Burst: 1, Tokens: 1}, unlimited.GetStats())
}

func TestValidator(t *testing.T) {
	v := NewValidator()

	assert.True(t, v.ValidatePrice(101.5, "BTCUSDT").Valid)
	assert.Equal(t, "INVALID_PRICE_NAN", v.ValidatePrice(math.NaN(), "BTCUSDT").Code)
	assert.Error(t, v.ValidatePrice(0, "BTCUSDT").Err())
	assert.Equal(t, "INVALID_QUANTITY_NEGATIVE", v.ValidateQuantity(-1, "BTCUSDT").Code)

	assert.True(t, v.ValidateSymbol("BTCEUR").Valid)
	assert.False(t, v.ValidateSymbol("BTC-EUR").Valid)

	assert.True(t, v.ValidateAllocation(50, "BTCUSDT").Valid)
	assert.False(t, v.ValidateAllocation(0, "BTCUSDT").Valid)
	assert.False(t, v.ValidateAllocation(101, "BTCUSDT").Valid)

	got, err := v.SafeDivision(49.6, 100)
	require.NoError(t, err)
	assert.InDelta(t, 0.496, got, 1e-12)
	_, err = v.SafeDivision(1, 0)
	assert.Error(t, err)
}
