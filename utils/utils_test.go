package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(8)
	require.NoError(t, err)
	assert.Len(t, code, 16, "8 bytes hex-encode to 16 chars")

	other, err := GenerateCode(8)
	require.NoError(t, err)
	assert.NotEqual(t, code, other)
}

func TestCircuitBreaker_TripsAfterFailureRatio(t *testing.T) {
	cb := NewCircuitBreaker("scan")
	boom := errors.New("boom")

	for i := 0; i < 10; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
	}

	err := cb.Execute(context.Background(), func(context.Context) error {
		t.Fatal("open breaker must not call through")
		return nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, BreakerOpen, cb.State())
}

func TestCircuitBreaker_WindowSeededAtConstruction(t *testing.T) {
	cb := NewCircuitBreaker("scan")
	assert.False(t, cb.expiry.IsZero(), "rolling window must start immediately")
}

func TestCircuitBreaker_FailuresOutsideWindowForgotten(t *testing.T) {
	cb := &CircuitBreaker{
		name:         "scan",
		maxRequests:  10,
		interval:     20 * time.Millisecond,
		timeout:      time.Hour,
		failureRatio: 0.6,
		state:        BreakerClosed,
		expiry:       time.Now().Add(20 * time.Millisecond),
	}
	boom := errors.New("boom")

	for i := 0; i < 9; i++ {
		require.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return boom }), boom)
	}

	// Let the window roll over; the accumulated failures no longer count.
	time.Sleep(30 * time.Millisecond)
	require.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return boom }), boom)
	assert.Equal(t, BreakerClosed, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
}

func TestCircuitBreaker_SuccessesKeepItClosed(t *testing.T) {
	cb := NewCircuitBreaker("scan")

	for i := 0; i < 50; i++ {
		require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
	}
	assert.Equal(t, BreakerClosed, cb.State())
}
