package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	tests := []struct {
		name     string
		backoff  Backoff
		attempt  int
		expected time.Duration
	}{
		{"fijo", FixedBackoff(time.Second), 5, time.Second},
		{"exponencial primer intento", ExponentialBackoff(100*time.Millisecond, time.Second), 0, 100 * time.Millisecond},
		{"exponencial tercer intento", ExponentialBackoff(100*time.Millisecond, time.Second), 2, 400 * time.Millisecond},
		{"exponencial con tope", ExponentialBackoff(100*time.Millisecond, time.Second), 10, time.Second},
		{"intento negativo", ExponentialBackoff(100*time.Millisecond, time.Second), -3, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.backoff.Delay(tt.attempt))
		})
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := RetryWithBackoff(context.Background(), 5, FixedBackoff(time.Millisecond), func() error {
		calls++
		return permanent
	}, func(err error) bool { return errors.Is(err, permanent) })

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Second, func() error { return errors.New("boom") })
	assert.ErrorIs(t, err, context.Canceled)
}
