package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestNextDelay_Exponential(t *testing.T) {
	policy := domain.RetryPolicy{RetryDelay: 1000 * time.Millisecond, BackoffStrategy: domain.BackoffExponential}

	want := []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond, 4000 * time.Millisecond, 8000 * time.Millisecond}
	for attempt, expected := range want {
		assert.Equal(t, expected, NextDelay(attempt, policy), "attempt %d", attempt)
	}
}

func TestNextDelay_LinearAndFixed(t *testing.T) {
	linear := domain.RetryPolicy{RetryDelay: 100 * time.Millisecond, BackoffStrategy: domain.BackoffLinear}
	fixed := domain.RetryPolicy{RetryDelay: 100 * time.Millisecond, BackoffStrategy: domain.BackoffFixed}

	assert.Equal(t, 100*time.Millisecond, NextDelay(0, linear))
	assert.Equal(t, 300*time.Millisecond, NextDelay(2, linear))
	assert.Equal(t, 100*time.Millisecond, NextDelay(0, fixed))
	assert.Equal(t, 100*time.Millisecond, NextDelay(7, fixed))
}

func TestNextDelay_ClampsLargeAttempts(t *testing.T) {
	policy := domain.RetryPolicy{RetryDelay: time.Millisecond, BackoffStrategy: domain.BackoffExponential}

	assert.Equal(t, NextDelay(30, policy), NextDelay(90, policy))
	assert.Greater(t, NextDelay(90, policy), time.Duration(0))
	assert.Equal(t, time.Millisecond, NextDelay(-1, policy))
}

func TestNextDelay_SaturatesInsteadOfOverflowing(t *testing.T) {
	exponential := domain.RetryPolicy{RetryDelay: 10 * time.Second, BackoffStrategy: domain.BackoffExponential}
	linear := domain.RetryPolicy{RetryDelay: 10 * time.Second, BackoffStrategy: domain.BackoffLinear}

	for _, attempt := range []int{9, 30, 31, 64} {
		assert.Equal(t, MaxDelay, NextDelay(attempt, exponential), "attempt %d", attempt)
	}
	assert.Equal(t, 80*time.Second, NextDelay(3, exponential))
	assert.Equal(t, MaxDelay, NextDelay(1<<40, linear))
	assert.Equal(t, MaxDelay, NextDelay(0, domain.RetryPolicy{RetryDelay: 2 * time.Hour}))

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, Wait(ctx, NextDelay(30, exponential)), context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "a saturated delay still waits")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		patterns []string
		want     bool
	}{
		{"nil error", nil, nil, false},
		{"default timeout", errors.New("request Timeout after 5s"), nil, true},
		{"default network", errors.New("NETWORK unreachable"), nil, true},
		{"default connection", errors.New("connection reset by peer"), nil, true},
		{"default temporary", errors.New("temporary failure in name resolution"), nil, true},
		{"not retryable", errors.New("invalid argument"), nil, false},
		{"custom pattern", errors.New("Rate Limited"), []string{"rate limited"}, true},
		{"custom pattern replaces defaults", errors.New("timeout"), []string{"busy"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err, tt.patterns))
		})
	}
}

func TestWait(t *testing.T) {
	start := time.Now()
	assert.NoError(t, Wait(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, Wait(ctx, 0), context.Canceled)
	assert.NoError(t, Wait(context.Background(), 0))
}
