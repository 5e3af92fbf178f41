package retry

import (
	"context"
	"strings"
	"time"

	"github.com/eleven-am/orchestra/internal/domain"
)

// MaxDelay bounds every computed delay.
const MaxDelay = time.Hour

// maxShift caps the exponential multiplier.
const maxShift = 30

// IsRetryable reports whether err's message contains any of substrings,
// ignoring case. An empty list falls back to domain.DefaultRetryableErrors.
func IsRetryable(err error, substrings []string) bool {
	if err == nil {
		return false
	}
	if len(substrings) == 0 {
		substrings = domain.DefaultRetryableErrors
	}

	message := strings.ToLower(err.Error())
	for _, s := range substrings {
		if s != "" && strings.Contains(message, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// NextDelay computes the wait before retry number attempt (0-based),
// saturating at MaxDelay.
func NextDelay(attempt int, policy domain.RetryPolicy) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := policy.RetryDelay
	if base <= 0 {
		return 0
	}
	if base >= MaxDelay {
		return MaxDelay
	}

	var factor time.Duration
	switch policy.BackoffStrategy {
	case domain.BackoffLinear:
		factor = time.Duration(attempt + 1)
	case domain.BackoffExponential:
		if attempt > maxShift {
			attempt = maxShift
		}
		factor = time.Duration(int64(1) << uint(attempt))
	default:
		return base
	}

	if base > MaxDelay/factor {
		return MaxDelay
	}
	return base * factor
}

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
