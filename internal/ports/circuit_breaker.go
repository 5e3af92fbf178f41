package ports

import (
	"time"
)

type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type CircuitBreakerMetrics struct {
	State              CircuitBreakerState `json:"state"`
	FailureCount       int64               `json:"failure_count"`
	SuccessCount       int64               `json:"success_count"`
	ConsecutiveFailure int64               `json:"consecutive_failure"`
	LastStateChange    time.Time           `json:"last_state_change"`
	RequestsRejected   int64               `json:"requests_rejected"`
}

// CircuitBreaker guards calls to a single module. Allow must be paired with
// exactly one Record call when it returns nil.
type CircuitBreaker interface {
	Allow() error
	Record(err error)
	State() CircuitBreakerState
	Metrics() CircuitBreakerMetrics
	Reset()
}
