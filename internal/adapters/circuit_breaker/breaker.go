package circuit_breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
)

type moduleBreaker struct {
	moduleID string
	config   domain.CircuitBreakerConfig
	logger   *slog.Logger
	now      func() time.Time

	mu                 sync.Mutex
	state              ports.CircuitBreakerState
	failureCount       int64
	successCount       int64
	consecutiveFailure int64
	consecutiveSuccess int64
	requestsRejected   int64
	halfOpenInFlight   int
	lastStateChange    time.Time
	reopenAt           time.Time
}

func NewCircuitBreaker(moduleID string, config domain.CircuitBreakerConfig, logger *slog.Logger) ports.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := domain.DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	if config.OpenInterval <= 0 {
		config.OpenInterval = defaults.OpenInterval
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = defaults.HalfOpenMaxRequests
	}

	return &moduleBreaker{
		moduleID:        moduleID,
		config:          config,
		logger:          logger.With("component", "circuit-breaker", "module_id", moduleID),
		now:             time.Now,
		state:           ports.StateClosed,
		lastStateChange: time.Now(),
	}
}

func (cb *moduleBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == ports.StateOpen && !cb.now().Before(cb.reopenAt) {
		cb.setState(ports.StateHalfOpen)
	}

	switch cb.state {
	case ports.StateClosed:
		return nil
	case ports.StateHalfOpen:
		if cb.halfOpenInFlight < cb.config.HalfOpenMaxRequests {
			cb.halfOpenInFlight++
			return nil
		}
	}

	cb.requestsRejected++
	cb.logger.Debug("request rejected", "state", cb.state.String())
	return domain.ErrCircuitOpen
}

func (cb *moduleBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == ports.StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	if err == nil {
		cb.successCount++
		cb.consecutiveSuccess++
		cb.consecutiveFailure = 0
		if cb.state == ports.StateHalfOpen && cb.consecutiveSuccess >= int64(cb.config.SuccessThreshold) {
			cb.setState(ports.StateClosed)
		}
		return
	}

	cb.failureCount++
	cb.consecutiveFailure++
	cb.consecutiveSuccess = 0

	switch cb.state {
	case ports.StateClosed:
		if cb.consecutiveFailure >= int64(cb.config.FailureThreshold) {
			cb.setState(ports.StateOpen)
		}
	case ports.StateHalfOpen:
		cb.setState(ports.StateOpen)
	}
}

func (cb *moduleBreaker) setState(next ports.CircuitBreakerState) {
	prev := cb.state
	if prev == next {
		return
	}

	cb.logger.Info("circuit breaker state change",
		"from", prev.String(),
		"to", next.String(),
		"consecutive_failures", cb.consecutiveFailure)

	cb.state = next
	cb.lastStateChange = cb.now()

	switch next {
	case ports.StateOpen:
		cb.reopenAt = cb.now().Add(cb.config.OpenInterval)
		cb.halfOpenInFlight = 0
	case ports.StateHalfOpen:
		cb.halfOpenInFlight = 0
		cb.consecutiveSuccess = 0
	case ports.StateClosed:
		cb.reopenAt = time.Time{}
		cb.consecutiveFailure = 0
	}
}

func (cb *moduleBreaker) State() ports.CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *moduleBreaker) Metrics() ports.CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return ports.CircuitBreakerMetrics{
		State:              cb.state,
		FailureCount:       cb.failureCount,
		SuccessCount:       cb.successCount,
		ConsecutiveFailure: cb.consecutiveFailure,
		LastStateChange:    cb.lastStateChange,
		RequestsRejected:   cb.requestsRejected,
	}
}

func (cb *moduleBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.logger.Info("circuit breaker reset")
	cb.failureCount = 0
	cb.successCount = 0
	cb.consecutiveFailure = 0
	cb.consecutiveSuccess = 0
	cb.requestsRejected = 0
	cb.setState(ports.StateClosed)
}
