package domain

import (
	"time"
)

func DefaultConfig() *Config {
	return &Config{
		Coordinator:    DefaultCoordinatorConfig(),
		Scheduler:      DefaultSchedulerConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		History:        DefaultHistoryConfig(),
		Transport:      DefaultTransportConfig(),
	}
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Retry:              DefaultRetryPolicy(),
		InvocationTimeout:  30 * time.Second,
		HealthCheckTimeout: 5 * time.Second,
		FallbackScheme:     SchemeInProcess,
	}
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentExecutions: 10,
		DefaultStageTimeout:     DefaultStageTimeout,
		CancelGracePeriod:       5 * time.Second,
	}
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenInterval:        10 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Retention: time.Hour,
	}
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ConnectTimeout:   5 * time.Second,
		MaxMessageSizeMB: 4,
		KeepAliveTime:    30 * time.Second,
	}
}

func (c *Config) Validate() error {
	if err := c.Coordinator.Retry.Validate(); err != nil {
		return err
	}
	if c.Scheduler.MaxConcurrentExecutions <= 0 {
		return NewInvalidConfigError("scheduler.max_concurrent_executions", "must be positive")
	}
	if c.Scheduler.CancelGracePeriod < 0 {
		return NewInvalidConfigError("scheduler.cancel_grace_period", "must not be negative")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return NewInvalidConfigError("rate_limit.requests_per_second", "must not be negative")
	}
	if c.History.Retention < 0 {
		return NewInvalidConfigError("history.retention", "must not be negative")
	}
	return nil
}
