package domain

import (
	"log/slog"
	"time"
)

type Config struct {
	Logger *slog.Logger `json:"-" yaml:"-"`

	Coordinator    CoordinatorConfig    `json:"coordinator" yaml:"coordinator"`
	Scheduler      SchedulerConfig      `json:"scheduler" yaml:"scheduler"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `json:"rate_limit" yaml:"rate_limit"`
	History        HistoryConfig        `json:"history" yaml:"history"`
	Transport      TransportConfig      `json:"transport" yaml:"transport"`
}

type CoordinatorConfig struct {
	Retry              RetryPolicy   `json:"retry" yaml:"retry"`
	InvocationTimeout  time.Duration `json:"invocation_timeout" yaml:"invocation_timeout"`
	HealthCheckTimeout time.Duration `json:"health_check_timeout" yaml:"health_check_timeout"`
	FallbackScheme     string        `json:"fallback_scheme" yaml:"fallback_scheme"`
}

type SchedulerConfig struct {
	MaxConcurrentExecutions int           `json:"max_concurrent_executions" yaml:"max_concurrent_executions"`
	DefaultStageTimeout     time.Duration `json:"default_stage_timeout" yaml:"default_stage_timeout"`
	CancelGracePeriod       time.Duration `json:"cancel_grace_period" yaml:"cancel_grace_period"`
}

type CircuitBreakerConfig struct {
	Disabled            bool          `json:"disabled" yaml:"disabled"`
	FailureThreshold    int           `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold    int           `json:"success_threshold" yaml:"success_threshold"`
	OpenInterval        time.Duration `json:"open_interval" yaml:"open_interval"`
	HalfOpenMaxRequests int           `json:"half_open_max_requests" yaml:"half_open_max_requests"`
}

// RateLimitConfig throttles invocations per module. A zero rate disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// HistoryConfig bounds finished-execution history. An empty Dir keeps the
// store in memory.
type HistoryConfig struct {
	Disabled  bool          `json:"disabled" yaml:"disabled"`
	Dir       string        `json:"dir" yaml:"dir"`
	Retention time.Duration `json:"retention" yaml:"retention"`
}

type TransportConfig struct {
	ConnectTimeout   time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	MaxMessageSizeMB int           `json:"max_message_size_mb" yaml:"max_message_size_mb"`
	KeepAliveTime    time.Duration `json:"keep_alive_time" yaml:"keep_alive_time"`
}
