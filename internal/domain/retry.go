package domain

import (
	"time"
)

type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// DefaultRetryableErrors are matched case-insensitively against error messages.
var DefaultRetryableErrors = []string{"timeout", "network", "temporary", "connection"}

type RetryPolicy struct {
	MaxRetries      int             `json:"max_retries" yaml:"max_retries"`
	RetryDelay      time.Duration   `json:"retry_delay" yaml:"retry_delay"`
	BackoffStrategy BackoffStrategy `json:"backoff_strategy" yaml:"backoff_strategy"`
	RetryableErrors []string        `json:"retryable_errors" yaml:"retryable_errors"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		RetryDelay:      time.Second,
		BackoffStrategy: BackoffExponential,
		RetryableErrors: append([]string(nil), DefaultRetryableErrors...),
	}
}

func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return NewInvalidConfigError("max_retries", "must not be negative")
	}
	if p.RetryDelay < 0 {
		return NewInvalidConfigError("retry_delay", "must not be negative")
	}
	switch p.BackoffStrategy {
	case BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		return NewInvalidConfigError("backoff_strategy", "unknown strategy "+string(p.BackoffStrategy))
	}
	return nil
}

type FailedOperation struct {
	OperationID string                 `json:"operation_id"`
	ModuleID    string                 `json:"module_id"`
	ServiceID   string                 `json:"service_id"`
	Parameters  map[string]interface{} `json:"parameters"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
	LastAttempt time.Time              `json:"last_attempt"`
}

func (op *FailedOperation) Exhausted() bool {
	return op.RetryCount >= op.MaxRetries
}

type RetryStatus string

const (
	RetryPending            RetryStatus = "pending"
	RetryRetrying           RetryStatus = "retrying"
	RetrySucceeded          RetryStatus = "success"
	RetryFailed             RetryStatus = "failed"
	RetryMaxRetriesExceeded RetryStatus = "max_retries_exceeded"
)

type RetryOutcome struct {
	OperationID  string         `json:"operation_id"`
	Status       RetryStatus    `json:"status"`
	Result       *ServiceResult `json:"result,omitempty"`
	Error        error          `json:"-"`
	TotalRetries int            `json:"total_retries"`
}

func (o *RetryOutcome) Terminal() bool {
	return o.Status == RetrySucceeded || o.Status == RetryMaxRetriesExceeded
}
