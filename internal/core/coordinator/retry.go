package coordinator

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/eleven-am/orchestra/internal/adapters/retry"
	"github.com/eleven-am/orchestra/internal/domain"
)

type retryOptions struct {
	policy domain.RetryPolicy
}

type RetryOption func(*retryOptions)

// WithRetryPolicy overrides the coordinator's policy for one call site.
func WithRetryPolicy(policy domain.RetryPolicy) RetryOption {
	return func(o *retryOptions) {
		o.policy = policy
	}
}

func (c *Coordinator) retryOptions(opts []RetryOption) retryOptions {
	o := retryOptions{policy: c.config.Retry}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RecordFailure starts tracking a failed call so it can be driven through
// RetryOperation. Successful or nil results are not tracked.
func (c *Coordinator) RecordFailure(result *domain.ServiceResult, params map[string]interface{}, opts ...RetryOption) *domain.FailedOperation {
	if result == nil || result.Succeeded() {
		return nil
	}
	o := c.retryOptions(opts)

	op := &domain.FailedOperation{
		OperationID: uuid.New().String(),
		ModuleID:    result.ModuleID,
		ServiceID:   result.ServiceID,
		Parameters:  params,
		MaxRetries:  o.policy.MaxRetries,
		LastAttempt: time.Now(),
	}

	c.failedMu.Lock()
	c.failed[op.OperationID] = op
	c.failedMu.Unlock()

	c.logger.Debug("failed operation recorded", "operation_id", op.OperationID, "module_id", op.ModuleID, "service_id", op.ServiceID)
	return op
}

// RetryOperation makes at most one attempt for op. Callers drive it until
// the outcome is terminal (success or max_retries_exceeded).
func (c *Coordinator) RetryOperation(ctx context.Context, op *domain.FailedOperation, opts ...RetryOption) *domain.RetryOutcome {
	o := c.retryOptions(opts)

	c.failedMu.Lock()
	if op.OperationID == "" {
		op.OperationID = uuid.New().String()
	}
	exhausted := op.Exhausted()
	retryCount := op.RetryCount
	if exhausted {
		delete(c.failed, op.OperationID)
	} else {
		c.failed[op.OperationID] = op
	}
	c.failedMu.Unlock()

	outcome := &domain.RetryOutcome{OperationID: op.OperationID, TotalRetries: retryCount}

	if exhausted {
		outcome.Status = domain.RetryMaxRetriesExceeded
		outcome.Error = domain.NewExecutionError("maximum retries exceeded", false, nil)
		c.logger.Warn("retries exhausted", "operation_id", op.OperationID, "module_id", op.ModuleID, "retry_count", retryCount)
		return outcome
	}

	delay := retry.NextDelay(retryCount, o.policy)
	c.logger.Debug("retrying operation", "operation_id", op.OperationID, "attempt", retryCount+1, "delay", delay)
	if err := retry.Wait(ctx, delay); err != nil {
		outcome.Status = domain.RetryFailed
		outcome.Error = err
		return outcome
	}

	res, err := c.safeInvoke(ctx, op)
	if err == nil && res.Succeeded() {
		c.failedMu.Lock()
		delete(c.failed, op.OperationID)
		c.failedMu.Unlock()

		outcome.Status = domain.RetrySucceeded
		outcome.Result = res
		outcome.TotalRetries = retryCount + 1
		c.logger.Info("retry succeeded", "operation_id", op.OperationID, "module_id", op.ModuleID, "total_retries", outcome.TotalRetries)
		return outcome
	}
	if err == nil {
		err = res.Err()
	}

	c.failedMu.Lock()
	op.RetryCount++
	op.LastAttempt = time.Now()
	outcome.TotalRetries = op.RetryCount
	c.failedMu.Unlock()

	outcome.Status = domain.RetryFailed
	outcome.Result = res
	outcome.Error = err
	c.logger.Debug("retry attempt failed", append([]any{"operation_id", op.OperationID, "retry_count", outcome.TotalRetries}, errorLogAttrs(err)...)...)
	return outcome
}

func (c *Coordinator) safeInvoke(ctx context.Context, op *domain.FailedOperation) (res *domain.ServiceResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			failure := domain.NewExecutionError("retry attempt panicked", false, nil)
			failure.Details = map[string]interface{}{"panic": r}
			res, err = nil, failure
		}
	}()
	return c.InvokeModuleService(ctx, op.ModuleID, op.ServiceID, op.Parameters)
}

// FailedOperations returns copies of the operations still awaiting a retry.
func (c *Coordinator) FailedOperations() []domain.FailedOperation {
	c.failedMu.Lock()
	out := make([]domain.FailedOperation, 0, len(c.failed))
	for _, op := range c.failed {
		out = append(out, *op)
	}
	c.failedMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastAttempt.Before(out[j].LastAttempt) })
	return out
}
