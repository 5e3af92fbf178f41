package coordinator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/eleven-am/orchestra/internal/adapters/retry"
	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
)

// InvokeModuleService calls one service on one module. Lookup and parameter
// failures are returned as errors; failures of the call itself come back as
// a ServiceResult with status error and a nil error.
func (c *Coordinator) InvokeModuleService(ctx context.Context, moduleID, serviceID string, params map[string]interface{}) (*domain.ServiceResult, error) {
	if c.isClosed() {
		return nil, domain.ErrClosed
	}

	desc, ok := c.modules.Get(moduleID)
	if !ok {
		return nil, domain.NewModuleNotFoundError(moduleID)
	}
	svc, ok := desc.Service(serviceID)
	if !ok {
		return nil, domain.NewServiceNotFoundError(moduleID, serviceID)
	}
	if problems := svc.Input.Validate(params); len(problems) > 0 {
		return nil, domain.NewInvalidParametersError(serviceID, problems)
	}

	conn, err := c.connections.Acquire(moduleID)
	if err != nil {
		return nil, err
	}

	req := domain.ServiceRequest{
		RequestID:  uuid.New().String(),
		ModuleID:   moduleID,
		ServiceID:  serviceID,
		Parameters: params,
		Timestamp:  time.Now(),
	}

	callCtx, cancel := c.track(ctx, req)
	defer c.untrack(req.RequestID)

	start := time.Now()
	out, callErr := c.call(callCtx, conn, req)
	duration := time.Since(start)
	cancel()

	result := &domain.ServiceResult{
		RequestID: req.RequestID,
		ModuleID:  moduleID,
		ServiceID: serviceID,
		Duration:  duration,
	}

	if callErr != nil {
		result.Status = domain.ResultError
		result.Error = c.describeFailure(moduleID, callErr)
		c.logger.Debug("service call failed",
			append([]any{"request_id", req.RequestID, "module_id", moduleID, "service_id", serviceID, "duration", duration},
				errorLogAttrs(callErr)...)...)
		return result, nil
	}

	result.Status = domain.ResultSuccess
	result.Result = out
	c.logger.Debug("service call completed", "request_id", req.RequestID, "module_id", moduleID, "service_id", serviceID, "duration", duration)
	return result, nil
}

// call runs the rate limit, the breaker and the transport call in order. A
// panicking connection is reported as an error.
func (c *Coordinator) call(ctx context.Context, conn ports.ServiceConn, req domain.ServiceRequest) (out interface{}, err error) {
	if err := c.limiter.Wait(ctx, req.ModuleID); err != nil {
		return nil, err
	}

	breaker := c.breakers.ForModule(req.ModuleID)
	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			return nil, err
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("service %s/%s panicked: %v", req.ModuleID, req.ServiceID, r)
		}
		if breaker != nil {
			breaker.Record(err)
		}
	}()

	return conn.Call(ctx, req.ServiceID, req.Parameters)
}

func (c *Coordinator) describeFailure(moduleID string, err error) *domain.ServiceError {
	category := categorize(err)

	errorType := domain.ServiceErrorExecution
	if category == domain.ServiceErrorCircuitOpen {
		errorType = domain.ServiceErrorCircuitOpen
	}

	retryable := retry.IsRetryable(err, c.config.Retry.RetryableErrors)
	switch category {
	case domain.ServiceErrorTimeout, domain.ServiceErrorConnection, domain.ServiceErrorCircuitOpen:
		retryable = true
	}

	return &domain.ServiceError{
		ErrorCode: errorCode(category),
		ErrorType: errorType,
		Category:  category,
		Message:   err.Error(),
		Retryable: retryable,
		Source:    moduleID,
	}
}

func (c *Coordinator) track(ctx context.Context, req domain.ServiceRequest) (context.Context, context.CancelFunc) {
	var callCtx context.Context
	var cancel context.CancelFunc
	if c.config.InvocationTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.config.InvocationTimeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}

	c.pendingMu.Lock()
	c.pending[req.RequestID] = &pendingRequest{request: req, cancel: cancel}
	c.pendingMu.Unlock()
	return callCtx, cancel
}

func (c *Coordinator) untrack(requestID string) {
	c.pendingMu.Lock()
	p, ok := c.pending[requestID]
	delete(c.pending, requestID)
	c.pendingMu.Unlock()

	if ok {
		p.cancel()
	}
}

// PendingRequests lists in-flight requests, oldest first.
func (c *Coordinator) PendingRequests() []domain.ServiceRequest {
	c.pendingMu.Lock()
	out := make([]domain.ServiceRequest, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p.request)
	}
	c.pendingMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// CancelRequest cancels an in-flight request's context. The call still
// returns through InvokeModuleService, which removes the entry.
func (c *Coordinator) CancelRequest(requestID string) bool {
	c.pendingMu.Lock()
	p, ok := c.pending[requestID]
	c.pendingMu.Unlock()

	if !ok {
		return false
	}
	p.cancel()
	c.logger.Info("request cancelled", "request_id", requestID, "module_id", p.request.ModuleID)
	return true
}
