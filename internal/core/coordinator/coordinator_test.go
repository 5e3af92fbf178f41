package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/eleven-am/orchestra/internal/adapters/circuit_breaker"
	"github.com/eleven-am/orchestra/internal/adapters/health"
	"github.com/eleven-am/orchestra/internal/adapters/transport"
	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
)

func testConfig() domain.CoordinatorConfig {
	cfg := domain.DefaultCoordinatorConfig()
	cfg.Retry.RetryDelay = time.Millisecond
	return cfg
}

func newCoordinator(t *testing.T, probe ports.HealthProbe) (*Coordinator, *transport.LocalTransport) {
	t.Helper()
	lt := transport.NewLocalTransport(nil)
	c, err := New(testConfig(), Dependencies{Transport: lt, Probe: probe})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, lt
}

func module(id string, services ...string) domain.ModuleDescriptor {
	desc := domain.ModuleDescriptor{ModuleID: id, ModuleName: "module " + id}
	for _, s := range services {
		desc.Services = append(desc.Services, domain.ServiceDescriptor{ServiceID: s})
	}
	return desc
}

func echo(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return params, nil
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(testConfig(), Dependencies{})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrorKindInvalidConfig))
}

func TestRegisterModuleValidation(t *testing.T) {
	c, _ := newCoordinator(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		desc domain.ModuleDescriptor
	}{
		{"missing id", domain.ModuleDescriptor{ModuleName: "x", Services: []domain.ServiceDescriptor{{ServiceID: "s"}}}},
		{"missing name", domain.ModuleDescriptor{ModuleID: "x", Services: []domain.ServiceDescriptor{{ServiceID: "s"}}}},
		{"no services", domain.ModuleDescriptor{ModuleID: "x", ModuleName: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.RegisterModule(ctx, tt.desc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidModule))
		})
	}
	assert.Empty(t, c.DiscoverModules())
}

func TestRegisterModuleStampsAndConnects(t *testing.T) {
	c, _ := newCoordinator(t, nil)
	before := time.Now()

	require.NoError(t, c.RegisterModule(context.Background(), module("m1", "echo")))

	got, err := c.GetModule("m1")
	require.NoError(t, err)
	assert.Equal(t, domain.ModuleStatusActive, got.Status)
	assert.False(t, got.RegisteredAt.Before(before))
	assert.Equal(t, got.RegisteredAt, got.LastHeartbeat)
	assert.Equal(t, []string{"inproc://m1"}, got.Endpoints)

	conns := c.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, "inproc://m1", conns[0].Endpoint)
	assert.Equal(t, domain.ConnectionConnected, conns[0].Status)

	err = c.RegisterModule(context.Background(), module("m1", "echo"))
	assert.True(t, domain.IsKind(err, domain.ErrorKindInvalidModule))
}

func TestRegisterModuleHealthCheckFailure(t *testing.T) {
	c, _ := newCoordinator(t, health.Static(false, "disk full"))

	err := c.RegisterModule(context.Background(), module("m1", "echo"))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrorKindHealthCheckFailed))

	_, err = c.GetModule("m1")
	assert.True(t, domain.IsModuleNotFound(err))
	assert.Empty(t, c.Connections())
}

func TestRegisterModuleProbeError(t *testing.T) {
	probe := ports.HealthProbeFunc(func(ctx context.Context, m domain.ModuleDescriptor) (ports.HealthReport, error) {
		return ports.HealthReport{}, errors.New("probe unreachable")
	})
	c, _ := newCoordinator(t, probe)

	err := c.RegisterModule(context.Background(), module("m1", "echo"))
	assert.True(t, domain.IsKind(err, domain.ErrorKindHealthCheckFailed))
}

func TestDiscoverModulesOnlyActive(t *testing.T) {
	c, _ := newCoordinator(t, nil)
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, c.RegisterModule(ctx, module(id, "echo")))
	}
	require.NoError(t, c.DeactivateModule("b"))

	found := c.DiscoverModules()
	require.Len(t, found, 2)
	assert.Equal(t, "a", found[0].ModuleID)
	assert.Equal(t, "c", found[1].ModuleID)

	got, err := c.GetModule("b")
	require.NoError(t, err)
	assert.Equal(t, domain.ModuleStatusInactive, got.Status)
}

func TestInvokeEchoScenario(t *testing.T) {
	c, lt := newCoordinator(t, nil)
	lt.Handle("m1", "echo", echo)
	require.NoError(t, c.RegisterModule(context.Background(), module("m1", "echo")))

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		res, err := c.InvokeModuleService(context.Background(), "m1", "echo", map[string]interface{}{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, domain.ResultSuccess, res.Status)
		assert.GreaterOrEqual(t, int64(res.Duration), int64(0))
		assert.Equal(t, map[string]interface{}{"a": 1}, res.Result)
		assert.NotEmpty(t, res.RequestID)
		assert.False(t, seen[res.RequestID], "request ids must be unique")
		seen[res.RequestID] = true
	}
	assert.Empty(t, c.PendingRequests())
}

func TestInvokeLookupFailures(t *testing.T) {
	c, lt := newCoordinator(t, nil)
	lt.Handle("m1", "echo", echo)
	desc := module("m1", "echo")
	desc.Services = append(desc.Services, domain.ServiceDescriptor{
		ServiceID: "typed",
		Input: domain.InputShape{
			Required:   []string{"name"},
			Properties: map[string]domain.ParamKind{"name": domain.ParamString},
		},
	})
	require.NoError(t, c.RegisterModule(context.Background(), desc))
	ctx := context.Background()

	_, err := c.InvokeModuleService(ctx, "nope", "echo", map[string]interface{}{})
	assert.True(t, domain.IsModuleNotFound(err))

	_, err = c.InvokeModuleService(ctx, "m1", "nope", map[string]interface{}{})
	assert.True(t, domain.IsServiceNotFound(err))

	_, err = c.InvokeModuleService(ctx, "m1", "echo", nil)
	assert.True(t, domain.IsInvalidParameters(err))

	_, err = c.InvokeModuleService(ctx, "m1", "typed", map[string]interface{}{"name": 42})
	assert.True(t, domain.IsInvalidParameters(err))

	_, err = c.InvokeModuleService(ctx, "m1", "typed", map[string]interface{}{"name": "ok", "extra": true})
	assert.True(t, domain.IsInvalidParameters(err))

	require.NoError(t, c.DeactivateModule("m1"))
	_, err = c.InvokeModuleService(ctx, "m1", "echo", map[string]interface{}{})
	assert.True(t, domain.IsKind(err, domain.ErrorKindConnectionNotFound))
}

func TestInvokeCallFailureIsCaptured(t *testing.T) {
	c, lt := newCoordinator(t, nil)
	lt.Handle("m1", "flaky", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return nil, errors.New("Temporary outage")
	})
	lt.Handle("m1", "broken", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return nil, errors.New("boom")
	})
	lt.Handle("m1", "panics", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		panic("unexpected")
	})
	require.NoError(t, c.RegisterModule(context.Background(), module("m1", "flaky", "broken", "panics")))

	res, err := c.InvokeModuleService(context.Background(), "m1", "flaky", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultError, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, domain.ServiceErrorExecution, res.Error.ErrorType)
	assert.True(t, res.Error.Retryable)

	res, err = c.InvokeModuleService(context.Background(), "m1", "broken", map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, res.Error.Retryable)
	assert.Equal(t, "EXECUTION_FAILED", res.Error.ErrorCode)

	retErr := res.Err()
	require.Error(t, retErr)
	assert.True(t, domain.IsKind(retErr, domain.ErrorKindExecution))

	res, err = c.InvokeModuleService(context.Background(), "m1", "panics", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultError, res.Status)
	assert.Contains(t, res.Error.Message, "unexpected")

	assert.Empty(t, c.PendingRequests())
}

func TestInvokeTimeoutIsRetryable(t *testing.T) {
	lt := transport.NewLocalTransport(nil)
	cfg := testConfig()
	cfg.InvocationTimeout = 20 * time.Millisecond
	c, err := New(cfg, Dependencies{Transport: lt})
	require.NoError(t, err)
	defer c.Close()

	lt.Handle("m1", "slow", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, c.RegisterModule(context.Background(), module("m1", "slow")))

	res, err := c.InvokeModuleService(context.Background(), "m1", "slow", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, domain.ServiceErrorTimeout, res.Error.Category)
	assert.True(t, res.Error.Retryable)

	rec := c.HandleModuleError(res.Err())
	assert.Equal(t, domain.ActionRetry, rec.Action)
	assert.Equal(t, 2000*time.Millisecond, rec.RetryAfter)
}

func TestCancelRequest(t *testing.T) {
	c, lt := newCoordinator(t, nil)
	started := make(chan struct{})
	lt.Handle("m1", "block", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, c.RegisterModule(context.Background(), module("m1", "block")))

	done := make(chan *domain.ServiceResult, 1)
	go func() {
		res, _ := c.InvokeModuleService(context.Background(), "m1", "block", map[string]interface{}{})
		done <- res
	}()

	<-started
	pending := c.PendingRequests()
	require.Len(t, pending, 1)
	assert.True(t, c.CancelRequest(pending[0].RequestID))
	assert.False(t, c.CancelRequest("unknown"))

	select {
	case res := <-done:
		assert.Equal(t, domain.ResultError, res.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled request did not return")
	}
	assert.Empty(t, c.PendingRequests())
}

func TestCoordinateModulesPartialFailure(t *testing.T) {
	c, lt := newCoordinator(t, nil)
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, c.RegisterModule(context.Background(), module(id, "sync")))
		if id == "m2" {
			lt.Handle(id, "sync", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return nil, errors.New("m2 always fails")
			})
			continue
		}
		lt.Handle(id, "sync", echo)
	}

	result := c.CoordinateModules(context.Background(), []string{"m1", "m2", "m3"}, "sync")

	assert.NotEmpty(t, result.CoordinationID)
	assert.Equal(t, domain.CoordinationPartialSuccess, result.Status)
	require.Len(t, result.Results, 3)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "m2", result.Errors[0].ModuleID)
	assert.Equal(t, "module", result.Errors[0].Source)
	assert.Equal(t, "m1", result.Results[0].ModuleID)
	assert.Equal(t, "m3", result.Results[2].ModuleID)
	assert.GreaterOrEqual(t, int64(result.Duration), int64(0))

	err := result.Err()
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrorKindCoordinationFailure))
}

func TestCoordinateModulesAllOrNothing(t *testing.T) {
	c, lt := newCoordinator(t, nil)
	for _, id := range []string{"a", "b"} {
		require.NoError(t, c.RegisterModule(context.Background(), module(id, "ping")))
		lt.Handle(id, "ping", echo)
	}

	ok := c.CoordinateModules(context.Background(), []string{"a", "b"}, "ping")
	assert.Equal(t, domain.CoordinationSuccess, ok.Status)
	assert.Empty(t, ok.Errors)
	assert.NoError(t, ok.Err())

	failed := c.CoordinateModules(context.Background(), []string{"ghost", "phantom"}, "ping")
	assert.Equal(t, domain.CoordinationFailure, failed.Status)
	require.Len(t, failed.Errors, 2)
	assert.Equal(t, "coordinator", failed.Errors[0].Source)
	assert.NotEmpty(t, failed.CoordinationID)
}

func TestHandleModuleError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		handled bool
		action  domain.RecommendedAction
		after   time.Duration
	}{
		{"timeout", fmt.Errorf("call: %w", context.DeadlineExceeded), true, domain.ActionRetry, 2000 * time.Millisecond},
		{"timeout message", errors.New("upstream timeout"), true, domain.ActionRetry, 2000 * time.Millisecond},
		{"connection", domain.ErrConnection, true, domain.ActionRetry, 5000 * time.Millisecond},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true, domain.ActionRetry, 5000 * time.Millisecond},
		{"validation", domain.NewInvalidParametersError("s", []string{"bad"}), true, domain.ActionAbort, 0},
		{"authentication", status.Error(codes.Unauthenticated, "who are you"), true, domain.ActionAbort, 0},
		{"service error", &domain.ServiceError{ErrorType: domain.ServiceErrorAuthentication}, true, domain.ActionAbort, 0},
		{"other", errors.New("disk on fire"), false, domain.ActionSkip, 0},
		{"nil", nil, false, domain.ActionSkip, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := HandleModuleError(tt.err)
			assert.Equal(t, tt.handled, rec.Handled)
			assert.Equal(t, tt.action, rec.Action)
			assert.Equal(t, tt.after, rec.RetryAfter)
		})
	}
}

func TestRetryOperationSucceedsAfterFailures(t *testing.T) {
	c, lt := newCoordinator(t, nil)
	var calls int32
	lt.Handle("m1", "flaky", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return nil, errors.New("temporary failure")
		}
		return "done", nil
	})
	require.NoError(t, c.RegisterModule(context.Background(), module("m1", "flaky")))

	params := map[string]interface{}{"k": "v"}
	res, err := c.InvokeModuleService(context.Background(), "m1", "flaky", params)
	require.NoError(t, err)
	require.False(t, res.Succeeded())

	op := c.RecordFailure(res, params)
	require.NotNil(t, op)
	assert.Equal(t, 3, op.MaxRetries)
	assert.Len(t, c.FailedOperations(), 1)

	first := c.RetryOperation(context.Background(), op)
	assert.Equal(t, domain.RetryFailed, first.Status)
	assert.Equal(t, 1, first.TotalRetries)
	assert.Equal(t, 1, op.RetryCount)

	second := c.RetryOperation(context.Background(), op)
	assert.Equal(t, domain.RetrySucceeded, second.Status)
	assert.Equal(t, 2, second.TotalRetries)
	assert.Equal(t, "done", second.Result.Result)
	assert.Empty(t, c.FailedOperations())
}

func TestRetryOperationExhausts(t *testing.T) {
	c, lt := newCoordinator(t, nil)
	var calls int32
	lt.Handle("m1", "down", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("network unreachable")
	})
	require.NoError(t, c.RegisterModule(context.Background(), module("m1", "down")))

	res, _ := c.InvokeModuleService(context.Background(), "m1", "down", map[string]interface{}{})
	policy := domain.RetryPolicy{MaxRetries: 2, RetryDelay: time.Millisecond, BackoffStrategy: domain.BackoffFixed}
	op := c.RecordFailure(res, map[string]interface{}{}, WithRetryPolicy(policy))
	require.Equal(t, 2, op.MaxRetries)

	var outcome *domain.RetryOutcome
	for i := 0; i < 10; i++ {
		outcome = c.RetryOperation(context.Background(), op, WithRetryPolicy(policy))
		if outcome.Terminal() {
			break
		}
	}

	assert.Equal(t, domain.RetryMaxRetriesExceeded, outcome.Status)
	assert.Equal(t, 2, outcome.TotalRetries)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "one original call plus two retries")
	assert.Empty(t, c.FailedOperations())
}

func TestRetryOperationWaitHonoursContext(t *testing.T) {
	c, _ := newCoordinator(t, nil)
	op := &domain.FailedOperation{ModuleID: "m1", ServiceID: "s", MaxRetries: 3}
	slow := domain.RetryPolicy{MaxRetries: 3, RetryDelay: time.Hour, BackoffStrategy: domain.BackoffFixed}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := c.RetryOperation(ctx, op, WithRetryPolicy(slow))
	assert.Equal(t, domain.RetryFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Error, context.Canceled)
	assert.Equal(t, 0, op.RetryCount)
}

func TestRecordFailureIgnoresSuccess(t *testing.T) {
	c, _ := newCoordinator(t, nil)
	assert.Nil(t, c.RecordFailure(nil, nil))
	assert.Nil(t, c.RecordFailure(&domain.ServiceResult{Status: domain.ResultSuccess}, nil))
}

func TestCircuitBreakerRejectsAfterFailures(t *testing.T) {
	lt := transport.NewLocalTransport(nil)
	breakers := circuit_breaker.NewProvider(domain.CircuitBreakerConfig{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		OpenInterval:        time.Hour,
		HalfOpenMaxRequests: 1,
	}, nil)
	c, err := New(testConfig(), Dependencies{Transport: lt, Breakers: breakers})
	require.NoError(t, err)
	defer c.Close()

	var calls int32
	lt.Handle("m1", "bad", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("boom")
	})
	require.NoError(t, c.RegisterModule(context.Background(), module("m1", "bad")))

	for i := 0; i < 2; i++ {
		_, err := c.InvokeModuleService(context.Background(), "m1", "bad", map[string]interface{}{})
		require.NoError(t, err)
	}
	assert.Equal(t, ports.StateOpen, c.BreakerState("m1"))

	res, err := c.InvokeModuleService(context.Background(), "m1", "bad", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, domain.ServiceErrorCircuitOpen, res.Error.ErrorType)
	assert.True(t, res.Error.Retryable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHeartbeatAndClose(t *testing.T) {
	c, lt := newCoordinator(t, nil)
	lt.Handle("m1", "echo", echo)
	require.NoError(t, c.RegisterModule(context.Background(), module("m1", "echo")))

	before, _ := c.GetModule("m1")
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.Heartbeat("m1"))
	after, _ := c.GetModule("m1")
	assert.True(t, after.LastHeartbeat.After(before.LastHeartbeat))
	assert.True(t, domain.IsModuleNotFound(c.Heartbeat("ghost")))

	require.NoError(t, c.Close())
	_, err := c.InvokeModuleService(context.Background(), "m1", "echo", map[string]interface{}{})
	assert.ErrorIs(t, err, domain.ErrClosed)
	assert.ErrorIs(t, c.RegisterModule(context.Background(), module("m2", "echo")), domain.ErrClosed)
}
