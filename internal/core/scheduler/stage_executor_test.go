package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/orchestra/internal/adapters/transport"
	"github.com/eleven-am/orchestra/internal/core/coordinator"
	"github.com/eleven-am/orchestra/internal/domain"
)

func newModuleBackedScheduler(t *testing.T) (*Scheduler, *transport.LocalTransport, *coordinator.Coordinator) {
	t.Helper()

	lt := transport.NewLocalTransport(nil)
	c, err := coordinator.New(domain.DefaultCoordinatorConfig(), coordinator.Dependencies{Transport: lt})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	fast := domain.RetryPolicy{MaxRetries: 3, RetryDelay: time.Millisecond, BackoffStrategy: domain.BackoffFixed}
	exec := NewCoordinatorStageExecutor(c, nil, coordinator.WithRetryPolicy(fast))
	s := newScheduler(t, 2, exec)
	return s, lt, c
}

func moduleStage(id, module, service string, params map[string]interface{}) domain.Stage {
	return domain.Stage{StageID: id, ModuleID: module, ServiceID: service, Parameters: params}
}

func TestCoordinatorStageExecutorMergesDefaults(t *testing.T) {
	s, lt, c := newModuleBackedScheduler(t)
	lt.Handle("text", "greet", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return params["greeting"].(string) + ", " + params["name"].(string), nil
	})
	require.NoError(t, c.RegisterModule(context.Background(), domain.ModuleDescriptor{
		ModuleID:   "text",
		ModuleName: "Text",
		Services:   []domain.ServiceDescriptor{{ServiceID: "greet"}},
	}))

	def := domain.WorkflowDefinition{
		WorkflowID: "greetings",
		Name:       "greetings",
		Defaults:   map[string]interface{}{"greeting": "hello", "name": "nobody"},
		Stages: []domain.Stage{
			moduleStage("default", "text", "greet", nil),
			moduleStage("override", "text", "greet", map[string]interface{}{"name": "ada"}),
		},
	}

	result, err := s.ExecuteWorkflow(context.Background(), mustPlan(t, def))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, result.Status.Status)
	assert.Equal(t, "hello, nobody", result.Outputs["default"])
	assert.Equal(t, "hello, ada", result.Outputs["override"])
}

func TestCoordinatorStageExecutorRetriesRetryableFailures(t *testing.T) {
	s, lt, c := newModuleBackedScheduler(t)
	var calls atomic.Int32
	lt.Handle("flaky", "run", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("temporary glitch")
		}
		return "ok", nil
	})
	lt.Handle("flaky", "broken", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return nil, errors.New("bad input")
	})
	require.NoError(t, c.RegisterModule(context.Background(), domain.ModuleDescriptor{
		ModuleID:   "flaky",
		ModuleName: "Flaky",
		Services:   []domain.ServiceDescriptor{{ServiceID: "run"}, {ServiceID: "broken"}},
	}))

	def := domain.WorkflowDefinition{
		WorkflowID: "retries",
		Name:       "retries",
		Stages: []domain.Stage{
			moduleStage("run", "flaky", "run", nil),
			moduleStage("broken", "flaky", "broken", nil),
			moduleStage("unaddressed", "", "", nil),
		},
	}

	result, err := s.ExecuteWorkflow(context.Background(), mustPlan(t, def))
	require.NoError(t, err)

	status := result.Status
	assert.Equal(t, domain.ExecutionFailed, status.Status)
	assert.Equal(t, []string{"run"}, status.CompletedStages)
	assert.ElementsMatch(t, []string{"broken", "unaddressed"}, status.FailedStages)
	assert.Equal(t, "ok", result.Outputs["run"])
	assert.Equal(t, int32(3), calls.Load())
	assert.Empty(t, c.FailedOperations())
}

func TestCoordinatorStageExecutorGivesUp(t *testing.T) {
	s, lt, c := newModuleBackedScheduler(t)
	var calls atomic.Int32
	lt.Handle("down", "run", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	})
	require.NoError(t, c.RegisterModule(context.Background(), domain.ModuleDescriptor{
		ModuleID:   "down",
		ModuleName: "Down",
		Services:   []domain.ServiceDescriptor{{ServiceID: "run"}},
	}))

	result, err := s.ExecuteWorkflow(context.Background(), mustPlan(t, domain.WorkflowDefinition{
		WorkflowID: "down",
		Name:       "down",
		Stages:     []domain.Stage{moduleStage("run", "down", "run", nil)},
	}))
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionFailed, result.Status.Status)
	require.Len(t, result.Status.Errors, 1)
	assert.Contains(t, result.Status.Errors[0].Message, "gave up after 3 retries")
	assert.Equal(t, int32(4), calls.Load())
}
