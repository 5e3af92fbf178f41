package ports

import (
	"context"

	"github.com/eleven-am/orchestra/internal/domain"
)

// StageExecutor performs the work of one stage. Implementations must honour
// ctx cancellation; the scheduler relies on it for cancel and timeouts.
type StageExecutor interface {
	ExecuteStage(ctx context.Context, inv domain.StageInvocation) (interface{}, error)
}

type StageExecutorFunc func(ctx context.Context, inv domain.StageInvocation) (interface{}, error)

func (f StageExecutorFunc) ExecuteStage(ctx context.Context, inv domain.StageInvocation) (interface{}, error) {
	return f(ctx, inv)
}

// ExecutionHistory keeps finished executions for a bounded window.
type ExecutionHistory interface {
	Record(ctx context.Context, status *domain.ExecutionStatus) error
	Get(ctx context.Context, executionID string) (*domain.ExecutionStatus, error)
	List(ctx context.Context) ([]*domain.ExecutionStatus, error)
	Close() error
}
