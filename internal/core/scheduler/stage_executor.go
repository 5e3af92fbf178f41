package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eleven-am/orchestra/internal/core/coordinator"
	"github.com/eleven-am/orchestra/internal/domain"
)

// CoordinatorStageExecutor runs each stage as a module service call. Stage
// parameters are laid over the workflow defaults, and retryable failures are
// driven through the coordinator's retry state machine until it settles.
type CoordinatorStageExecutor struct {
	coordinator *coordinator.Coordinator
	opts        []coordinator.RetryOption
	logger      *slog.Logger
}

func NewCoordinatorStageExecutor(c *coordinator.Coordinator, logger *slog.Logger, opts ...coordinator.RetryOption) *CoordinatorStageExecutor {
	if logger == nil {
		logger = slog.Default()
	}

	return &CoordinatorStageExecutor{
		coordinator: c,
		opts:        opts,
		logger:      logger.With("component", "stage-executor"),
	}
}

func (x *CoordinatorStageExecutor) ExecuteStage(ctx context.Context, inv domain.StageInvocation) (interface{}, error) {
	stage := inv.Stage
	if stage.ModuleID == "" || stage.ServiceID == "" {
		return nil, domain.NewExecutionError(fmt.Sprintf("stage %s does not name a module service", stage.StageID), false, nil)
	}

	params, err := domain.MergeParameters(inv.Defaults, stage.Parameters)
	if err != nil {
		return nil, err
	}

	res, err := x.coordinator.InvokeModuleService(ctx, stage.ModuleID, stage.ServiceID, params)
	if err != nil {
		return nil, err
	}
	if res.Succeeded() {
		return res.Result, nil
	}
	if res.Error == nil || !res.Error.Retryable {
		return nil, res.Err()
	}

	op := x.coordinator.RecordFailure(res, params, x.opts...)
	x.logger.Debug("retrying stage",
		"execution_id", inv.ExecutionID,
		"stage_id", stage.StageID,
		"operation_id", op.OperationID,
		"max_retries", op.MaxRetries)

	lastErr := res.Err()
	for {
		outcome := x.coordinator.RetryOperation(ctx, op, x.opts...)
		switch outcome.Status {
		case domain.RetrySucceeded:
			return outcome.Result.Result, nil
		case domain.RetryMaxRetriesExceeded:
			return nil, fmt.Errorf("stage %s gave up after %d retries: %w", stage.StageID, outcome.TotalRetries, lastErr)
		}

		if outcome.Error != nil {
			lastErr = outcome.Error
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}
