package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eleven-am/orchestra/internal/domain"
)

const (
	maxCoordinationFanOut = 16

	sourceModule      = "module"
	sourceCoordinator = "coordinator"
)

// CoordinateModules calls operation with empty parameters on every module
// concurrently. Each module fails independently. The result always carries
// an id and a duration, even when the coordination itself breaks.
func (c *Coordinator) CoordinateModules(ctx context.Context, moduleIDs []string, operation string) (result *domain.CoordinationResult) {
	start := time.Now()
	result = &domain.CoordinationResult{
		CoordinationID: uuid.New().String(),
		Operation:      operation,
		Results:        make([]domain.ModuleOutcome, len(moduleIDs)),
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("coordination aborted", "coordination_id", result.CoordinationID, "panic", r)
			result.Status = domain.CoordinationFailure
			result.Errors = append(result.Errors, domain.CoordinationError{
				Source:  sourceCoordinator,
				Message: fmt.Sprintf("coordination aborted: %v", r),
			})
		}
		result.Duration = time.Since(start)
	}()

	g := new(errgroup.Group)
	g.SetLimit(maxCoordinationFanOut)
	for i, moduleID := range moduleIDs {
		g.Go(func() error {
			result.Results[i] = c.coordinateOne(ctx, moduleID, operation)
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, outcome := range result.Results {
		if outcome.Status == domain.ResultSuccess {
			succeeded++
			continue
		}
		source := sourceModule
		if outcome.Result == nil {
			source = sourceCoordinator
		}
		result.Errors = append(result.Errors, domain.CoordinationError{
			ModuleID: outcome.ModuleID,
			Source:   source,
			Message:  outcome.Error,
		})
	}

	switch {
	case succeeded == len(moduleIDs):
		result.Status = domain.CoordinationSuccess
	case succeeded > 0:
		result.Status = domain.CoordinationPartialSuccess
	default:
		result.Status = domain.CoordinationFailure
	}

	c.logger.Info("coordination finished",
		"coordination_id", result.CoordinationID,
		"operation", operation,
		"status", result.Status,
		"modules", len(moduleIDs),
		"failed", len(result.Errors))
	return result
}

func (c *Coordinator) coordinateOne(ctx context.Context, moduleID, operation string) (outcome domain.ModuleOutcome) {
	outcome.ModuleID = moduleID

	defer func() {
		if r := recover(); r != nil {
			outcome.Status = domain.ResultError
			outcome.Result = nil
			outcome.Error = fmt.Sprintf("invocation panicked: %v", r)
		}
	}()

	res, err := c.InvokeModuleService(ctx, moduleID, operation, map[string]interface{}{})
	if err != nil {
		outcome.Status = domain.ResultError
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Result = res
	outcome.Status = res.Status
	if res.Error != nil {
		outcome.Error = res.Error.Message
	}
	return outcome
}
