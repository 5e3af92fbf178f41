package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eleven-am/orchestra/internal/domain"
)

type execution struct {
	status *domain.ExecutionStatus
	plan   *domain.ExecutionPlan
	cancel context.CancelFunc

	// resumed is non-nil while the execution is paused and closed on resume.
	resumed chan struct{}
	outputs map[string]interface{}
	// skip maps a stage to the failed upstream stage that rules it out.
	skip  map[string]string
	fault string

	done   chan struct{}
	result *domain.ExecutionResult
	err    error
}

// ExecutionHandle follows an execution started with StartExecution.
type ExecutionHandle struct {
	id   string
	exec *execution
}

func (h *ExecutionHandle) ExecutionID() string {
	return h.id
}

// Done is closed once the execution has reached a terminal state.
func (h *ExecutionHandle) Done() <-chan struct{} {
	return h.exec.done
}

// Wait blocks until the execution finishes or ctx is done.
func (h *ExecutionHandle) Wait(ctx context.Context) (*domain.ExecutionResult, error) {
	select {
	case <-h.exec.done:
		return h.exec.result, h.exec.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ExecuteWorkflow runs plan to completion. Stage failures are reported in
// the result; an error is returned only when admission fails, the run
// panics or ctx ends first.
func (s *Scheduler) ExecuteWorkflow(ctx context.Context, plan *domain.ExecutionPlan) (*domain.ExecutionResult, error) {
	h, err := s.start(ctx, plan)
	if err != nil {
		return nil, err
	}

	<-h.Done()
	result, err := h.exec.result, h.exec.err
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return result, err
}

// StartExecution admits plan and runs it in the background. The run is not
// tied to ctx; stop it with CancelExecution.
func (s *Scheduler) StartExecution(ctx context.Context, plan *domain.ExecutionPlan) (*ExecutionHandle, error) {
	return s.start(context.WithoutCancel(ctx), plan)
}

func (s *Scheduler) start(parent context.Context, plan *domain.ExecutionPlan) (*ExecutionHandle, error) {
	if plan == nil || plan.TotalStages() == 0 {
		workflowID := ""
		if plan != nil {
			workflowID = plan.WorkflowID
		}
		return nil, domain.NewInvalidWorkflowError(workflowID, []domain.ValidationError{{Kind: domain.ValidationSyntax, Message: "plan has no stages"}})
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrClosed
	}

	id := uuid.New().String()
	if err := s.gate.TryAcquire(id); err != nil {
		s.mu.Unlock()
		s.logger.Warn("execution rejected", "workflow_id", plan.WorkflowID, "error", err)
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	e := &execution{
		status: &domain.ExecutionStatus{
			ExecutionID:     id,
			WorkflowID:      plan.WorkflowID,
			PlanID:          plan.PlanID,
			Status:          domain.ExecutionRunning,
			CompletedStages: []string{},
			FailedStages:    []string{},
			SkippedStages:   []string{},
			Progress:        domain.ExecutionProgress{TotalStages: plan.TotalStages()},
			StartTime:       time.Now(),
			Errors:          []domain.StageError{},
		},
		plan:    plan,
		cancel:  cancel,
		outputs: make(map[string]interface{}),
		skip:    make(map[string]string),
		done:    make(chan struct{}),
	}
	s.active[id] = e
	s.mu.Unlock()

	s.logger.Info("execution started",
		"execution_id", id,
		"workflow_id", plan.WorkflowID,
		"plan_id", plan.PlanID,
		"stages", plan.TotalStages())

	go s.drive(ctx, e)
	return &ExecutionHandle{id: id, exec: e}, nil
}

func (s *Scheduler) drive(ctx context.Context, e *execution) {
	defer close(e.done)
	defer e.cancel()

	defer func() {
		if r := recover(); r != nil {
			s.abort(e, fmt.Sprintf("execution panicked: %v", r))
			s.settle(ctx, e)
			e.result, e.err = s.finish(e)
		}
	}()

	for _, group := range e.plan.ExecutionOrder {
		if ctx.Err() != nil {
			break
		}
		s.runGroup(ctx, e, group)
	}

	for !s.settle(ctx, e) {
		_ = s.checkpoint(ctx, e)
	}
	e.result, e.err = s.finish(e)
}

// runGroup runs one group's stages, in parallel up to the remaining global
// budget or one at a time. Once ctx ends it waits at most the cancel grace
// period for stages still in flight.
func (s *Scheduler) runGroup(ctx context.Context, e *execution, group domain.ExecutionGroup) {
	limit := 1
	if group.ExecutionType == domain.ExecutionParallel {
		limit = s.fanOut()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		g := new(errgroup.Group)
		g.SetLimit(limit)
		for _, stageID := range group.Stages {
			g.Go(func() error {
				s.runStage(ctx, e, stageID)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	grace := time.NewTimer(s.config.CancelGracePeriod)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		s.logger.Warn("abandoning in-flight stages",
			"execution_id", e.status.ExecutionID,
			"group_id", group.GroupID,
			"grace_period", s.config.CancelGracePeriod)
	}
}

// fanOut is the remaining global budget plus the execution's own slot.
func (s *Scheduler) fanOut() int {
	n := s.gate.Limit() - s.gate.Active() + 1
	if n < 1 {
		return 1
	}
	return n
}

func (s *Scheduler) runStage(ctx context.Context, e *execution, stageID string) {
	defer func() {
		if r := recover(); r != nil {
			s.abort(e, fmt.Sprintf("stage %s panicked: %v", stageID, r))
		}
	}()

	if err := s.checkpoint(ctx, e); err != nil {
		return
	}

	if blocker, blocked := s.begin(e, stageID); blocked {
		s.logger.Debug("stage skipped", "execution_id", e.status.ExecutionID, "stage_id", stageID, "blocked_by", blocker)
		return
	}

	stage, ok := e.plan.Stages[stageID]
	if !ok {
		stage = domain.Stage{StageID: stageID}
	}
	timeout := stage.Timeout
	if timeout <= 0 {
		timeout = s.config.DefaultStageTimeout
	}

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := s.executor.ExecuteStage(stageCtx, domain.StageInvocation{
		ExecutionID: e.status.ExecutionID,
		WorkflowID:  e.plan.WorkflowID,
		Stage:       stage,
		Defaults:    e.plan.Defaults,
	})

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && stageCtx.Err() != nil {
			err = fmt.Errorf("stage timed out after %s: %w", timeout, err)
		}
		s.stageFailed(e, stageID, err)
		return
	}
	s.stageCompleted(e, stageID, out, time.Since(start))
}

// checkpoint holds a stage while its execution is paused.
func (s *Scheduler) checkpoint(ctx context.Context, e *execution) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		wait := e.resumed
		s.mu.Unlock()

		if wait == nil {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// begin marks stageID current, or skipped when a stage it depends on,
// directly or transitively, has failed.
func (s *Scheduler) begin(e *execution, stageID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if blocker, ok := e.skip[stageID]; ok {
		if !e.status.Status.Terminal() {
			e.status.SkippedStages = append(e.status.SkippedStages, stageID)
			e.status.RecomputeProgress()
		}
		return blocker, true
	}

	if !e.status.Status.Terminal() {
		e.status.CurrentStage = stageID
	}
	return "", false
}

func (s *Scheduler) stageCompleted(e *execution, stageID string, out interface{}, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.status.Status.Terminal() {
		return
	}
	e.status.CompletedStages = append(e.status.CompletedStages, stageID)
	e.status.RecomputeProgress()
	e.outputs[stageID] = out

	s.logger.Debug("stage completed",
		"execution_id", e.status.ExecutionID,
		"stage_id", stageID,
		"duration", took,
		"progress", e.status.Progress.ProgressPercentage)
}

func (s *Scheduler) stageFailed(e *execution, stageID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.plan.Graph != nil {
		for _, id := range e.plan.Graph.Descendants(stageID) {
			if _, ok := e.skip[id]; !ok {
				e.skip[id] = stageID
			}
		}
	}
	if e.status.Status.Terminal() {
		return
	}
	e.status.FailedStages = append(e.status.FailedStages, stageID)
	e.status.Errors = append(e.status.Errors, domain.StageError{StageID: stageID, Message: err.Error(), At: time.Now()})
	e.status.RecomputeProgress()

	s.logger.Warn("stage failed",
		"execution_id", e.status.ExecutionID,
		"stage_id", stageID,
		"error", err)
}

// abort records an unexpected fault and stops the remaining stages.
func (s *Scheduler) abort(e *execution, fault string) {
	s.mu.Lock()
	if e.fault == "" {
		e.fault = fault
	}
	s.mu.Unlock()

	s.logger.Error("execution aborted", "execution_id", e.status.ExecutionID, "fault", fault)
	e.cancel()
}

// settle moves a live execution to its terminal state and reports whether it
// is settled. A paused execution stays paused until it is resumed or
// cancelled; only a fault ends it directly, through running.
func (s *Scheduler) settle(ctx context.Context, e *execution) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := e.status
	if st.Status.Terminal() {
		return true
	}

	var target domain.ExecutionState
	switch {
	case e.fault != "":
		target = domain.ExecutionFailed
	case ctx.Err() != nil:
		target = domain.ExecutionCancelled
	case len(st.FailedStages) > 0:
		target = domain.ExecutionFailed
	default:
		target = domain.ExecutionCompleted
	}

	if !domain.CanTransition(st.Status, target) {
		if e.fault == "" {
			return false
		}
		_ = s.transitionLocked(e, domain.ExecutionRunning)
	}
	if err := s.transitionLocked(e, target); err != nil {
		s.logger.Error("execution could not settle", "execution_id", st.ExecutionID, "error", err)
		return true
	}

	now := time.Now()
	if e.fault != "" {
		st.Errors = append(st.Errors, domain.StageError{StageID: st.CurrentStage, Message: e.fault, At: now})
	}
	st.CurrentStage = ""
	st.EndTime = &now
	st.Duration = now.Sub(st.StartTime)
	st.RecomputeProgress()
	return true
}

// finish records a settled execution in history and only then removes it
// from the active set, so it stays trackable throughout. Cancelled runs were
// already removed by CancelExecution and are not recorded.
func (s *Scheduler) finish(e *execution) (*domain.ExecutionResult, error) {
	s.mu.Lock()
	snapshot := e.status.Clone()
	fault := e.fault
	outputs := make(map[string]interface{}, len(e.outputs))
	for k, v := range e.outputs {
		outputs[k] = v
	}
	s.mu.Unlock()

	if snapshot.Status != domain.ExecutionCancelled {
		s.record(snapshot)
	}

	s.mu.Lock()
	if s.active[snapshot.ExecutionID] == e {
		delete(s.active, snapshot.ExecutionID)
		s.gate.Release(snapshot.ExecutionID)
	}
	s.mu.Unlock()

	s.logger.Info("execution finished",
		"execution_id", snapshot.ExecutionID,
		"workflow_id", snapshot.WorkflowID,
		"status", snapshot.Status,
		"completed", len(snapshot.CompletedStages),
		"failed", len(snapshot.FailedStages),
		"skipped", len(snapshot.SkippedStages),
		"duration", snapshot.Duration)

	result := &domain.ExecutionResult{
		ExecutionID: snapshot.ExecutionID,
		Status:      snapshot,
		Outputs:     outputs,
	}

	if fault != "" {
		err := domain.NewExecutionError("execution aborted", false, nil)
		err.Details = map[string]interface{}{
			"execution_id": snapshot.ExecutionID,
			"fault":        fault,
		}
		return result, err
	}
	return result, nil
}

// record is best-effort: a history failure never fails the execution.
func (s *Scheduler) record(status *domain.ExecutionStatus) {
	if s.history == nil {
		return
	}
	if err := s.history.Record(context.Background(), status); err != nil {
		s.logger.Warn("failed to record execution history", "execution_id", status.ExecutionID, "error", err)
	}
}
