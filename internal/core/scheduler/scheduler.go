package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/orchestra/internal/adapters/semaphore"
	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
)

// Dependencies are the collaborators of a Scheduler. Executor is required;
// without History finished runs are forgotten once they leave the active set.
type Dependencies struct {
	Executor ports.StageExecutor
	History  ports.ExecutionHistory
	Logger   *slog.Logger
}

// Scheduler owns the active-execution table. Every read hands out copies.
type Scheduler struct {
	config   domain.SchedulerConfig
	executor ports.StageExecutor
	history  ports.ExecutionHistory
	gate     *semaphore.Gate
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]*execution
	closed bool
}

func New(config domain.SchedulerConfig, deps Dependencies) (*Scheduler, error) {
	if deps.Executor == nil {
		return nil, domain.NewInvalidConfigError("scheduler.executor", "a stage executor is required")
	}
	if config.MaxConcurrentExecutions <= 0 {
		return nil, domain.NewInvalidConfigError("scheduler.max_concurrent_executions", "must be positive")
	}
	if config.DefaultStageTimeout <= 0 {
		config.DefaultStageTimeout = domain.DefaultStageTimeout
	}
	if config.CancelGracePeriod < 0 {
		config.CancelGracePeriod = 0
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		config:   config,
		executor: deps.Executor,
		history:  deps.History,
		gate:     semaphore.NewGate(config.MaxConcurrentExecutions, logger),
		logger:   logger.With("component", "scheduler"),
		active:   make(map[string]*execution),
	}, nil
}

func (s *Scheduler) ParseWorkflow(def domain.WorkflowDefinition) *domain.ParsedWorkflow {
	parsed := ParseWorkflow(def)
	if !parsed.ValidationResult.IsValid {
		s.logger.Debug("workflow failed validation",
			"workflow_id", def.WorkflowID,
			"errors", len(parsed.ValidationResult.Errors),
			"cycle_free", parsed.ValidationResult.CycleFree)
	}
	return parsed
}

func (s *Scheduler) ValidateWorkflow(parsed *domain.ParsedWorkflow) domain.ValidationResult {
	return ValidateWorkflow(parsed)
}

// ScheduleExecution is the package function with the configured default stage
// timeout used for the duration estimate.
func (s *Scheduler) ScheduleExecution(parsed *domain.ParsedWorkflow) (*domain.ExecutionPlan, error) {
	plan, err := buildPlan(parsed, s.config.DefaultStageTimeout)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("execution planned",
		"workflow_id", plan.WorkflowID,
		"plan_id", plan.PlanID,
		"groups", len(plan.ExecutionOrder),
		"estimated_duration", plan.EstimatedDuration)
	return plan, nil
}

// TrackExecution returns a copy of the execution's status. Active runs,
// including ones whose history record is still being written, are served
// from memory; finished ones from history.
func (s *Scheduler) TrackExecution(ctx context.Context, executionID string) (*domain.ExecutionStatus, error) {
	s.mu.Lock()
	if e, ok := s.active[executionID]; ok {
		status := e.status.Clone()
		s.mu.Unlock()
		return status, nil
	}
	s.mu.Unlock()

	if s.history == nil {
		return nil, domain.NewExecutionNotFoundError(executionID)
	}
	return s.history.Get(ctx, executionID)
}

// PauseExecution moves a running execution to paused. Stages already in
// flight finish; the next stage waits at its checkpoint. Pausing a paused
// execution does nothing.
func (s *Scheduler) PauseExecution(executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.active[executionID]
	if !ok {
		return domain.NewExecutionNotFoundError(executionID)
	}
	return s.pauseLocked(e)
}

func (s *Scheduler) pauseLocked(e *execution) error {
	if e.status.Status == domain.ExecutionPaused {
		return nil
	}
	if err := s.transitionLocked(e, domain.ExecutionPaused); err != nil {
		return err
	}
	s.logger.Info("execution paused", "execution_id", e.status.ExecutionID)
	return nil
}

// transitionLocked moves e to state to when the execution state machine
// allows it. Leaving paused releases the stages held at their checkpoint.
func (s *Scheduler) transitionLocked(e *execution, to domain.ExecutionState) error {
	from := e.status.Status
	if !domain.CanTransition(from, to) {
		return domain.NewInvalidTransitionError(e.status.ExecutionID, from, to)
	}

	e.status.Status = to
	switch {
	case to == domain.ExecutionPaused:
		e.resumed = make(chan struct{})
	case e.resumed != nil:
		close(e.resumed)
		e.resumed = nil
	}
	return nil
}

// ResumeExecution moves a paused execution back to running. Any other state
// is left unchanged.
func (s *Scheduler) ResumeExecution(executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.active[executionID]
	if !ok {
		return domain.NewExecutionNotFoundError(executionID)
	}
	if e.status.Status != domain.ExecutionPaused {
		return nil
	}
	if err := s.transitionLocked(e, domain.ExecutionRunning); err != nil {
		return err
	}
	s.logger.Info("execution resumed", "execution_id", executionID)
	return nil
}

// CancelExecution ends the execution immediately. The record becomes
// cancelled, leaves the active set and is not kept in history; in-flight
// stages see their context cancelled. An execution that has already settled
// but is still being recorded cannot be cancelled.
func (s *Scheduler) CancelExecution(executionID string) error {
	s.mu.Lock()
	e, ok := s.active[executionID]
	if !ok {
		s.mu.Unlock()
		return domain.NewExecutionNotFoundError(executionID)
	}
	if err := s.cancelLocked(e); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	e.cancel()
	s.logger.Info("execution cancelled", "execution_id", executionID)
	return nil
}

func (s *Scheduler) cancelLocked(e *execution) error {
	if err := s.transitionLocked(e, domain.ExecutionCancelled); err != nil {
		return err
	}

	now := time.Now()
	st := e.status
	st.CurrentStage = ""
	st.EndTime = &now
	st.Duration = now.Sub(st.StartTime)
	st.RecomputeProgress()

	delete(s.active, st.ExecutionID)
	s.gate.Release(st.ExecutionID)
	return nil
}

// ManageConcurrency pauses running executions beyond the concurrency limit,
// oldest admissions first kept running. It returns the ids it paused.
func (s *Scheduler) ManageConcurrency() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := s.gate.Limit()
	running := 0
	var paused []string

	for _, holder := range s.gate.Holders() {
		e, ok := s.active[holder.ID]
		if !ok || e.status.Status != domain.ExecutionRunning {
			continue
		}
		running++
		if running <= limit {
			continue
		}
		if err := s.pauseLocked(e); err == nil {
			paused = append(paused, holder.ID)
		}
	}

	if len(paused) > 0 {
		s.logger.Warn("paused executions over the concurrency limit", "limit", limit, "paused", len(paused))
	}
	return paused
}

// SetMaxConcurrentExecutions resizes the admission gate. Running executions
// are never evicted; see ManageConcurrency.
func (s *Scheduler) SetMaxConcurrentExecutions(n int) error {
	if n <= 0 {
		return domain.NewInvalidConfigError("scheduler.max_concurrent_executions", "must be positive")
	}
	s.gate.SetLimit(n)
	return nil
}

// ActiveExecutions lists copies of the active executions in admission order.
func (s *Scheduler) ActiveExecutions() []*domain.ExecutionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.ExecutionStatus, 0, len(s.active))
	for _, holder := range s.gate.Holders() {
		if e, ok := s.active[holder.ID]; ok {
			out = append(out, e.status.Clone())
		}
	}
	return out
}

// Close rejects new executions, cancels the active ones and waits up to the
// grace period for their drivers to return.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	// Settled runs still recording their history finish on their own.
	running := make([]*execution, 0, len(s.active))
	for _, e := range s.active {
		_ = s.cancelLocked(e)
		running = append(running, e)
	}
	s.mu.Unlock()

	for _, e := range running {
		e.cancel()
	}

	deadline := time.NewTimer(s.config.CancelGracePeriod)
	defer deadline.Stop()
	for _, e := range running {
		select {
		case <-e.done:
		case <-deadline.C:
			s.logger.Warn("abandoning executions still unwinding", "executions", len(running))
			return nil
		}
	}

	s.logger.Info("scheduler closed", "cancelled", len(running))
	return nil
}
