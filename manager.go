package orchestra

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/eleven-am/orchestra/internal/adapters/circuit_breaker"
	"github.com/eleven-am/orchestra/internal/adapters/health"
	"github.com/eleven-am/orchestra/internal/adapters/rate_limiter"
	"github.com/eleven-am/orchestra/internal/adapters/storage"
	"github.com/eleven-am/orchestra/internal/adapters/transport"
	"github.com/eleven-am/orchestra/internal/core/coordinator"
	"github.com/eleven-am/orchestra/internal/core/scheduler"
	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
)

// Manager wires the module coordinator and the workflow scheduler together
// and is the entry point of the library.
type Manager struct {
	config      *Config
	local       *transport.LocalTransport
	coordinator *coordinator.Coordinator
	scheduler   *scheduler.Scheduler
	history     *storage.HistoryStore
	logger      *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// RetryOption adjusts a single RetryOperation or RecordFailure call.
type RetryOption = coordinator.RetryOption

// RetryWithPolicy overrides the configured retry policy for one call.
func RetryWithPolicy(policy RetryPolicy) RetryOption {
	return coordinator.WithRetryPolicy(policy)
}

// New builds a Manager from cfg. Unset fields of cfg take their defaults; a
// nil cfg means DefaultConfig.
func New(cfg *Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		copied := *cfg
		cfg = &copied
		if err := domain.ApplyDefaults(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	logger := o.logger
	if logger == nil {
		logger = cfg.Logger
	}
	if logger == nil {
		logger = slog.Default()
	}

	local := transport.NewLocalTransport(logger)
	mux := transport.NewMux()
	mux.Register(SchemeInProcess, local)
	mux.Register(SchemeGRPC, transport.NewGRPCTransport(cfg.Transport, logger, o.dialOpts...))
	for scheme, t := range o.transports {
		mux.Register(scheme, t)
	}

	probe := health.NewSchemeProbe(health.Static(true, ""), logger)
	probe.Register(SchemeGRPC, health.NewGRPCProbe(cfg.Coordinator.HealthCheckTimeout, logger, o.dialOpts...))
	for scheme, p := range o.probes {
		probe.Register(scheme, p)
	}

	coord, err := coordinator.New(cfg.Coordinator, coordinator.Dependencies{
		Transport: mux,
		Probe:     probe,
		Breakers:  circuit_breaker.NewProvider(cfg.CircuitBreaker, logger),
		Limiter:   rate_limiter.NewProvider(cfg.RateLimit, logger),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	m := &Manager{
		config:      cfg,
		local:       local,
		coordinator: coord,
		logger:      logger.With("component", "manager"),
	}

	var history ports.ExecutionHistory
	if !cfg.History.Disabled {
		store, err := storage.NewHistoryStore(cfg.History, logger)
		if err != nil {
			_ = coord.Close()
			return nil, err
		}
		m.history = store
		history = store
	}

	executor := o.executor
	if executor == nil {
		executor = scheduler.NewCoordinatorStageExecutor(coord, logger)
	}

	m.scheduler, err = scheduler.New(cfg.Scheduler, scheduler.Dependencies{
		Executor: executor,
		History:  history,
		Logger:   logger,
	})
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	m.logger.Info("manager ready",
		"max_concurrent_executions", cfg.Scheduler.MaxConcurrentExecutions,
		"history", !cfg.History.Disabled,
		"circuit_breaker", !cfg.CircuitBreaker.Disabled)
	return m, nil
}

// Handle binds an in-process implementation of moduleID/serviceID. Modules
// registered without endpoints are served by these handlers.
func (m *Manager) Handle(moduleID, serviceID string, fn HandlerFunc) {
	m.local.Handle(moduleID, serviceID, fn)
}

func (m *Manager) RegisterModule(ctx context.Context, desc ModuleDescriptor) error {
	return m.coordinator.RegisterModule(ctx, desc)
}

func (m *Manager) DiscoverModules() []ModuleDescriptor {
	return m.coordinator.DiscoverModules()
}

func (m *Manager) GetModule(moduleID string) (ModuleDescriptor, error) {
	return m.coordinator.GetModule(moduleID)
}

func (m *Manager) Heartbeat(moduleID string) error {
	return m.coordinator.Heartbeat(moduleID)
}

func (m *Manager) DeactivateModule(moduleID string) error {
	return m.coordinator.DeactivateModule(moduleID)
}

func (m *Manager) Connections() []Connection {
	return m.coordinator.Connections()
}

// BreakerState reports the circuit state guarding moduleID. Modules without a
// breaker report closed.
func (m *Manager) BreakerState(moduleID string) CircuitBreakerState {
	return m.coordinator.BreakerState(moduleID)
}

func (m *Manager) InvokeModuleService(ctx context.Context, moduleID, serviceID string, params map[string]interface{}) (*ServiceResult, error) {
	return m.coordinator.InvokeModuleService(ctx, moduleID, serviceID, params)
}

func (m *Manager) CoordinateModules(ctx context.Context, moduleIDs []string, operation string) *CoordinationResult {
	return m.coordinator.CoordinateModules(ctx, moduleIDs, operation)
}

func (m *Manager) HandleModuleError(err error) ErrorRecommendation {
	return m.coordinator.HandleModuleError(err)
}

func (m *Manager) RecordFailure(result *ServiceResult, params map[string]interface{}, opts ...RetryOption) *FailedOperation {
	return m.coordinator.RecordFailure(result, params, opts...)
}

func (m *Manager) RetryOperation(ctx context.Context, op *FailedOperation, opts ...RetryOption) *RetryOutcome {
	return m.coordinator.RetryOperation(ctx, op, opts...)
}

func (m *Manager) FailedOperations() []FailedOperation {
	return m.coordinator.FailedOperations()
}

func (m *Manager) PendingRequests() []ServiceRequest {
	return m.coordinator.PendingRequests()
}

func (m *Manager) CancelRequest(requestID string) bool {
	return m.coordinator.CancelRequest(requestID)
}

func (m *Manager) ParseWorkflow(def WorkflowDefinition) *ParsedWorkflow {
	return m.scheduler.ParseWorkflow(def)
}

func (m *Manager) ValidateWorkflow(parsed *ParsedWorkflow) ValidationResult {
	return m.scheduler.ValidateWorkflow(parsed)
}

func (m *Manager) ScheduleExecution(parsed *ParsedWorkflow) (*ExecutionPlan, error) {
	return m.scheduler.ScheduleExecution(parsed)
}

func (m *Manager) ExecuteWorkflow(ctx context.Context, plan *ExecutionPlan) (*ExecutionResult, error) {
	return m.scheduler.ExecuteWorkflow(ctx, plan)
}

func (m *Manager) StartExecution(ctx context.Context, plan *ExecutionPlan) (*ExecutionHandle, error) {
	return m.scheduler.StartExecution(ctx, plan)
}

// RunWorkflow parses, plans and executes def in one call.
func (m *Manager) RunWorkflow(ctx context.Context, def WorkflowDefinition) (*ExecutionResult, error) {
	plan, err := m.scheduler.ScheduleExecution(m.scheduler.ParseWorkflow(def))
	if err != nil {
		return nil, err
	}
	return m.scheduler.ExecuteWorkflow(ctx, plan)
}

func (m *Manager) TrackExecution(ctx context.Context, executionID string) (*ExecutionStatus, error) {
	return m.scheduler.TrackExecution(ctx, executionID)
}

func (m *Manager) PauseExecution(executionID string) error {
	return m.scheduler.PauseExecution(executionID)
}

func (m *Manager) ResumeExecution(executionID string) error {
	return m.scheduler.ResumeExecution(executionID)
}

func (m *Manager) CancelExecution(executionID string) error {
	return m.scheduler.CancelExecution(executionID)
}

func (m *Manager) ManageConcurrency() []string {
	return m.scheduler.ManageConcurrency()
}

func (m *Manager) SetMaxConcurrentExecutions(n int) error {
	return m.scheduler.SetMaxConcurrentExecutions(n)
}

func (m *Manager) ActiveExecutions() []*ExecutionStatus {
	return m.scheduler.ActiveExecutions()
}

// Close stops the scheduler first so running stages can unwind, then closes
// module connections and the history store.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		var errs []error
		if m.scheduler != nil {
			errs = append(errs, m.scheduler.Close())
		}
		errs = append(errs, m.coordinator.Close())
		if m.history != nil {
			errs = append(errs, m.history.Close())
		}
		m.closeErr = errors.Join(errs...)
		m.logger.Info("manager closed")
	})
	return m.closeErr
}
