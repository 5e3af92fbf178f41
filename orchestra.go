// Package orchestra coordinates independent service modules and runs
// declarative multi-stage workflows on top of them.
//
// Orchestra has two halves:
//   - a module coordinator that registers modules, routes service calls to
//     them (in-process or over gRPC) and retries failed calls under a policy
//   - a workflow scheduler that validates a workflow definition, plans it
//     into ordered stage groups and runs the plan under a global concurrency
//     limit with pause, resume and cancel
//
// Basic usage:
//
//	manager, _ := orchestra.New(orchestra.DefaultConfig())
//	defer manager.Close()
//
//	manager.Handle("text", "upper", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
//	    return strings.ToUpper(params["input"].(string)), nil
//	})
//	manager.RegisterModule(ctx, orchestra.ModuleDescriptor{
//	    ModuleID:   "text",
//	    ModuleName: "Text tools",
//	    Services:   []orchestra.ServiceDescriptor{{ServiceID: "upper"}},
//	})
//
//	result, err := manager.RunWorkflow(ctx, orchestra.WorkflowDefinition{
//	    WorkflowID: "shout",
//	    Name:       "Shout",
//	    Stages: []orchestra.Stage{{
//	        StageID: "upper", ModuleID: "text", ServiceID: "upper",
//	        Parameters: map[string]interface{}{"input": "hello"},
//	    }},
//	})
package orchestra

import (
	"github.com/eleven-am/orchestra/internal/adapters/transport"
	"github.com/eleven-am/orchestra/internal/core/scheduler"
	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
)

// ModuleDescriptor describes a module: its identity, the services it
// exposes and where to reach it. Endpoints use "scheme://address"; a module
// without endpoints is served in-process.
type ModuleDescriptor = domain.ModuleDescriptor

// ServiceDescriptor names one service of a module and its parameter contract.
type ServiceDescriptor = domain.ServiceDescriptor

// InputShape is the typed parameter contract checked before every call.
type InputShape = domain.InputShape

// ParamKind is the declared type of a single parameter.
type ParamKind = domain.ParamKind

const (
	ParamAny    = domain.ParamAny
	ParamString = domain.ParamString
	ParamNumber = domain.ParamNumber
	ParamBool   = domain.ParamBool
	ParamObject = domain.ParamObject
	ParamArray  = domain.ParamArray
)

// ModuleStatus is the lifecycle state of a registered module.
type ModuleStatus = domain.ModuleStatus

const (
	ModuleStatusRegistered = domain.ModuleStatusRegistered
	ModuleStatusActive     = domain.ModuleStatusActive
	ModuleStatusInactive   = domain.ModuleStatusInactive
)

// Connection is the coordinator's view of a module's live binding.
type Connection = domain.Connection

// ServiceRequest is one in-flight invocation.
type ServiceRequest = domain.ServiceRequest

// ServiceResult is the outcome of an invocation. Failures of the call itself
// are reported here rather than as a Go error.
type ServiceResult = domain.ServiceResult

// ServiceError classifies a failed invocation.
type ServiceError = domain.ServiceError

const (
	ResultSuccess = domain.ResultSuccess
	ResultError   = domain.ResultError
)

// CoordinationResult aggregates one operation run across several modules.
type CoordinationResult = domain.CoordinationResult

const (
	CoordinationSuccess        = domain.CoordinationSuccess
	CoordinationPartialSuccess = domain.CoordinationPartialSuccess
	CoordinationFailure        = domain.CoordinationFailure
)

// ErrorRecommendation is the advice returned by HandleModuleError.
type ErrorRecommendation = domain.ErrorRecommendation

const (
	ActionRetry = domain.ActionRetry
	ActionAbort = domain.ActionAbort
	ActionSkip  = domain.ActionSkip
)

// RetryPolicy controls how failed operations are retried.
type RetryPolicy = domain.RetryPolicy

const (
	BackoffFixed       = domain.BackoffFixed
	BackoffLinear      = domain.BackoffLinear
	BackoffExponential = domain.BackoffExponential
)

// FailedOperation is a failed call awaiting retry.
type FailedOperation = domain.FailedOperation

// RetryOutcome is the result of one RetryOperation step.
type RetryOutcome = domain.RetryOutcome

const (
	RetryPending            = domain.RetryPending
	RetryRetrying           = domain.RetryRetrying
	RetrySucceeded          = domain.RetrySucceeded
	RetryFailed             = domain.RetryFailed
	RetryMaxRetriesExceeded = domain.RetryMaxRetriesExceeded
)

// HandlerFunc implements a module service served by this process, either
// in-process through Manager.Handle or over gRPC through a ModuleServer.
type HandlerFunc = transport.HandlerFunc

// WorkflowDefinition is the declarative input of the scheduler.
type WorkflowDefinition = domain.WorkflowDefinition

// Stage is one unit of work in a workflow, usually a module service call.
type Stage = domain.Stage

// Dependency orders two stages: the source finishes before the target starts.
type Dependency = domain.Dependency

// ParsedWorkflow is a definition together with its graph and validation.
type ParsedWorkflow = domain.ParsedWorkflow

// ValidationResult reports syntax, semantic and cycle problems.
type ValidationResult = domain.ValidationResult

// ExecutionPlan is the compiled, ordered form of a workflow.
type ExecutionPlan = domain.ExecutionPlan

// ExecutionStatus is the run-time record of one execution.
type ExecutionStatus = domain.ExecutionStatus

// ExecutionResult is returned when an execution finishes.
type ExecutionResult = domain.ExecutionResult

// ExecutionHandle follows an execution started in the background.
type ExecutionHandle = scheduler.ExecutionHandle

// ExecutionState is the state of an execution.
type ExecutionState = domain.ExecutionState

const (
	ExecutionRunning   = domain.ExecutionRunning
	ExecutionPaused    = domain.ExecutionPaused
	ExecutionCompleted = domain.ExecutionCompleted
	ExecutionFailed    = domain.ExecutionFailed
	ExecutionCancelled = domain.ExecutionCancelled
)

// StageExecutor performs the work of a stage. The default executor calls the
// stage's module service through the coordinator.
type StageExecutor = ports.StageExecutor

// StageExecutorFunc adapts a function to StageExecutor.
type StageExecutorFunc = ports.StageExecutorFunc

// StageInvocation is what a StageExecutor receives for one stage.
type StageInvocation = domain.StageInvocation

// CircuitBreakerState is the state of a module's circuit breaker.
type CircuitBreakerState = ports.CircuitBreakerState

const (
	BreakerClosed   = ports.StateClosed
	BreakerHalfOpen = ports.StateHalfOpen
	BreakerOpen     = ports.StateOpen
)

// HealthProbe is consulted before a module is admitted.
type HealthProbe = ports.HealthProbe

// HealthReport is the answer of a HealthProbe.
type HealthReport = ports.HealthReport

// Error is the typed error returned by every operation. Use IsKind or the
// Is* helpers to branch on it.
type Error = domain.Error

// ErrorKind identifies the class of an Error.
type ErrorKind = domain.ErrorKind

const (
	ErrorKindInvalidModule       = domain.ErrorKindInvalidModule
	ErrorKindHealthCheckFailed   = domain.ErrorKindHealthCheckFailed
	ErrorKindModuleNotFound      = domain.ErrorKindModuleNotFound
	ErrorKindServiceNotFound     = domain.ErrorKindServiceNotFound
	ErrorKindInvalidParameters   = domain.ErrorKindInvalidParameters
	ErrorKindConnectionNotFound  = domain.ErrorKindConnectionNotFound
	ErrorKindExecution           = domain.ErrorKindExecution
	ErrorKindInvalidWorkflow     = domain.ErrorKindInvalidWorkflow
	ErrorKindCapacityExceeded    = domain.ErrorKindCapacityExceeded
	ErrorKindExecutionNotFound   = domain.ErrorKindExecutionNotFound
	ErrorKindCoordinationFailure = domain.ErrorKindCoordinationFailure
	ErrorKindInvalidConfig       = domain.ErrorKindInvalidConfig
	ErrorKindInvalidTransition   = domain.ErrorKindInvalidTransition
)

// ErrClosed is returned by a Manager after Close.
var ErrClosed = domain.ErrClosed

// IsKind reports whether err is an Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return domain.IsKind(err, kind)
}

// KindOf returns the kind of err, or the unknown kind for foreign errors.
func KindOf(err error) ErrorKind {
	return domain.KindOf(err)
}

// IsRetryable reports whether err is an Error marked retryable.
func IsRetryable(err error) bool {
	return domain.IsRetryable(err)
}

// ModuleServer serves module services over gRPC so that another process's
// Manager can reach them through a "grpc://" endpoint.
type ModuleServer = transport.Server

// NewModuleServer creates a gRPC module server. Bind services with Handle
// and start it with Start or Serve.
func NewModuleServer(opts ...Option) *ModuleServer {
	o := applyOptions(opts)
	return transport.NewServer(o.logger, o.serverOpts...)
}
