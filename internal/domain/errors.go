package domain

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindInvalidModule
	ErrorKindHealthCheckFailed
	ErrorKindModuleNotFound
	ErrorKindServiceNotFound
	ErrorKindInvalidParameters
	ErrorKindConnectionNotFound
	ErrorKindExecution
	ErrorKindInvalidWorkflow
	ErrorKindCapacityExceeded
	ErrorKindExecutionNotFound
	ErrorKindCoordinationFailure
	ErrorKindInvalidConfig
	ErrorKindInvalidTransition
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindInvalidModule:
		return "InvalidModule"
	case ErrorKindHealthCheckFailed:
		return "HealthCheckFailed"
	case ErrorKindModuleNotFound:
		return "ModuleNotFound"
	case ErrorKindServiceNotFound:
		return "ServiceNotFound"
	case ErrorKindInvalidParameters:
		return "InvalidParameters"
	case ErrorKindConnectionNotFound:
		return "ConnectionNotFound"
	case ErrorKindExecution:
		return "ExecutionError"
	case ErrorKindInvalidWorkflow:
		return "InvalidWorkflow"
	case ErrorKindCapacityExceeded:
		return "CapacityExceeded"
	case ErrorKindExecutionNotFound:
		return "ExecutionNotFound"
	case ErrorKindCoordinationFailure:
		return "CoordinationFailure"
	case ErrorKindInvalidConfig:
		return "InvalidConfig"
	case ErrorKindInvalidTransition:
		return "InvalidTransition"
	default:
		return "Unknown"
	}
}

// Error is the machine-checkable failure returned by the coordinator and the
// scheduler. Kind drives control flow, Message is for operators.
type Error struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	Details   map[string]interface{}
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind so callers can use errors.Is
// against the sentinel values below.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && other.Message == ""
}

var (
	ErrInvalidModule       = &Error{Kind: ErrorKindInvalidModule}
	ErrHealthCheckFailed   = &Error{Kind: ErrorKindHealthCheckFailed}
	ErrModuleNotFound      = &Error{Kind: ErrorKindModuleNotFound}
	ErrServiceNotFound     = &Error{Kind: ErrorKindServiceNotFound}
	ErrInvalidParameters   = &Error{Kind: ErrorKindInvalidParameters}
	ErrConnectionNotFound  = &Error{Kind: ErrorKindConnectionNotFound}
	ErrExecution           = &Error{Kind: ErrorKindExecution}
	ErrInvalidWorkflow     = &Error{Kind: ErrorKindInvalidWorkflow}
	ErrCapacityExceeded    = &Error{Kind: ErrorKindCapacityExceeded}
	ErrExecutionNotFound   = &Error{Kind: ErrorKindExecutionNotFound}
	ErrCoordinationFailure = &Error{Kind: ErrorKindCoordinationFailure}
	ErrInvalidConfig       = &Error{Kind: ErrorKindInvalidConfig}
	ErrInvalidTransition   = &Error{Kind: ErrorKindInvalidTransition}
)

var (
	ErrClosed      = errors.New("component closed")
	ErrTimeout     = errors.New("operation timeout")
	ErrConnection  = errors.New("connection error")
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

func newError(kind ErrorKind, message string, details map[string]interface{}) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func NewInvalidModuleError(moduleID, reason string) *Error {
	return newError(ErrorKindInvalidModule, reason, map[string]interface{}{"module_id": moduleID})
}

func NewHealthCheckFailedError(moduleID, reason string, cause error) *Error {
	err := newError(ErrorKindHealthCheckFailed, "module failed health check", map[string]interface{}{
		"module_id": moduleID,
		"reason":    reason,
	})
	err.Cause = cause
	return err
}

func NewModuleNotFoundError(moduleID string) *Error {
	return newError(ErrorKindModuleNotFound, "module not found: "+moduleID, map[string]interface{}{"module_id": moduleID})
}

func NewServiceNotFoundError(moduleID, serviceID string) *Error {
	return newError(ErrorKindServiceNotFound, fmt.Sprintf("service %s not found on module %s", serviceID, moduleID), map[string]interface{}{
		"module_id":  moduleID,
		"service_id": serviceID,
	})
}

func NewInvalidParametersError(serviceID string, problems []string) *Error {
	return newError(ErrorKindInvalidParameters, "invalid parameters: "+strings.Join(problems, "; "), map[string]interface{}{
		"service_id": serviceID,
		"problems":   problems,
	})
}

func NewConnectionNotFoundError(moduleID string) *Error {
	return newError(ErrorKindConnectionNotFound, "no connection for module "+moduleID, map[string]interface{}{"module_id": moduleID})
}

func NewExecutionError(message string, retryable bool, cause error) *Error {
	err := newError(ErrorKindExecution, message, nil)
	err.Retryable = retryable
	err.Cause = cause
	return err
}

func NewInvalidWorkflowError(workflowID string, problems []ValidationError) *Error {
	return newError(ErrorKindInvalidWorkflow, fmt.Sprintf("workflow %s failed validation with %d error(s)", workflowID, len(problems)), map[string]interface{}{
		"workflow_id": workflowID,
		"errors":      problems,
	})
}

func NewCapacityExceededError(active, limit int) *Error {
	return newError(ErrorKindCapacityExceeded, fmt.Sprintf("maximum concurrent executions reached (%d/%d)", active, limit), map[string]interface{}{
		"active": active,
		"limit":  limit,
	})
}

func NewExecutionNotFoundError(executionID string) *Error {
	return newError(ErrorKindExecutionNotFound, "execution not found: "+executionID, map[string]interface{}{"execution_id": executionID})
}

func NewCoordinationFailureError(coordinationID string, failed, total int) *Error {
	return newError(ErrorKindCoordinationFailure, fmt.Sprintf("%d of %d modules failed", failed, total), map[string]interface{}{
		"coordination_id": coordinationID,
		"failed":          failed,
		"total":           total,
	})
}

func NewInvalidConfigError(field, reason string) *Error {
	return newError(ErrorKindInvalidConfig, field+": "+reason, map[string]interface{}{"field": field})
}

func NewInvalidTransitionError(executionID string, from, to ExecutionState) *Error {
	return newError(ErrorKindInvalidTransition, fmt.Sprintf("cannot move execution from %s to %s", from, to), map[string]interface{}{
		"execution_id": executionID,
		"from":         string(from),
		"to":           string(to),
	})
}

func KindOf(err error) ErrorKind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return ErrorKindUnknown
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func IsModuleNotFound(err error) bool {
	return IsKind(err, ErrorKindModuleNotFound)
}

func IsServiceNotFound(err error) bool {
	return IsKind(err, ErrorKindServiceNotFound)
}

func IsInvalidParameters(err error) bool {
	return IsKind(err, ErrorKindInvalidParameters)
}

func IsCapacityExceeded(err error) bool {
	return IsKind(err, ErrorKindCapacityExceeded)
}

func IsExecutionNotFound(err error) bool {
	return IsKind(err, ErrorKindExecutionNotFound)
}

func IsInvalidWorkflow(err error) bool {
	return IsKind(err, ErrorKindInvalidWorkflow)
}

func IsRetryable(err error) bool {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Retryable
	}
	return false
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}
