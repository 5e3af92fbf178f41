package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindMatching(t *testing.T) {
	err := NewModuleNotFoundError("m1")

	assert.True(t, errors.Is(err, ErrModuleNotFound))
	assert.False(t, errors.Is(err, ErrServiceNotFound))
	assert.True(t, IsModuleNotFound(err))
	assert.Equal(t, ErrorKindModuleNotFound, KindOf(err))
	assert.Contains(t, err.Error(), "ModuleNotFound")
	assert.Equal(t, "m1", err.Details["module_id"])
}

func TestErrorKindThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("invoke: %w", NewServiceNotFoundError("m1", "echo"))

	assert.True(t, IsServiceNotFound(wrapped))
	assert.True(t, errors.Is(wrapped, ErrServiceNotFound))
	assert.Equal(t, ErrorKindUnknown, KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, ErrorKindModuleNotFound))
}

func TestExecutionErrorCarriesRetryable(t *testing.T) {
	cause := errors.New("network unreachable")
	err := NewExecutionError("call failed", true, cause)

	assert.True(t, IsRetryable(err))
	assert.Same(t, cause, errors.Unwrap(err))
	assert.False(t, IsRetryable(NewExecutionError("bad input", false, nil)))
	assert.False(t, IsRetryable(cause))
}

func TestInvalidWorkflowErrorCarriesList(t *testing.T) {
	problems := []ValidationError{
		{Kind: ValidationSyntax, Field: "name", Message: "name is required"},
		{Kind: ValidationDependency, Message: "cycle", Stages: []string{"a", "b", "a"}},
	}
	err := NewInvalidWorkflowError("wf", problems)

	require.True(t, IsInvalidWorkflow(err))
	assert.Equal(t, problems, err.Details["errors"])
	assert.Contains(t, err.Message, "2 error(s)")
}

func TestErrorKindStrings(t *testing.T) {
	kinds := map[ErrorKind]string{
		ErrorKindInvalidModule:       "InvalidModule",
		ErrorKindHealthCheckFailed:   "HealthCheckFailed",
		ErrorKindConnectionNotFound:  "ConnectionNotFound",
		ErrorKindExecution:           "ExecutionError",
		ErrorKindCapacityExceeded:    "CapacityExceeded",
		ErrorKindExecutionNotFound:   "ExecutionNotFound",
		ErrorKindCoordinationFailure: "CoordinationFailure",
		ErrorKindUnknown:             "Unknown",
	}
	for kind, want := range kinds {
		assert.Equal(t, want, kind.String())
	}
}

func TestServiceResultErr(t *testing.T) {
	ok := &ServiceResult{Status: ResultSuccess}
	assert.NoError(t, ok.Err())

	failed := &ServiceResult{
		RequestID: "r1",
		ModuleID:  "m1",
		ServiceID: "echo",
		Status:    ResultError,
		Error:     &ServiceError{ErrorCode: "EXECUTION_ERROR", ErrorType: ServiceErrorExecution, Message: "connection reset", Retryable: true},
	}
	err := failed.Err()
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrorKindExecution))
	assert.True(t, IsRetryable(err))

	var svcErr *ServiceError
	assert.True(t, errors.As(err, &svcErr))
}

func TestCoordinationResultErr(t *testing.T) {
	assert.NoError(t, (&CoordinationResult{Status: CoordinationSuccess}).Err())

	res := &CoordinationResult{
		CoordinationID: "c1",
		Status:         CoordinationPartialSuccess,
		Results:        make([]ModuleOutcome, 3),
		Errors:         []CoordinationError{{ModuleID: "m2", Message: "boom"}},
	}
	err := res.Err()
	assert.True(t, IsKind(err, ErrorKindCoordinationFailure))
	assert.Contains(t, err.Error(), "1 of 3")
}
