package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type ModuleStatus string

const (
	ModuleStatusRegistered ModuleStatus = "registered"
	ModuleStatusActive     ModuleStatus = "active"
	ModuleStatusInactive   ModuleStatus = "inactive"
)

// ParamKind is the declared type of a single service parameter.
type ParamKind string

const (
	ParamAny    ParamKind = "any"
	ParamString ParamKind = "string"
	ParamNumber ParamKind = "number"
	ParamBool   ParamKind = "bool"
	ParamObject ParamKind = "object"
	ParamArray  ParamKind = "array"
)

// InputShape is the parameter contract of a service. A zero InputShape
// accepts any structured (map) value.
type InputShape struct {
	Required        []string             `json:"required,omitempty" yaml:"required,omitempty"`
	Properties      map[string]ParamKind `json:"properties,omitempty" yaml:"properties,omitempty"`
	AllowAdditional bool                 `json:"allow_additional" yaml:"allow_additional"`
}

type ServiceDescriptor struct {
	ServiceID string     `json:"service_id" yaml:"service_id"`
	Input     InputShape `json:"input" yaml:"input"`
}

type ModuleDescriptor struct {
	ModuleID      string              `json:"module_id" yaml:"module_id"`
	ModuleName    string              `json:"module_name" yaml:"module_name"`
	Status        ModuleStatus        `json:"status" yaml:"status"`
	Services      []ServiceDescriptor `json:"services" yaml:"services"`
	Endpoints     []string            `json:"endpoints" yaml:"endpoints"`
	RegisteredAt  time.Time           `json:"registered_at" yaml:"registered_at"`
	LastHeartbeat time.Time           `json:"last_heartbeat" yaml:"last_heartbeat"`
}

func (m *ModuleDescriptor) Service(serviceID string) (ServiceDescriptor, bool) {
	for _, svc := range m.Services {
		if svc.ServiceID == serviceID {
			return svc, true
		}
	}
	return ServiceDescriptor{}, false
}

func (m ModuleDescriptor) Clone() ModuleDescriptor {
	out := m
	out.Services = append([]ServiceDescriptor(nil), m.Services...)
	out.Endpoints = append([]string(nil), m.Endpoints...)
	return out
}

type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

type Connection struct {
	ModuleID string           `json:"module_id"`
	Endpoint string           `json:"endpoint"`
	Status   ConnectionStatus `json:"status"`
	LastUsed time.Time        `json:"last_used"`
}

type ServiceRequest struct {
	RequestID  string                 `json:"request_id"`
	ModuleID   string                 `json:"module_id"`
	ServiceID  string                 `json:"service_id"`
	Parameters map[string]interface{} `json:"parameters"`
	Timestamp  time.Time              `json:"timestamp"`
}

type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// ServiceErrorType classifies a failed invocation for HandleModuleError.
type ServiceErrorType string

const (
	ServiceErrorExecution      ServiceErrorType = "execution"
	ServiceErrorTimeout        ServiceErrorType = "timeout"
	ServiceErrorConnection     ServiceErrorType = "connection"
	ServiceErrorValidation     ServiceErrorType = "validation"
	ServiceErrorAuthentication ServiceErrorType = "authentication"
	ServiceErrorCircuitOpen    ServiceErrorType = "circuit_open"
)

// ServiceError describes a failed call. Call failures carry ErrorType
// execution; Category holds the finer classification of the cause.
type ServiceError struct {
	ErrorCode string           `json:"error_code"`
	ErrorType ServiceErrorType `json:"error_type"`
	Category  ServiceErrorType `json:"category,omitempty"`
	Message   string           `json:"message"`
	Retryable bool             `json:"retryable"`
	Source    string           `json:"source,omitempty"`
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.ErrorCode, e.ErrorType, e.Message)
}

type ServiceResult struct {
	RequestID string        `json:"request_id"`
	ModuleID  string        `json:"module_id"`
	ServiceID string        `json:"service_id"`
	Status    ResultStatus  `json:"status"`
	Result    interface{}   `json:"result,omitempty"`
	Error     *ServiceError `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

func (r *ServiceResult) Succeeded() bool {
	return r != nil && r.Status == ResultSuccess
}

// Err converts an error result into an ExecutionError.
func (r *ServiceResult) Err() error {
	if r == nil || r.Status == ResultSuccess || r.Error == nil {
		return nil
	}
	err := NewExecutionError(r.Error.Message, r.Error.Retryable, r.Error)
	err.Details = map[string]interface{}{
		"request_id": r.RequestID,
		"module_id":  r.ModuleID,
		"service_id": r.ServiceID,
	}
	return err
}

type CoordinationStatus string

const (
	CoordinationSuccess        CoordinationStatus = "success"
	CoordinationPartialSuccess CoordinationStatus = "partial_success"
	CoordinationFailure        CoordinationStatus = "failure"
)

type ModuleOutcome struct {
	ModuleID string         `json:"module_id"`
	Status   ResultStatus   `json:"status"`
	Result   *ServiceResult `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type CoordinationError struct {
	ModuleID string `json:"module_id"`
	Source   string `json:"source"`
	Message  string `json:"message"`
}

type CoordinationResult struct {
	CoordinationID string              `json:"coordination_id"`
	Operation      string              `json:"operation"`
	Status         CoordinationStatus  `json:"status"`
	Results        []ModuleOutcome     `json:"results"`
	Errors         []CoordinationError `json:"errors"`
	Duration       time.Duration       `json:"duration"`
}

func (c *CoordinationResult) Err() error {
	if c == nil || c.Status == CoordinationSuccess {
		return nil
	}
	return NewCoordinationFailureError(c.CoordinationID, len(c.Errors), len(c.Results))
}

type RecommendedAction string

const (
	ActionRetry RecommendedAction = "retry"
	ActionAbort RecommendedAction = "abort"
	ActionSkip  RecommendedAction = "skip"
)

type ErrorRecommendation struct {
	Handled    bool              `json:"handled"`
	Action     RecommendedAction `json:"action"`
	RetryAfter time.Duration     `json:"retry_after,omitempty"`
	Category   ServiceErrorType  `json:"category,omitempty"`
}

// SortModules orders descriptors by id for stable discovery output.
func SortModules(modules []ModuleDescriptor) {
	sort.Slice(modules, func(i, j int) bool {
		return modules[i].ModuleID < modules[j].ModuleID
	})
}

const (
	SchemeInProcess = "inproc"
	SchemeGRPC      = "grpc"
)

// ParseEndpoint splits "scheme://address". Endpoints without a scheme are
// treated as gRPC targets.
func ParseEndpoint(endpoint string) (scheme, address string) {
	if i := strings.Index(endpoint, "://"); i > 0 {
		return strings.ToLower(endpoint[:i]), endpoint[i+3:]
	}
	return SchemeGRPC, endpoint
}
