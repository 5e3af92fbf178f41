package domain

import (
	"time"
)

// DefaultStageTimeout applies to stages that do not declare their own.
const DefaultStageTimeout = 5 * time.Second

type Stage struct {
	StageID    string                 `json:"stage_id" yaml:"stage_id"`
	Timeout    time.Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	ModuleID   string                 `json:"module_id,omitempty" yaml:"module_id,omitempty"`
	ServiceID  string                 `json:"service_id,omitempty" yaml:"service_id,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

func (s Stage) EffectiveTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultStageTimeout
}

type DependencyType string

const (
	DependencyFinishToStart DependencyType = "finish_to_start"
	DependencyData          DependencyType = "data"
)

// Dependency declares that TargetStage may start only after SourceStage finished.
type Dependency struct {
	SourceStage    string         `json:"source_stage" yaml:"source_stage"`
	TargetStage    string         `json:"target_stage" yaml:"target_stage"`
	DependencyType DependencyType `json:"dependency_type,omitempty" yaml:"dependency_type,omitempty"`
}

type WorkflowDefinition struct {
	WorkflowID   string                 `json:"workflow_id" yaml:"workflow_id"`
	Name         string                 `json:"name" yaml:"name"`
	Stages       []Stage                `json:"stages" yaml:"stages"`
	Dependencies []Dependency           `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Defaults     map[string]interface{} `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

type GraphNode struct {
	StageID      string   `json:"stage_id"`
	Level        int      `json:"level"`
	Dependencies []string `json:"dependencies"`
	Dependents   []string `json:"dependents"`
}

type DependencyGraph struct {
	Nodes  map[string]*GraphNode `json:"nodes"`
	Order  []string              `json:"order"`
	Edges  []Dependency          `json:"edges"`
	Cycles [][]string            `json:"cycles"`
}

func (g *DependencyGraph) HasCycles() bool {
	return len(g.Cycles) > 0
}

type ValidationErrorKind string

const (
	ValidationSyntax     ValidationErrorKind = "syntax"
	ValidationSemantic   ValidationErrorKind = "semantic"
	ValidationDependency ValidationErrorKind = "dependency"
)

type ValidationError struct {
	Kind    ValidationErrorKind `json:"kind"`
	Field   string              `json:"field,omitempty"`
	Message string              `json:"message"`
	Stages  []string            `json:"stages,omitempty"`
}

type ValidationResult struct {
	IsValid       bool              `json:"is_valid"`
	SyntaxValid   bool              `json:"syntax_valid"`
	SemanticValid bool              `json:"semantic_valid"`
	CycleFree     bool              `json:"cycle_free"`
	Errors        []ValidationError `json:"errors"`
}

type ParsedWorkflow struct {
	Definition       WorkflowDefinition `json:"definition"`
	Graph            *DependencyGraph   `json:"graph"`
	ValidationResult ValidationResult   `json:"validation_result"`
	ParsedAt         time.Time          `json:"parsed_at"`
}

type ExecutionType string

const (
	ExecutionSequential ExecutionType = "sequential"
	ExecutionParallel   ExecutionType = "parallel"
)

type ExecutionGroup struct {
	GroupID       string        `json:"group_id"`
	Stages        []string      `json:"stages"`
	ExecutionType ExecutionType `json:"execution_type"`
	Dependencies  []string      `json:"dependencies"`
}

type ResourceRequirements struct {
	CPU           float64       `json:"cpu"`
	MemoryMB      int           `json:"memory_mb"`
	Connections   int           `json:"connections"`
	EstimatedTime time.Duration `json:"estimated_time"`
}

type ExecutionPlan struct {
	PlanID               string               `json:"plan_id"`
	WorkflowID           string               `json:"workflow_id"`
	ExecutionOrder       []ExecutionGroup     `json:"execution_order"`
	ResourceRequirements ResourceRequirements `json:"resource_requirements"`
	EstimatedDuration    time.Duration        `json:"estimated_duration"`
	CriticalPath         []string             `json:"critical_path"`
	CreatedAt            time.Time            `json:"created_at"`

	Stages   map[string]Stage       `json:"stages"`
	Graph    StageGraph             `json:"-"`
	Defaults map[string]interface{} `json:"defaults,omitempty"`
}

// StageGraph answers dependency questions about a planned workflow.
type StageGraph interface {
	Dependencies(stageID string) []string
	Descendants(stageID string) []string
}

func (p *ExecutionPlan) TotalStages() int {
	total := 0
	for _, group := range p.ExecutionOrder {
		total += len(group.Stages)
	}
	return total
}

type ExecutionState string

const (
	ExecutionRunning   ExecutionState = "running"
	ExecutionPaused    ExecutionState = "paused"
	ExecutionCompleted ExecutionState = "completed"
	ExecutionFailed    ExecutionState = "failed"
	ExecutionCancelled ExecutionState = "cancelled"
)

func (s ExecutionState) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// CanTransition reports whether the execution state machine allows from → to.
// A paused execution only leaves through resume or cancel.
func CanTransition(from, to ExecutionState) bool {
	switch from {
	case ExecutionRunning:
		return to == ExecutionPaused || to.Terminal()
	case ExecutionPaused:
		return to == ExecutionRunning || to == ExecutionCancelled
	default:
		return false
	}
}

type ExecutionProgress struct {
	TotalStages        int     `json:"total_stages"`
	CompletedStages    int     `json:"completed_stages"`
	FailedStages       int     `json:"failed_stages"`
	ProgressPercentage float64 `json:"progress_percentage"`
}

type StageError struct {
	StageID string    `json:"stage_id"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type ExecutionStatus struct {
	ExecutionID     string            `json:"execution_id"`
	WorkflowID      string            `json:"workflow_id"`
	PlanID          string            `json:"plan_id"`
	Status          ExecutionState    `json:"status"`
	CompletedStages []string          `json:"completed_stages"`
	FailedStages    []string          `json:"failed_stages"`
	SkippedStages   []string          `json:"skipped_stages"`
	CurrentStage    string            `json:"current_stage"`
	Progress        ExecutionProgress `json:"progress"`
	StartTime       time.Time         `json:"start_time"`
	EndTime         *time.Time        `json:"end_time,omitempty"`
	Duration        time.Duration     `json:"duration"`
	Errors          []StageError      `json:"errors"`
}

func (s *ExecutionStatus) Clone() *ExecutionStatus {
	out := *s
	out.CompletedStages = append([]string(nil), s.CompletedStages...)
	out.FailedStages = append([]string(nil), s.FailedStages...)
	out.SkippedStages = append([]string(nil), s.SkippedStages...)
	out.Errors = append([]StageError(nil), s.Errors...)
	if s.EndTime != nil {
		end := *s.EndTime
		out.EndTime = &end
	}
	return &out
}

func (s *ExecutionStatus) RecomputeProgress() {
	s.Progress.CompletedStages = len(s.CompletedStages)
	s.Progress.FailedStages = len(s.FailedStages)
	if s.Progress.TotalStages == 0 {
		s.Progress.ProgressPercentage = 0
		return
	}
	done := len(s.CompletedStages) + len(s.FailedStages) + len(s.SkippedStages)
	s.Progress.ProgressPercentage = float64(done) * 100 / float64(s.Progress.TotalStages)
}

type ExecutionResult struct {
	ExecutionID string                 `json:"execution_id"`
	Status      *ExecutionStatus       `json:"status"`
	Outputs     map[string]interface{} `json:"outputs"`
}

// StageInvocation is what a stage executor receives for one stage run.
type StageInvocation struct {
	ExecutionID string
	WorkflowID  string
	Stage       Stage
	Defaults    map[string]interface{}
}
