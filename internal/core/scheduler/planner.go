package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/eleven-am/orchestra/internal/adapters/graph"
	"github.com/eleven-am/orchestra/internal/domain"
)

// Per-stage resource estimate used by ScheduleExecution.
const (
	cpuPerStage      = 0.1
	memoryMBPerStage = 64
)

// ScheduleExecution compiles a valid parsed workflow into an execution plan
// using the default stage timeout for the duration estimate.
func ScheduleExecution(parsed *domain.ParsedWorkflow) (*domain.ExecutionPlan, error) {
	return buildPlan(parsed, domain.DefaultStageTimeout)
}

func buildPlan(parsed *domain.ParsedWorkflow, defaultTimeout time.Duration) (*domain.ExecutionPlan, error) {
	if parsed == nil {
		return nil, domain.NewInvalidWorkflowError("", []domain.ValidationError{{Kind: domain.ValidationSyntax, Message: "no parsed workflow"}})
	}
	if !parsed.ValidationResult.IsValid {
		return nil, domain.NewInvalidWorkflowError(parsed.Definition.WorkflowID, parsed.ValidationResult.Errors)
	}
	if defaultTimeout <= 0 {
		defaultTimeout = domain.DefaultStageTimeout
	}

	def := parsed.Definition

	// The parsed graph is shared; planning works on its own copy.
	g := graph.Build(def)
	levels, err := graph.AssignLevels(g)
	if err != nil {
		return nil, domain.NewInvalidWorkflowError(def.WorkflowID, []domain.ValidationError{{Kind: domain.ValidationDependency, Message: err.Error()}})
	}

	stages := make(map[string]domain.Stage, len(def.Stages))
	for _, stage := range def.Stages {
		if _, exists := stages[stage.StageID]; !exists {
			stages[stage.StageID] = stage
		}
	}

	timeoutOf := func(stageID string) time.Duration {
		if t := stages[stageID].Timeout; t > 0 {
			return t
		}
		return defaultTimeout
	}

	planGraph, err := graph.NewPlanGraph(g)
	if err != nil {
		return nil, domain.NewInvalidWorkflowError(def.WorkflowID, []domain.ValidationError{{Kind: domain.ValidationDependency, Message: err.Error()}})
	}

	groupOf := make(map[string]string, len(g.Order))
	order := make([]domain.ExecutionGroup, 0, len(levels))
	widest := 0

	for _, level := range levels {
		group := domain.ExecutionGroup{
			GroupID:       uuid.New().String(),
			Stages:        append([]string(nil), level...),
			ExecutionType: domain.ExecutionSequential,
			Dependencies:  []string{},
		}
		if len(level) > 1 {
			group.ExecutionType = domain.ExecutionParallel
		}
		if len(level) > widest {
			widest = len(level)
		}

		seen := make(map[string]bool)
		for _, id := range level {
			for _, dep := range planGraph.Dependencies(id) {
				gid := groupOf[dep]
				if !seen[gid] {
					seen[gid] = true
					group.Dependencies = append(group.Dependencies, gid)
				}
			}
		}
		for _, id := range level {
			groupOf[id] = group.GroupID
		}
		order = append(order, group)
	}

	estimate, critical, err := graph.CriticalPath(g, timeoutOf)
	if err != nil {
		return nil, domain.NewInvalidWorkflowError(def.WorkflowID, []domain.ValidationError{{Kind: domain.ValidationDependency, Message: err.Error()}})
	}

	count := len(g.Order)
	return &domain.ExecutionPlan{
		PlanID:         uuid.New().String(),
		WorkflowID:     def.WorkflowID,
		ExecutionOrder: order,
		ResourceRequirements: domain.ResourceRequirements{
			CPU:           cpuPerStage * float64(count),
			MemoryMB:      memoryMBPerStage * count,
			Connections:   widest,
			EstimatedTime: estimate,
		},
		EstimatedDuration: estimate,
		CriticalPath:      critical,
		CreatedAt:         time.Now(),
		Stages:            stages,
		Graph:             planGraph,
		Defaults:          def.Defaults,
	}, nil
}
