package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/eleven-am/orchestra/internal/adapters/graph"
	"github.com/eleven-am/orchestra/internal/domain"
)

// ParseWorkflow validates def and analyzes its dependency graph. It never
// fails; problems are reported in the ValidationResult of the returned value.
func ParseWorkflow(def domain.WorkflowDefinition) *domain.ParsedWorkflow {
	result := domain.ValidationResult{SyntaxValid: true, SemanticValid: true, CycleFree: true}

	if syntax := checkSyntax(def); len(syntax) > 0 {
		result.SyntaxValid = false
		result.Errors = append(result.Errors, syntax...)
	}
	if semantic := checkSemantics(def); len(semantic) > 0 {
		result.SemanticValid = false
		result.Errors = append(result.Errors, semantic...)
	}

	g := graph.Build(def)
	g.Cycles = graph.DetectCycles(g)
	if g.HasCycles() {
		result.CycleFree = false
		for _, cycle := range g.Cycles {
			result.Errors = append(result.Errors, domain.ValidationError{
				Kind:    domain.ValidationDependency,
				Message: "circular dependency: " + strings.Join(cycle, " -> "),
				Stages:  cycle,
			})
		}
	} else if _, err := graph.AssignLevels(g); err != nil {
		result.CycleFree = false
		result.Errors = append(result.Errors, domain.ValidationError{
			Kind:    domain.ValidationDependency,
			Message: err.Error(),
		})
	}

	result.IsValid = result.SyntaxValid && result.SemanticValid && result.CycleFree

	return &domain.ParsedWorkflow{
		Definition:       def,
		Graph:            g,
		ValidationResult: result,
		ParsedAt:         time.Now(),
	}
}

// ValidateWorkflow returns the result computed by ParseWorkflow.
func ValidateWorkflow(parsed *domain.ParsedWorkflow) domain.ValidationResult {
	if parsed == nil {
		return domain.ValidationResult{
			Errors: []domain.ValidationError{{Kind: domain.ValidationSyntax, Message: "no parsed workflow"}},
		}
	}
	return parsed.ValidationResult
}

func checkSyntax(def domain.WorkflowDefinition) []domain.ValidationError {
	var errs []domain.ValidationError
	if strings.TrimSpace(def.WorkflowID) == "" {
		errs = append(errs, syntaxError("workflow_id", "workflow id is required"))
	}
	if strings.TrimSpace(def.Name) == "" {
		errs = append(errs, syntaxError("name", "workflow name is required"))
	}
	if len(def.Stages) == 0 {
		errs = append(errs, syntaxError("stages", "at least one stage is required"))
	}
	for i, stage := range def.Stages {
		if strings.TrimSpace(stage.StageID) == "" {
			errs = append(errs, syntaxError(fmt.Sprintf("stages[%d].stage_id", i), "stage id is required"))
		}
	}
	for i, dep := range def.Dependencies {
		if dep.SourceStage == "" || dep.TargetStage == "" {
			errs = append(errs, syntaxError(fmt.Sprintf("dependencies[%d]", i), "source and target stages are required"))
		}
	}
	return errs
}

func checkSemantics(def domain.WorkflowDefinition) []domain.ValidationError {
	var errs []domain.ValidationError

	seen := make(map[string]bool, len(def.Stages))
	for i, stage := range def.Stages {
		if stage.StageID == "" {
			continue
		}
		if seen[stage.StageID] {
			errs = append(errs, domain.ValidationError{
				Kind:    domain.ValidationSemantic,
				Field:   fmt.Sprintf("stages[%d].stage_id", i),
				Message: "duplicate stage id " + stage.StageID,
				Stages:  []string{stage.StageID},
			})
		}
		seen[stage.StageID] = true

		if stage.Timeout < 0 {
			errs = append(errs, domain.ValidationError{
				Kind:    domain.ValidationSemantic,
				Field:   fmt.Sprintf("stages[%d].timeout", i),
				Message: "stage timeout must not be negative",
				Stages:  []string{stage.StageID},
			})
		}
	}

	for i, dep := range def.Dependencies {
		for _, id := range []string{dep.SourceStage, dep.TargetStage} {
			if id != "" && !seen[id] {
				errs = append(errs, domain.ValidationError{
					Kind:    domain.ValidationSemantic,
					Field:   fmt.Sprintf("dependencies[%d]", i),
					Message: "dependency references unknown stage " + id,
					Stages:  []string{id},
				})
			}
		}
		switch dep.DependencyType {
		case "", domain.DependencyFinishToStart, domain.DependencyData:
		default:
			errs = append(errs, domain.ValidationError{
				Kind:    domain.ValidationSemantic,
				Field:   fmt.Sprintf("dependencies[%d].dependency_type", i),
				Message: "unknown dependency type " + string(dep.DependencyType),
			})
		}
	}
	return errs
}

func syntaxError(field, message string) domain.ValidationError {
	return domain.ValidationError{Kind: domain.ValidationSyntax, Field: field, Message: message}
}
