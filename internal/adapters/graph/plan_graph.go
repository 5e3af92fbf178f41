package graph

import (
	"fmt"
	"sort"

	"github.com/heimdalr/dag"

	"github.com/eleven-am/orchestra/internal/domain"
)

// PlanGraph is the acyclic stage graph of a validated workflow. Lookups are
// answered by the DAG and returned in declaration order.
type PlanGraph struct {
	dag   *dag.DAG
	index map[string]int
}

// NewPlanGraph loads g into a DAG. It fails with ErrCyclic when an edge would
// close a loop, so callers run it after cycle detection has passed.
func NewPlanGraph(g *domain.DependencyGraph) (*PlanGraph, error) {
	d := dag.NewDAG()
	index := make(map[string]int, len(g.Order))

	for i, id := range g.Order {
		index[id] = i
		if err := d.AddVertexByID(id, id); err != nil {
			return nil, fmt.Errorf("failed to add stage %s: %w", id, err)
		}
	}

	for _, id := range g.Order {
		for _, dependent := range g.Nodes[id].Dependents {
			if err := d.AddEdge(id, dependent); err != nil {
				if _, ok := err.(dag.EdgeLoopError); ok {
					return nil, fmt.Errorf("%w: edge from %s to %s", ErrCyclic, id, dependent)
				}
				return nil, fmt.Errorf("failed to add edge from %s to %s: %w", id, dependent, err)
			}
		}
	}

	return &PlanGraph{dag: d, index: index}, nil
}

// Dependencies lists the stages stageID waits for directly.
func (p *PlanGraph) Dependencies(stageID string) []string {
	parents, err := p.dag.GetParents(stageID)
	if err != nil {
		return nil
	}
	return p.ordered(parents)
}

// Dependents lists the stages that wait for stageID directly.
func (p *PlanGraph) Dependents(stageID string) []string {
	children, err := p.dag.GetChildren(stageID)
	if err != nil {
		return nil
	}
	return p.ordered(children)
}

// Descendants lists every stage reachable from stageID.
func (p *PlanGraph) Descendants(stageID string) []string {
	descendants, err := p.dag.GetDescendants(stageID)
	if err != nil {
		return nil
	}
	return p.ordered(descendants)
}

// Roots lists the stages without dependencies.
func (p *PlanGraph) Roots() []string {
	return p.ordered(p.dag.GetRoots())
}

func (p *PlanGraph) ordered(set map[string]interface{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return p.index[out[i]] < p.index[out[j]] })
	return out
}
