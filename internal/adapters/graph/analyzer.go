// Package graph builds and analyzes the stage dependency graph of a workflow:
// cycle detection, topological leveling and critical path estimation.
package graph

import (
	"errors"
	"sort"
	"time"

	"github.com/eleven-am/orchestra/internal/domain"
)

// ErrCyclic is returned by AssignLevels when some stages can never become ready.
var ErrCyclic = errors.New("dependency graph contains a cycle")

// Build creates one node per declared stage and one edge per declared
// dependency. Edges that reference undeclared stages are kept in Edges but do
// not take part in adjacency; duplicate stage ids keep the first declaration.
func Build(def domain.WorkflowDefinition) *domain.DependencyGraph {
	g := &domain.DependencyGraph{
		Nodes: make(map[string]*domain.GraphNode, len(def.Stages)),
		Order: make([]string, 0, len(def.Stages)),
		Edges: append([]domain.Dependency(nil), def.Dependencies...),
	}

	for _, stage := range def.Stages {
		if _, exists := g.Nodes[stage.StageID]; exists {
			continue
		}
		g.Nodes[stage.StageID] = &domain.GraphNode{StageID: stage.StageID}
		g.Order = append(g.Order, stage.StageID)
	}

	seen := make(map[[2]string]bool, len(def.Dependencies))
	for _, edge := range def.Dependencies {
		source, okSource := g.Nodes[edge.SourceStage]
		target, okTarget := g.Nodes[edge.TargetStage]
		if !okSource || !okTarget {
			continue
		}
		key := [2]string{edge.SourceStage, edge.TargetStage}
		if seen[key] {
			continue
		}
		seen[key] = true
		source.Dependents = append(source.Dependents, edge.TargetStage)
		target.Dependencies = append(target.Dependencies, edge.SourceStage)
	}

	return g
}

type dfsFrame struct {
	id   string
	next int
}

// DetectCycles runs a depth-first search from every unvisited node keeping a
// recursion stack. Each edge that reaches a node on the stack reports the
// path from that node to the current one, closed by repeating the first id.
func DetectCycles(g *domain.DependencyGraph) [][]string {
	const (
		unvisited = iota
		onStack
		done
	)

	state := make(map[string]int, len(g.Order))
	var cycles [][]string

	for _, root := range g.Order {
		if state[root] != unvisited {
			continue
		}

		stack := []dfsFrame{{id: root}}
		path := []string{root}
		position := map[string]int{root: 0}
		state[root] = onStack

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			node := g.Nodes[top.id]

			if top.next < len(node.Dependents) {
				child := node.Dependents[top.next]
				top.next++

				switch state[child] {
				case unvisited:
					state[child] = onStack
					position[child] = len(path)
					path = append(path, child)
					stack = append(stack, dfsFrame{id: child})
				case onStack:
					cycle := append([]string(nil), path[position[child]:]...)
					cycles = append(cycles, append(cycle, child))
				}
				continue
			}

			state[top.id] = done
			delete(position, top.id)
			path = path[:len(path)-1]
			stack = stack[:len(stack)-1]
		}
	}

	return cycles
}

// AssignLevels groups stages with Kahn's algorithm: level n holds every stage
// whose dependencies all sit in levels below n. Node levels are written back
// into the graph. Stages keep their declaration order within a level.
func AssignLevels(g *domain.DependencyGraph) ([][]string, error) {
	index := make(map[string]int, len(g.Order))
	inDegree := make(map[string]int, len(g.Order))
	var current []string

	for i, id := range g.Order {
		index[id] = i
		inDegree[id] = len(g.Nodes[id].Dependencies)
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	var levels [][]string
	placed := 0
	for level := 0; len(current) > 0; level++ {
		levels = append(levels, current)

		var next []string
		for _, id := range current {
			node := g.Nodes[id]
			node.Level = level
			placed++

			for _, dependent := range node.Dependents {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}

		sort.Slice(next, func(i, j int) bool { return index[next[i]] < index[next[j]] })
		current = next
	}

	if placed != len(g.Order) {
		return levels, ErrCyclic
	}
	return levels, nil
}

// CriticalPath returns the heaviest dependency chain under weight and its
// total. The graph must be acyclic.
func CriticalPath(g *domain.DependencyGraph, weight func(stageID string) time.Duration) (time.Duration, []string, error) {
	levels, err := AssignLevels(g)
	if err != nil {
		return 0, nil, err
	}

	total := make(map[string]time.Duration, len(g.Order))
	prev := make(map[string]string, len(g.Order))

	var best time.Duration
	var tail string
	for _, level := range levels {
		for _, id := range level {
			var longest time.Duration
			for _, dep := range g.Nodes[id].Dependencies {
				if total[dep] > longest {
					longest = total[dep]
					prev[id] = dep
				}
			}
			total[id] = longest + weight(id)
			if tail == "" || total[id] > best {
				best = total[id]
				tail = id
			}
		}
	}

	var path []string
	for id := tail; id != ""; id = prev[id] {
		path = append([]string{id}, path...)
	}
	return best, path, nil
}
