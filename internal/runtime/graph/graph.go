// Package graph implements the task dependency DAG: AddTask, AddEdge with
// cycle rejection, MarkCompleted/MarkFailed, AllDependenciesResolved, and
// ExecutionOrder for diagnostics.
package graph

import (
	"fmt"
	"sort"
	"sync"
)

// Node is keyed by task id: the set of tasks it depends on, the set that
// depend on it, and its terminal status.
type Node struct {
	TaskID         int64
	Dependencies   map[int64]bool
	Dependents     map[int64]bool
	Completed      bool
	Failed         bool
	FailureReason  string
}

func newNode(id int64) *Node {
	return &Node{
		TaskID:       id,
		Dependencies: make(map[int64]bool),
		Dependents:   make(map[int64]bool),
	}
}

// Graph is a directed acyclic graph of task->task edges, all operations
// atomic under a single graph-wide mutex.
type Graph struct {
	mu    sync.Mutex
	nodes map[int64]*Node
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[int64]*Node)}
}

// AddTask registers an empty node for id if one doesn't already exist.
func (g *Graph) AddTask(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addTaskLocked(id)
}

func (g *Graph) addTaskLocked(id int64) *Node {
	n, ok := g.nodes[id]
	if !ok {
		n = newNode(id)
		g.nodes[id] = n
	}
	return n
}

// AddEdge records "from depends on to". Rejects (returns false) if the edge
// would close a cycle: a DFS from to over outgoing (dependency) edges
// finding from means a path already exists back to the new dependent.
func (g *Graph) AddEdge(from, to int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fromNode := g.addTaskLocked(from)
	g.addTaskLocked(to)

	if fromNode.Dependencies[to] {
		return true, nil // already present, idempotent no-op
	}

	if g.wouldCreateCycleLocked(from, to) {
		return false, fmt.Errorf("would create circular dependency: %d -> %d", from, to)
	}

	fromNode.Dependencies[to] = true
	g.nodes[to].Dependents[from] = true
	return true, nil
}

// wouldCreateCycleLocked runs a DFS from "to" over dependency edges looking
// for "from". If found, adding from->to would close a loop.
func (g *Graph) wouldCreateCycleLocked(from, to int64) bool {
	if from == to {
		return true
	}
	visited := make(map[int64]bool)
	stack := []int64{to}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == from {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if n, ok := g.nodes[cur]; ok {
			for dep := range n.Dependencies {
				stack = append(stack, dep)
			}
		}
	}
	return false
}

// allDependenciesResolvedLocked is false if any dependency is not completed,
// or is failed.
func (g *Graph) allDependenciesResolvedLocked(id int64) bool {
	n, ok := g.nodes[id]
	if !ok {
		return true
	}
	for dep := range n.Dependencies {
		depNode, ok := g.nodes[dep]
		if !ok {
			return false
		}
		if !depNode.Completed || depNode.Failed {
			return false
		}
	}
	return true
}

// AllDependenciesResolved reports whether every dependency of id is
// completed and not failed.
func (g *Graph) AllDependenciesResolved(id int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allDependenciesResolvedLocked(id)
}

// MarkCompleted marks id completed and returns the set of dependents whose
// remaining dependencies are now all resolved. Idempotent: a repeat call is
// a no-op returning an empty set.
func (g *Graph) MarkCompleted(id int64) []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.addTaskLocked(id)
	if n.Completed {
		return nil
	}
	n.Completed = true

	var ready []int64
	dependents := sortedKeys(n.Dependents)
	for _, dep := range dependents {
		if g.allDependenciesResolvedLocked(dep) {
			ready = append(ready, dep)
		}
	}
	return ready
}

// MarkFailed marks id failed and returns the set of direct dependents
// (blocked). Idempotent: a repeat call is a no-op returning an empty set.
func (g *Graph) MarkFailed(id int64, reason string) []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.addTaskLocked(id)
	if n.Failed {
		return nil
	}
	n.Failed = true
	n.FailureReason = reason

	return sortedKeys(n.Dependents)
}

// ExecutionOrder returns levels from a Kahn topological sort, for
// diagnostics and tests only.
func (g *Graph) ExecutionOrder() [][]int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	indegree := make(map[int64]int, len(g.nodes))
	for id, n := range g.nodes {
		indegree[id] = len(n.Dependencies)
	}

	var order [][]int64
	remaining := len(indegree)
	for remaining > 0 {
		var level []int64
		for id, deg := range indegree {
			if deg == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			break // residual cycle (shouldn't happen, graph is acyclic by construction)
		}
		sort.Slice(level, func(i, j int) bool { return level[i] < level[j] })
		for _, id := range level {
			delete(indegree, id)
			remaining--
			for dependent := range g.nodes[id].Dependents {
				if _, ok := indegree[dependent]; ok {
					indegree[dependent]--
				}
			}
		}
		order = append(order, level)
	}
	return order
}

// Render produces a human-readable dump of the graph for diagnostics.
func (g *Graph) Render() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]int64, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := ""
	for _, id := range ids {
		n := g.nodes[id]
		glyph := "○"
		if n.Failed {
			glyph = "✗"
		} else if n.Completed {
			glyph = "✓"
		}
		out += fmt.Sprintf("%s task %d\n", glyph, id)
		if len(n.Dependencies) > 0 {
			out += fmt.Sprintf("  └─ Depends on: %v\n", sortedKeys(n.Dependencies))
		}
		if len(n.Dependents) > 0 {
			out += fmt.Sprintf("  └─ Required by: %v\n", sortedKeys(n.Dependents))
		}
		if n.Failed {
			out += fmt.Sprintf("  └─ Failed: %s\n", n.FailureReason)
		}
	}
	return out
}

func sortedKeys(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
