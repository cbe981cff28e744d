package workflow

import (
	"sort"

	"github.com/google/uuid"
)

// dependencyGraph is the adjacency structure a Workflow maintains over its
// own tasks to answer cycle-detection and scheduling queries. An edge
// source -> target means "source must complete before target can run",
// i.e. target depends on source.
type dependencyGraph struct {
	nodes map[uuid.UUID]*graphNode
}

type graphNode struct {
	id           uuid.UUID
	dependencies []uuid.UUID
	dependents   []uuid.UUID
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{nodes: make(map[uuid.UUID]*graphNode)}
}

func (g *dependencyGraph) addNode(id uuid.UUID) {
	if _, ok := g.nodes[id]; !ok {
		g.nodes[id] = &graphNode{id: id}
	}
}

// addEdge records that target depends on source. Both nodes must already
// exist. Duplicate edges are no-ops.
func (g *dependencyGraph) addEdge(source, target uuid.UUID) {
	tn := g.nodes[target]
	for _, d := range tn.dependencies {
		if d == source {
			return
		}
	}
	g.nodes[source].dependents = append(g.nodes[source].dependents, target)
	tn.dependencies = append(tn.dependencies, source)
}

// hasCycle reports whether the graph contains a cycle reachable from any
// node, via DFS with visited/recursion-stack tracking. A back-edge into
// the recursion stack signals a cycle.
func (g *dependencyGraph) hasCycle() bool {
	visited := make(map[uuid.UUID]bool, len(g.nodes))
	onStack := make(map[uuid.UUID]bool, len(g.nodes))
	for id := range g.nodes {
		if !visited[id] {
			if g.dfs(id, visited, onStack) {
				return true
			}
		}
	}
	return false
}

func (g *dependencyGraph) dfs(id uuid.UUID, visited, onStack map[uuid.UUID]bool) bool {
	visited[id] = true
	onStack[id] = true
	for _, dependent := range g.nodes[id].dependents {
		if !visited[dependent] {
			if g.dfs(dependent, visited, onStack) {
				return true
			}
		} else if onStack[dependent] {
			return true
		}
	}
	onStack[id] = false
	return false
}

// readyNodes returns, in sorted order for determinism, the ids of nodes
// whose every dependency is a member of satisfied.
func (g *dependencyGraph) readyNodes(satisfied map[uuid.UUID]bool) []uuid.UUID {
	var ready []uuid.UUID
	for id, node := range g.nodes {
		if satisfied[id] {
			continue
		}
		ok := true
		for _, dep := range node.dependencies {
			if !satisfied[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].String() < ready[j].String() })
	return ready
}

// executionBatches groups nodes into Kahn's-algorithm topological batches:
// batch 0 has no dependencies, batch 1 depends only on batch 0, and so on.
// Used to report a workflow's maximum parallelism; assumes an acyclic
// graph (callers must have checked hasCycle first).
func (g *dependencyGraph) executionBatches() [][]uuid.UUID {
	inDegree := make(map[uuid.UUID]int, len(g.nodes))
	for id, node := range g.nodes {
		inDegree[id] = len(node.dependencies)
	}
	var batches [][]uuid.UUID
	processed := make(map[uuid.UUID]bool, len(g.nodes))
	for len(processed) < len(g.nodes) {
		var batch []uuid.UUID
		for id := range g.nodes {
			if !processed[id] && inDegree[id] == 0 {
				batch = append(batch, id)
			}
		}
		if len(batch) == 0 {
			break
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].String() < batch[j].String() })
		batches = append(batches, batch)
		for _, id := range batch {
			processed[id] = true
			for _, dependent := range g.nodes[id].dependents {
				inDegree[dependent]--
			}
		}
	}
	return batches
}
