package graph

import (
	"context"
	"sort"

	"github.com/txtx/runbook/internal/ctxlog"
	"github.com/txtx/runbook/internal/runbook"
)

// Build constructs a validated dependency graph from parsed construct
// definitions. It is a pure function of its input: no I/O, so the same
// definitions always yield the same graph, which is what makes resume safe.
//
// On any error, no partial graph is returned.
func Build(ctx context.Context, constructs []*runbook.Construct) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: starting graph construction.", "construct_count", len(constructs))

	graph := &Graph{Nodes: make(map[runbook.ConstructID]*Node)}

	// First pass: create all nodes.
	for _, c := range constructs {
		graph.Nodes[c.ID] = &Node{
			Construct:  c,
			Deps:       make(map[runbook.ConstructID]*Node),
			Dependents: make(map[runbook.ConstructID]*Node),
		}
	}
	logger.Debug("Build: node creation complete.", "node_count", len(graph.Nodes))

	// Second pass: link explicit and implicit dependencies.
	if err := linkNodes(ctx, graph); err != nil {
		return nil, err
	}
	logger.Debug("Build: node linking complete.")

	// Third pass: seed dependency counters for the scheduler.
	for _, node := range graph.Nodes {
		node.SetInitialDepCount(int32(len(node.Deps)))
	}

	if err := graph.detectCycles(); err != nil {
		return nil, err
	}
	logger.Debug("Build: cycle detection passed.")

	return graph, nil
}

// detectCycles checks for circular dependencies using DFS with a recursion
// stack, reporting the full cycle path on failure. Nodes are visited in
// lexical order so the reported path is deterministic.
func (g *Graph) detectCycles() error {
	visiting := make(map[runbook.ConstructID]bool)
	visited := make(map[runbook.ConstructID]bool)
	var stack []runbook.ConstructID

	var visit func(node *Node) error
	visit = func(node *Node) error {
		visiting[node.ID()] = true
		stack = append(stack, node.ID())

		for _, depID := range sortedDepIDs(node) {
			dep := node.Deps[depID]
			if visiting[dep.ID()] {
				return &runbook.GraphError{
					Kind:  runbook.GraphCycle,
					Cycle: cyclePath(stack, dep.ID()),
				}
			}
			if !visited[dep.ID()] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		delete(visiting, node.ID())
		visited[node.ID()] = true
		return nil
	}

	for _, id := range g.SortedIDs() {
		if !visited[id] {
			if err := visit(g.Nodes[id]); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedDepIDs(n *Node) []runbook.ConstructID {
	ids := make([]runbook.ConstructID, 0, len(n.Deps))
	for id := range n.Deps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// cyclePath slices the recursion stack from the first occurrence of start,
// yielding the members of the cycle in traversal order.
func cyclePath(stack []runbook.ConstructID, start runbook.ConstructID) []runbook.ConstructID {
	for i, id := range stack {
		if id == start {
			out := make([]runbook.ConstructID, len(stack)-i)
			copy(out, stack[i:])
			return out
		}
	}
	return []runbook.ConstructID{start}
}
