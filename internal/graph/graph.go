// Package graph builds and holds the runbook dependency graph: one node per
// construct, edges from dependents to dependencies, validated acyclic before
// any evaluation starts. Topology is immutable after Build; only per-node
// evaluation state mutates, under the scheduler's single-writer discipline.
package graph

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/txtx/runbook/internal/runbook"
	"github.com/zclconf/go-cty/cty"
)

// Node is a single construct within the graph, carrying its definition and
// its mutable evaluation state.
type Node struct {
	Construct *runbook.Construct

	// Deps holds the nodes this construct depends on, keyed by address.
	Deps map[runbook.ConstructID]*Node
	// Dependents holds the nodes depending on this construct.
	Dependents map[runbook.ConstructID]*Node

	// depCount counts unmet dependencies; the scheduler dispatches a node
	// when it reaches zero.
	depCount atomic.Int32
	status   atomic.Int32

	mu     sync.Mutex
	output cty.Value
	result runbook.Result

	// skipOnce guarantees a node is skipped at most once even when several
	// failed upstreams race to mark it.
	skipOnce sync.Once
}

// ID returns the construct's address.
func (n *Node) ID() runbook.ConstructID { return n.Construct.ID }

// Status atomically reads the node's lifecycle status.
func (n *Node) Status() runbook.Status { return runbook.Status(n.status.Load()) }

// SetStatus atomically writes the node's lifecycle status.
func (n *Node) SetStatus(s runbook.Status) { n.status.Store(int32(s)) }

// SetInitialDepCount seeds the unmet-dependency counter after linking.
func (n *Node) SetInitialDepCount(c int32) { n.depCount.Store(c) }

// DecrementDepCount records one dependency completion, returning the number
// still unmet.
func (n *Node) DecrementDepCount() int32 { return n.depCount.Add(-1) }

// Complete records a successful evaluation: output value, result, status.
func (n *Node) Complete(output cty.Value, res runbook.Result) {
	n.mu.Lock()
	n.output = output
	n.result = res
	n.mu.Unlock()
	n.SetStatus(runbook.StatusCompleted)
}

// Fail records a terminal failure.
func (n *Node) Fail(res runbook.Result) {
	n.mu.Lock()
	n.result = res
	n.mu.Unlock()
	n.SetStatus(runbook.StatusFailed)
}

// Block records a Check-phase rejection: terminal failed result, but the
// status stays Blocked so reports distinguish "probe said no" from "execute
// blew up".
func (n *Node) Block(res runbook.Result) {
	n.mu.Lock()
	n.result = res
	n.mu.Unlock()
	n.SetStatus(runbook.StatusBlocked)
}

// Skip marks the node skipped with a reason, at most once. Returns true the
// first time.
func (n *Node) Skip(reason string) bool {
	skipped := false
	n.skipOnce.Do(func() {
		n.mu.Lock()
		n.result = runbook.Skip(reason)
		n.mu.Unlock()
		n.SetStatus(runbook.StatusSkipped)
		skipped = true
	})
	return skipped
}

// Output returns the node's recorded output value. Only meaningful once the
// node is Completed.
func (n *Node) Output() cty.Value {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.output
}

// Result returns the node's recorded result.
func (n *Node) Result() runbook.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.result
}

// Graph is the full construct set for one run plus its directed edge set.
type Graph struct {
	Nodes map[runbook.ConstructID]*Node
}

// Node returns the node for an address, if present.
func (g *Graph) Node(id runbook.ConstructID) (*Node, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// Len returns the number of constructs in the graph.
func (g *Graph) Len() int { return len(g.Nodes) }

// SortedIDs returns every construct address in lexical order, for
// deterministic iteration.
func (g *Graph) SortedIDs() []runbook.ConstructID {
	ids := make([]runbook.ConstructID, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// TransitiveDependents returns every node reachable by following dependent
// edges from id, not including id itself.
func (g *Graph) TransitiveDependents(id runbook.ConstructID) []*Node {
	seen := map[runbook.ConstructID]bool{id: true}
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, dep := range n.Dependents {
			if seen[dep.ID()] {
				continue
			}
			seen[dep.ID()] = true
			out = append(out, dep)
			walk(dep)
		}
	}
	if n, ok := g.Nodes[id]; ok {
		walk(n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Roots returns the nodes with no dependencies, in lexical order.
func (g *Graph) Roots() []*Node {
	var out []*Node
	for _, id := range g.SortedIDs() {
		if n := g.Nodes[id]; len(n.Deps) == 0 {
			out = append(out, n)
		}
	}
	return out
}
