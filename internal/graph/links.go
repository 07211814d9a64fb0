package graph

import (
	"context"

	"github.com/hashicorp/hcl/v2"
	"github.com/txtx/runbook/internal/ctxlog"
	"github.com/txtx/runbook/internal/runbook"
)

// linkNodes establishes the dependency edges for every node: explicit
// `depends_on` addresses first, then implicit references extracted from the
// node's input expressions.
func linkNodes(ctx context.Context, graph *Graph) error {
	for _, node := range graph.Nodes {
		if err := linkExplicitDeps(ctx, node, graph); err != nil {
			return err
		}
		for _, expr := range node.Construct.Inputs {
			if err := linkImplicitDeps(ctx, node, expr, graph); err != nil {
				return err
			}
		}
	}
	return nil
}

// linkExplicitDeps resolves the construct's depends_on list. Addresses must
// be fully qualified ("action.deploy"); anything unresolvable is fatal.
func linkExplicitDeps(ctx context.Context, node *Node, graph *Graph) error {
	logger := ctxlog.FromContext(ctx)
	for _, addr := range node.Construct.DependsOn {
		depNode, found := graph.Nodes[runbook.ConstructID(addr)]
		if !found {
			return &runbook.GraphError{
				Kind:      runbook.GraphUnresolvedRef,
				Construct: node.ID(),
				Ref:       addr,
			}
		}
		if _, exists := node.Deps[depNode.ID()]; !exists {
			logger.Debug("Linking explicit dependency.", "from", node.ID(), "to", depNode.ID())
			node.Deps[depNode.ID()] = depNode
			depNode.Dependents[node.ID()] = node
		}
	}
	return nil
}

// linkImplicitDeps scans an expression's variable traversals for references
// of the shape <kind>.<name>[.<field>] and links the referenced construct.
// Roots that are not construct kinds (e.g. "env") are left to the evaluator.
func linkImplicitDeps(ctx context.Context, node *Node, expr hcl.Expression, graph *Graph) error {
	logger := ctxlog.FromContext(ctx)
	for _, traversal := range expr.Variables() {
		kind, ok := runbook.ParseKind(traversal.RootName())
		if !ok {
			continue
		}
		if len(traversal) < 2 {
			continue
		}
		nameAttr, nameOk := traversal[1].(hcl.TraverseAttr)
		if !nameOk {
			continue
		}

		// A self reference becomes a length-one cycle; cycle detection
		// reports it uniformly.
		depID := runbook.NewConstructID(kind, nameAttr.Name)
		depNode, found := graph.Nodes[depID]
		if !found {
			return &runbook.GraphError{
				Kind:      runbook.GraphUnresolvedRef,
				Construct: node.ID(),
				Ref:       depID.String(),
			}
		}

		if _, exists := node.Deps[depID]; !exists {
			logger.Debug("Linking implicit dependency.", "from", node.ID(), "to", depID)
			node.Deps[depID] = depNode
			depNode.Dependents[node.ID()] = node
		}
	}
	return nil
}
