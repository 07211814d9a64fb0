package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/txtx/runbook/internal/ctxlog"
	"github.com/txtx/runbook/internal/graph"
	"github.com/txtx/runbook/internal/registry"
	"github.com/txtx/runbook/internal/runbook"
	"github.com/txtx/runbook/internal/signing"
	"github.com/txtx/runbook/internal/supervisor"
	"github.com/zclconf/go-cty/cty"
)

// buildSigners instantiates one signing instance per signer construct.
// Constructs carrying a `signers` list become composites owning the
// referenced child instances; everything else is a leaf built from the
// registered factory for its command type.
func buildSigners(ctx context.Context, g *graph.Graph, reg *registry.Registry, sup supervisor.Supervisor, runID string, approvalTimeout time.Duration) (*signing.Set, error) {
	logger := ctxlog.FromContext(ctx)
	set := signing.NewSet()
	building := make(map[runbook.ConstructID]bool)

	var build func(n *graph.Node) (*signing.Instance, error)
	build = func(n *graph.Node) (*signing.Instance, error) {
		if inst, ok := set.Get(n.ID()); ok {
			return inst, nil
		}
		// Child cycles are already impossible (the graph is acyclic and
		// `signers` references are edges), so this is a pure safety net.
		if building[n.ID()] {
			return nil, fmt.Errorf("signer %q delegates to itself", n.ID())
		}
		building[n.ID()] = true
		defer delete(building, n.ID())

		childIDs := childSignerRefs(n.Construct)
		if len(childIDs) > 0 {
			children := make([]*signing.Instance, 0, len(childIDs))
			for _, childID := range childIDs {
				childNode, ok := g.Node(childID)
				if !ok {
					return nil, &runbook.GraphError{
						Kind: runbook.GraphUnresolvedRef, Construct: n.ID(), Ref: childID.String(),
					}
				}
				child, err := build(childNode)
				if err != nil {
					return nil, err
				}
				children = append(children, child)
			}
			policy := quorumPolicy(n.Construct, len(children))
			inst := signing.NewComposite(n.ID(), children, policy, sup, runID, approvalTimeout)
			set.Add(inst)
			logger.Debug("Built composite signer instance.",
				"signer", n.ID(), "children", len(children), "required", policy.Required(len(children)))
			return inst, nil
		}

		factory, err := reg.SignerFactory(n.Construct.CommandType)
		if err != nil {
			return nil, fmt.Errorf("signer %q: %w", n.ID(), err)
		}
		inst := signing.NewInstance(n.ID(), factory(), sup, runID, approvalTimeout)
		set.Add(inst)
		logger.Debug("Built signer instance.", "signer", n.ID(), "command_type", n.Construct.CommandType)
		return inst, nil
	}

	for _, id := range g.SortedIDs() {
		n := g.Nodes[id]
		if n.Construct.Kind != runbook.KindSigner {
			continue
		}
		if _, err := build(n); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// childSignerRefs extracts the signer constructs referenced by a `signers`
// list attribute, in declaration order.
func childSignerRefs(c *runbook.Construct) []runbook.ConstructID {
	expr, ok := c.Inputs["signers"]
	if !ok {
		return nil
	}
	var out []runbook.ConstructID
	seen := make(map[runbook.ConstructID]bool)
	for _, traversal := range expr.Variables() {
		if traversal.RootName() != runbook.KindSigner.String() || len(traversal) < 2 {
			continue
		}
		attr, ok := traversal[1].(hcl.TraverseAttr)
		if !ok {
			continue
		}
		id := runbook.NewConstructID(runbook.KindSigner, attr.Name)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// quorumPolicy reads an optional literal `quorum` attribute. Anything
// unparseable falls back to N-of-N, the conservative default.
func quorumPolicy(c *runbook.Construct, children int) signing.Policy {
	expr, ok := c.Inputs["quorum"]
	if !ok {
		return signing.AllOf()
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() || !v.IsKnown() || v.IsNull() || v.Type() != cty.Number {
		return signing.AllOf()
	}
	bf := v.AsBigFloat()
	if !bf.IsInt() {
		return signing.AllOf()
	}
	k, _ := bf.Int64()
	if k <= 0 || int(k) > children {
		return signing.AllOf()
	}
	return signing.Threshold(int(k))
}
