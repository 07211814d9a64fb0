// Package eval drives each construct through the two-phase protocol: a
// side-effect-free feasibility check, then an authorized side-effecting
// execution. Domain logic stays behind the registered Action and Signer
// capabilities; this package owns only the protocol.
package eval

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/txtx/runbook/internal/graph"
	"github.com/txtx/runbook/internal/runbook"
	"github.com/zclconf/go-cty/cty"
)

// buildEvalContext exposes every completed construct's output to HCL
// expressions, grouped under its kind root: variable.<name>, signer.<name>,
// action.<name>.<field>, output.<name>, plus env.<name> for resolved
// environment inputs. Only Completed nodes contribute, so an expression can
// never observe a half-written value.
func buildEvalContext(g *graph.Graph, env map[string]cty.Value) *hcl.EvalContext {
	byKind := map[runbook.ConstructKind]map[string]cty.Value{
		runbook.KindVariable: {},
		runbook.KindSigner:   {},
		runbook.KindAction:   {},
		runbook.KindOutput:   {},
	}

	for _, id := range g.SortedIDs() {
		n := g.Nodes[id]
		if n.Status() != runbook.StatusCompleted {
			continue
		}
		out := n.Output()
		if out == cty.NilVal {
			out = cty.NullVal(cty.DynamicPseudoType)
		}
		byKind[n.Construct.Kind][n.Construct.Name] = out
	}

	vars := make(map[string]cty.Value, 5)
	for kind, entries := range byKind {
		if len(entries) > 0 {
			vars[kind.String()] = cty.ObjectVal(entries)
		}
	}
	if len(env) > 0 {
		vars["env"] = cty.ObjectVal(env)
	}

	return &hcl.EvalContext{Variables: vars}
}

// evaluateInputs resolves a construct's attribute expressions against the
// current evaluation context.
func evaluateInputs(c *runbook.Construct, evalCtx *hcl.EvalContext) (*runbook.Inputs, hcl.Diagnostics) {
	vals := make(map[string]cty.Value, len(c.Inputs))
	var diags hcl.Diagnostics
	for name, expr := range c.Inputs {
		v, moreDiags := expr.Value(evalCtx)
		diags = append(diags, moreDiags...)
		if !moreDiags.HasErrors() {
			vals[name] = v
		}
	}
	return runbook.NewInputs(vals), diags
}

// signerRef extracts the signer construct referenced by an action's `signer`
// attribute. The reference is read from the expression itself, not its
// value: the value is the signer's public material, while the engine needs
// the identity.
func signerRef(c *runbook.Construct) (runbook.ConstructID, bool) {
	expr, ok := c.Inputs["signer"]
	if !ok {
		return "", false
	}
	for _, traversal := range expr.Variables() {
		if traversal.RootName() != runbook.KindSigner.String() || len(traversal) < 2 {
			continue
		}
		if attr, ok := traversal[1].(hcl.TraverseAttr); ok {
			return runbook.NewConstructID(runbook.KindSigner, attr.Name), true
		}
	}
	return "", false
}
