package eval

import (
	"context"

	"github.com/txtx/runbook/internal/graph"
	"github.com/txtx/runbook/internal/runbook"
	"github.com/zclconf/go-cty/cty"
)

// EvaluateCheck runs only the Check phase of a construct: variables and
// outputs evaluate normally, signers probe activability, actions probe
// executability. Nothing is executed or activated. Checked nodes complete
// with unknown outputs so downstream expressions still evaluate.
func (e *Evaluator) EvaluateCheck(ctx context.Context, n *graph.Node) runbook.Result {
	n.SetStatus(runbook.StatusChecking)

	evalCtx := buildEvalContext(e.graph, e.ec.Env)
	inputs, diags := evaluateInputs(n.Construct, evalCtx)
	if diags.HasErrors() {
		return e.fail(n, runbook.Diag(n.ID(), "invalid input expression", "%s", diags.Error()))
	}

	switch n.Construct.Kind {
	case runbook.KindVariable, runbook.KindOutput:
		return e.checkValue(n, inputs)
	case runbook.KindSigner:
		return e.checkSigner(ctx, n, inputs)
	case runbook.KindAction:
		return e.checkAction(ctx, n, inputs)
	default:
		return e.fail(n, runbook.Diag(n.ID(), "unknown construct kind", "%v", n.Construct.Kind))
	}
}

// checkValue validates a variable or output. Values derived from unexecuted
// actions are unknown here; that still counts as a declared value.
func (e *Evaluator) checkValue(n *graph.Node, inputs *runbook.Inputs) runbook.Result {
	if _, declared := n.Construct.Inputs["value"]; !declared {
		return e.fail(n, runbook.Diag(n.ID(), "missing value", "%s requires a `value` attribute", n.Construct.Kind))
	}
	n.SetStatus(runbook.StatusReady)
	v, ok := inputs.Get("value")
	if !ok {
		v = cty.DynamicVal
	}
	res := runbook.Success(v)
	n.Complete(v, res)
	return res
}

func (e *Evaluator) checkSigner(ctx context.Context, n *graph.Node, inputs *runbook.Inputs) runbook.Result {
	inst, ok := e.signers.Get(n.ID())
	if !ok {
		return e.fail(n, runbook.Diag(n.ID(), "no signer instance", "engine did not instantiate %s", n.ID()))
	}
	check, err := inst.CheckActivability(ctx, inputs, e.ec)
	if err != nil {
		return e.fail(n, runbook.Diag(n.ID(), "activability check failed", "%v", err))
	}
	if !check.Ready {
		return e.block(n, check.Blocked)
	}
	return e.completeChecked(n, check.Metadata)
}

func (e *Evaluator) checkAction(ctx context.Context, n *graph.Node, inputs *runbook.Inputs) runbook.Result {
	impl, err := e.reg.Action(n.Construct.CommandType)
	if err != nil {
		return e.fail(n, runbook.Diag(n.ID(), "unknown command type", "%v", err))
	}

	if pre, ok := inputs.Get("pre_condition"); ok {
		met, err := inputs.Bool("pre_condition")
		if err != nil {
			return e.fail(n, runbook.Diag(n.ID(), "invalid pre_condition", "%v", err))
		}
		if !met {
			return e.block(n, runbook.Diag(n.ID(), "pre_condition not met", "guard evaluated to %s", pre.GoString()))
		}
	}

	if impl.RequiresSignature() {
		signerID, ok := signerRef(n.Construct)
		if !ok {
			return e.fail(n, runbook.Diag(n.ID(), "missing signer", "action requires a `signer` reference"))
		}
		if _, ok := e.signers.Get(signerID); !ok {
			return e.fail(n, runbook.Diag(n.ID(), "unknown signer", "no instance for %s", signerID))
		}
	}

	check, err := impl.CheckExecutability(ctx, inputs, e.ec)
	if err != nil {
		return e.fail(n, runbook.Diag(n.ID(), "executability check failed", "%v", err))
	}
	if !check.Ready {
		return e.block(n, check.Blocked)
	}
	return e.completeChecked(n, check.Metadata)
}

// completeChecked finishes a checked construct. The check metadata becomes
// the reported value; the graph output stays unknown so dependents that
// reference unexecuted outputs evaluate to unknown instead of erroring.
func (e *Evaluator) completeChecked(n *graph.Node, metadata cty.Value) runbook.Result {
	n.SetStatus(runbook.StatusReady)
	if metadata == cty.NilVal {
		metadata = cty.EmptyObjectVal
	}
	res := runbook.Success(metadata)
	n.Complete(cty.DynamicVal, res)
	return res
}
