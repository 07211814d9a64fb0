package std

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/txtx/runbook/internal/runbook"
	"github.com/zclconf/go-cty/cty"
)

// printAction implements std::print: an unsigned action that renders its
// inputs to the run output. The evaluated inputs pass through as outputs so
// downstream constructs can chain off it.
type printAction struct {
	// Out overrides the destination, for tests.
	Out io.Writer
}

func (a *printAction) RequiresSignature() bool { return false }

func (a *printAction) CheckExecutability(ctx context.Context, in *runbook.Inputs, ec *runbook.ExecContext) (*runbook.CheckResult, error) {
	return runbook.ReadyResult(cty.NilVal), nil
}

func (a *printAction) RunSignedExecution(ctx context.Context, in *runbook.Inputs, _ runbook.SignerHandle, ec *runbook.ExecContext) (*runbook.ExecutionOutcome, error) {
	out := a.Out
	if out == nil {
		out = os.Stdout
	}

	names := in.Names()
	sort.Strings(names)

	vals := make(map[string]cty.Value, len(names))
	for _, name := range names {
		v, ok := in.Get(name)
		if !ok {
			continue
		}
		vals[name] = v
		fmt.Fprintf(out, "  %s = %s\n", name, renderValue(v))
	}
	if len(vals) == 0 {
		return &runbook.ExecutionOutcome{Outputs: cty.EmptyObjectVal}, nil
	}
	return &runbook.ExecutionOutcome{Outputs: cty.ObjectVal(vals)}, nil
}

func renderValue(v cty.Value) string {
	switch {
	case v.Type() == cty.String:
		return fmt.Sprintf("%q", v.AsString())
	case v.Type() == cty.Number:
		return v.AsBigFloat().String()
	case v.Type() == cty.Bool:
		return fmt.Sprintf("%t", v.True())
	default:
		return v.GoString()
	}
}
