package testutil

import (
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/require"
	"github.com/txtx/runbook/internal/runbook"
)

// Expr parses one HCL expression from source.
func Expr(t *testing.T, src string) hcl.Expression {
	t.Helper()
	expr, diags := hclsyntax.ParseExpression([]byte(src), "test.tx", hcl.InitialPos)
	require.False(t, diags.HasErrors(), "parsing expression %q: %s", src, diags.Error())
	return expr
}

// Construct builds a construct whose input attributes are parsed from an HCL
// body, e.g. `value = variable.amount + 1`.
func Construct(t *testing.T, kind runbook.ConstructKind, name, commandType, body string) *runbook.Construct {
	t.Helper()
	file, diags := hclsyntax.ParseConfig([]byte(body), "test.tx", hcl.InitialPos)
	require.False(t, diags.HasErrors(), "parsing body for %s.%s: %s", kind, name, diags.Error())

	attrs, diags := file.Body.JustAttributes()
	require.False(t, diags.HasErrors(), "reading attributes for %s.%s: %s", kind, name, diags.Error())

	inputs := make(map[string]hcl.Expression, len(attrs))
	for attrName, attr := range attrs {
		inputs[attrName] = attr.Expr
	}
	return runbook.NewConstruct(kind, name, commandType, inputs, nil)
}

// Variable builds a variable construct with the given value expression.
func Variable(t *testing.T, name, valueExpr string) *runbook.Construct {
	t.Helper()
	return Construct(t, runbook.KindVariable, name, "", "value = "+valueExpr+"\n")
}

// Output builds an output construct with the given value expression.
func Output(t *testing.T, name, valueExpr string) *runbook.Construct {
	t.Helper()
	return Construct(t, runbook.KindOutput, name, "", "value = "+valueExpr+"\n")
}

// Action builds an action construct with the given command type and body.
func Action(t *testing.T, name, commandType, body string) *runbook.Construct {
	t.Helper()
	return Construct(t, runbook.KindAction, name, commandType, body)
}

// Signer builds a signer construct with the given command type and body.
func Signer(t *testing.T, name, commandType, body string) *runbook.Construct {
	t.Helper()
	return Construct(t, runbook.KindSigner, name, commandType, body)
}
