package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/txtx/runbook/internal/runbook"
	"github.com/txtx/runbook/internal/testutil"
)

func TestBuild_ImplicitDependencies(t *testing.T) {
	t.Parallel()

	constructs := []*runbook.Construct{
		testutil.Variable(t, "amount", `100`),
		testutil.Action(t, "transfer", "chain::transfer", "value = variable.amount\n"),
		testutil.Output(t, "receipt", `action.transfer.tx_hash`),
	}

	g, err := Build(context.Background(), constructs)
	require.NoError(t, err)
	require.Equal(t, 3, g.Len())

	transfer, ok := g.Node("action.transfer")
	require.True(t, ok)
	assert.Contains(t, transfer.Deps, runbook.ConstructID("variable.amount"))

	receipt, ok := g.Node("output.receipt")
	require.True(t, ok)
	assert.Contains(t, receipt.Deps, runbook.ConstructID("action.transfer"))
	assert.Contains(t, transfer.Dependents, runbook.ConstructID("output.receipt"))
}

func TestBuild_ExplicitDependsOn(t *testing.T) {
	t.Parallel()

	second := testutil.Action(t, "second", "chain::deploy", "id = \"second\"\n")
	second.DependsOn = []string{"action.first"}

	g, err := Build(context.Background(), []*runbook.Construct{
		testutil.Action(t, "first", "chain::deploy", "id = \"first\"\n"),
		second,
	})
	require.NoError(t, err)

	n, ok := g.Node("action.second")
	require.True(t, ok)
	assert.Contains(t, n.Deps, runbook.ConstructID("action.first"))
}

func TestBuild_CycleReported(t *testing.T) {
	t.Parallel()

	_, err := Build(context.Background(), []*runbook.Construct{
		testutil.Variable(t, "a", `variable.b`),
		testutil.Variable(t, "b", `variable.a`),
	})
	require.Error(t, err)

	var gerr *runbook.GraphError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, runbook.GraphCycle, gerr.Kind)
	assert.Len(t, gerr.Cycle, 2)
	assert.Contains(t, gerr.Cycle, runbook.ConstructID("variable.a"))
	assert.Contains(t, gerr.Cycle, runbook.ConstructID("variable.b"))
}

func TestBuild_SelfReferenceIsCycle(t *testing.T) {
	t.Parallel()

	_, err := Build(context.Background(), []*runbook.Construct{
		testutil.Variable(t, "a", `variable.a + 1`),
	})
	require.Error(t, err)

	var gerr *runbook.GraphError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, runbook.GraphCycle, gerr.Kind)
}

func TestBuild_UnresolvedReference(t *testing.T) {
	t.Parallel()

	_, err := Build(context.Background(), []*runbook.Construct{
		testutil.Variable(t, "a", `variable.missing`),
	})
	require.Error(t, err)

	var gerr *runbook.GraphError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, runbook.GraphUnresolvedRef, gerr.Kind)
	assert.Equal(t, runbook.ConstructID("variable.a"), gerr.Construct)
}

func TestBuild_UnresolvedExplicitDependsOn(t *testing.T) {
	t.Parallel()

	c := testutil.Variable(t, "a", `1`)
	c.DependsOn = []string{"action.ghost"}

	_, err := Build(context.Background(), []*runbook.Construct{c})
	require.Error(t, err)

	var gerr *runbook.GraphError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, runbook.GraphUnresolvedRef, gerr.Kind)
}

func TestGraph_TransitiveDependents(t *testing.T) {
	t.Parallel()

	g, err := Build(context.Background(), []*runbook.Construct{
		testutil.Variable(t, "root", `1`),
		testutil.Variable(t, "mid", `variable.root`),
		testutil.Variable(t, "leaf", `variable.mid`),
		testutil.Variable(t, "unrelated", `2`),
	})
	require.NoError(t, err)

	deps := g.TransitiveDependents("variable.root")
	ids := make([]runbook.ConstructID, 0, len(deps))
	for _, n := range deps {
		ids = append(ids, n.ID())
	}
	assert.Equal(t, []runbook.ConstructID{"variable.leaf", "variable.mid"}, ids)
}

func TestNode_SkipOnlyOnce(t *testing.T) {
	t.Parallel()

	g, err := Build(context.Background(), []*runbook.Construct{
		testutil.Variable(t, "a", `1`),
	})
	require.NoError(t, err)

	n := g.Nodes["variable.a"]
	assert.True(t, n.Skip("first reason"))
	assert.False(t, n.Skip("second reason"))
	assert.Equal(t, runbook.StatusSkipped, n.Status())
	assert.Equal(t, "first reason", n.Result().Reason)
}
