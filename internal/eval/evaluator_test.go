package eval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/txtx/runbook/internal/graph"
	"github.com/txtx/runbook/internal/registry"
	"github.com/txtx/runbook/internal/runbook"
	"github.com/txtx/runbook/internal/signing"
	"github.com/txtx/runbook/internal/supervisor"
	"github.com/txtx/runbook/internal/testutil"
	"github.com/zclconf/go-cty/cty"
)

// fastRetry keeps retry tests quick.
func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func fastConfirm() ConfirmationPolicy {
	return ConfirmationPolicy{Interval: time.Millisecond, Timeout: time.Second}
}

// harness builds an evaluator over the given constructs with the mock chain
// addon, instantiating leaf signer instances for every signer construct.
func harness(t *testing.T, addon *testutil.ChainAddon, sup supervisor.Supervisor, constructs ...*runbook.Construct) (*Evaluator, *graph.Graph) {
	t.Helper()

	g, err := graph.Build(context.Background(), constructs)
	require.NoError(t, err)

	reg := registry.New(addon)
	signers := signing.NewSet()
	for _, c := range constructs {
		if c.Kind != runbook.KindSigner {
			continue
		}
		factory, err := reg.SignerFactory(c.CommandType)
		require.NoError(t, err)
		signers.Add(signing.NewInstance(c.ID, factory(), sup, "run-1", 0))
	}

	ec := &runbook.ExecContext{RunID: "run-1", Env: map[string]cty.Value{"network": cty.StringVal("testnet")}}
	return New(reg, signers, g, ec, fastRetry(), fastConfirm()), g
}

// evaluateAll drives the graph to completion in lexical-topological order,
// the way the scheduler would, returning each construct's result.
func evaluateAll(t *testing.T, ev *Evaluator, g *graph.Graph) map[runbook.ConstructID]runbook.Result {
	t.Helper()
	results := make(map[runbook.ConstructID]runbook.Result)
	remaining := g.Len()
	for remaining > 0 {
		progressed := false
		for _, id := range g.SortedIDs() {
			n := g.Nodes[id]
			if n.Status().Terminal() {
				continue
			}
			ready := true
			for _, dep := range n.Deps {
				if dep.Status() != runbook.StatusCompleted {
					ready = false
				}
			}
			if !ready {
				continue
			}
			results[id] = ev.Evaluate(context.Background(), n)
			remaining--
			progressed = true
		}
		if !progressed {
			for _, id := range g.SortedIDs() {
				n := g.Nodes[id]
				if !n.Status().Terminal() {
					n.Skip("upstream failure")
					results[id] = n.Result()
					remaining--
				}
			}
		}
	}
	return results
}

func TestEvaluate_ValuePassing(t *testing.T) {
	t.Parallel()

	addon := testutil.NewChainAddon()
	ev, g := harness(t, addon, supervisor.NewAutoApprover(),
		testutil.Variable(t, "amount", `40 + 2`),
		testutil.Action(t, "deploy", "chain::deploy", "id = \"d-${variable.amount}\"\n"),
		testutil.Output(t, "address", `action.deploy.address`),
	)

	results := evaluateAll(t, ev, g)
	require.Equal(t, runbook.ResultSuccess, results["variable.amount"].Code)
	require.Equal(t, runbook.ResultSuccess, results["action.deploy"].Code)
	require.Equal(t, runbook.ResultSuccess, results["output.address"].Code)

	assert.Equal(t, "addr-d-42", results["output.address"].Value.AsString())
	assert.Contains(t, addon.Recorder.Events(), "exec:d-42")
}

func TestEvaluate_EnvValues(t *testing.T) {
	t.Parallel()

	ev, g := harness(t, testutil.NewChainAddon(), supervisor.NewAutoApprover(),
		testutil.Output(t, "net", `env.network`),
	)
	results := evaluateAll(t, ev, g)
	assert.Equal(t, "testnet", results["output.net"].Value.AsString())
}

func TestEvaluate_MissingValueAttribute(t *testing.T) {
	t.Parallel()

	ev, g := harness(t, testutil.NewChainAddon(), supervisor.NewAutoApprover(),
		testutil.Construct(t, runbook.KindVariable, "empty", "", "other = 1\n"),
	)
	results := evaluateAll(t, ev, g)
	res := results["variable.empty"]
	require.Equal(t, runbook.ResultFailed, res.Code)
	assert.Contains(t, res.Diagnostic.Summary, "missing value")
}

func TestEvaluate_InvalidExpression(t *testing.T) {
	t.Parallel()

	ev, g := harness(t, testutil.NewChainAddon(), supervisor.NewAutoApprover(),
		testutil.Variable(t, "bad", `"a" + 1`),
	)
	results := evaluateAll(t, ev, g)
	assert.Equal(t, runbook.ResultFailed, results["variable.bad"].Code)
}

func TestEvaluate_SignedAction(t *testing.T) {
	t.Parallel()

	addon := testutil.NewChainAddon()
	ev, g := harness(t, addon, supervisor.NewAutoApprover(),
		testutil.Signer(t, "ops", "chain::key", ""),
		testutil.Action(t, "transfer", "chain::transfer", "id = \"t1\"\nsigner = signer.ops\n"),
	)

	results := evaluateAll(t, ev, g)
	require.Equal(t, runbook.ResultSuccess, results["signer.ops"].Code)
	require.Equal(t, runbook.ResultSuccess, results["action.transfer"].Code)

	assert.Equal(t, "0xt1", results["action.transfer"].Value.GetAttr("tx_hash").AsString())
	events := addon.Recorder.Events()
	assert.Contains(t, events, "signed:t1")
}

func TestEvaluate_SigningRejected(t *testing.T) {
	t.Parallel()

	addon := testutil.NewChainAddon()
	ev, g := harness(t, addon, supervisor.NewAutoRejecter("declined"),
		testutil.Signer(t, "ops", "chain::key", ""),
		testutil.Action(t, "transfer", "chain::transfer", "id = \"t1\"\nsigner = signer.ops\n"),
	)

	results := evaluateAll(t, ev, g)
	res := results["action.transfer"]
	require.Equal(t, runbook.ResultFailed, res.Code)
	assert.Contains(t, res.Diagnostic.Summary, "signing rejected")
	assert.Equal(t, runbook.StatusFailed, g.Nodes["action.transfer"].Status())
}

func TestEvaluate_PreConditionBlocks(t *testing.T) {
	t.Parallel()

	addon := testutil.NewChainAddon()
	ev, g := harness(t, addon, supervisor.NewAutoApprover(),
		testutil.Action(t, "guarded", "chain::deploy", "id = \"g\"\npre_condition = 1 > 2\n"),
	)

	results := evaluateAll(t, ev, g)
	res := results["action.guarded"]
	require.Equal(t, runbook.ResultFailed, res.Code)
	assert.Equal(t, runbook.StatusBlocked, g.Nodes["action.guarded"].Status())
	assert.NotContains(t, addon.Recorder.Events(), "exec:g")
}

func TestEvaluate_CheckBlocked(t *testing.T) {
	t.Parallel()

	addon := testutil.NewChainAddon()
	ev, g := harness(t, addon, supervisor.NewAutoApprover(),
		testutil.Signer(t, "ops", "chain::key", ""),
		testutil.Action(t, "transfer", "chain::transfer", "id = \"t\"\nunfunded = true\nsigner = signer.ops\n"),
	)

	results := evaluateAll(t, ev, g)
	res := results["action.transfer"]
	require.Equal(t, runbook.ResultFailed, res.Code)
	assert.Equal(t, runbook.StatusBlocked, g.Nodes["action.transfer"].Status())
	assert.Contains(t, res.Diagnostic.Summary, "insufficient funds")
	assert.NotContains(t, addon.Recorder.Events(), "exec:t")
}

func TestEvaluate_RetryThenSucceed(t *testing.T) {
	t.Parallel()

	addon := testutil.NewChainAddon()
	addon.FlakyFailures = 2
	ev, g := harness(t, addon, supervisor.NewAutoApprover(),
		testutil.Action(t, "rpc", "chain::flaky", "id = \"f\"\n"),
	)

	results := evaluateAll(t, ev, g)
	require.Equal(t, runbook.ResultSuccess, results["action.rpc"].Code)

	events := addon.Recorder.Events()
	assert.Equal(t, []string{"flaky-fail:f", "flaky-fail:f", "exec:f"}, events)
}

func TestEvaluate_RetryExhausted(t *testing.T) {
	t.Parallel()

	addon := testutil.NewChainAddon()
	addon.FlakyFailures = 10
	ev, g := harness(t, addon, supervisor.NewAutoApprover(),
		testutil.Action(t, "rpc", "chain::flaky", "id = \"f\"\n"),
	)

	results := evaluateAll(t, ev, g)
	res := results["action.rpc"]
	require.Equal(t, runbook.ResultFailed, res.Code)
	// Initial attempt plus MaxRetries.
	assert.Len(t, addon.Recorder.Events(), 4)
}

func TestEvaluate_FatalErrorDoesNotRetry(t *testing.T) {
	t.Parallel()

	addon := testutil.NewChainAddon()
	ev, g := harness(t, addon, supervisor.NewAutoApprover(),
		testutil.Action(t, "deploy", "chain::deploy", "id = \"d\"\nfail = true\n"),
	)

	results := evaluateAll(t, ev, g)
	require.Equal(t, runbook.ResultFailed, results["action.deploy"].Code)
	// One execution, no retries.
	assert.Equal(t, []string{"exec:d"}, addon.Recorder.Events())
}

func TestEvaluate_ConfirmationsReached(t *testing.T) {
	t.Parallel()

	addon := testutil.NewChainAddon()
	addon.RequiredConfirmations = 3
	addon.ConfirmationsPerPoll = 1
	ev, g := harness(t, addon, supervisor.NewAutoApprover(),
		testutil.Action(t, "tx", "chain::confirmable", "id = \"c\"\n"),
	)

	results := evaluateAll(t, ev, g)
	require.Equal(t, runbook.ResultSuccess, results["action.tx"].Code)
	assert.GreaterOrEqual(t, addon.Polls(), 3)
}

func TestEvaluate_ConfirmationTimeout(t *testing.T) {
	t.Parallel()

	addon := testutil.NewChainAddon()
	addon.RequiredConfirmations = 1000
	addon.ConfirmationsPerPoll = 1

	g, err := graph.Build(context.Background(), []*runbook.Construct{
		testutil.Action(t, "tx", "chain::confirmable", "id = \"c\"\n"),
	})
	require.NoError(t, err)

	confirm := ConfirmationPolicy{Interval: time.Millisecond, Timeout: 20 * time.Millisecond}
	ev := New(registry.New(addon), signing.NewSet(), g, &runbook.ExecContext{RunID: "run-1"}, fastRetry(), confirm)

	res := ev.Evaluate(context.Background(), g.Nodes["action.tx"])
	require.Equal(t, runbook.ResultFailed, res.Code)
	assert.Contains(t, res.Diagnostic.Summary, "confirmation timeout")

	// The operation did execute, so the result keeps its outputs for a
	// resumed run to poll from.
	require.NotEqual(t, cty.NilVal, res.Value)
	assert.Equal(t, "0xc", res.Value.GetAttr("tx_hash").AsString())
}

func TestEvaluate_UnknownCommandType(t *testing.T) {
	t.Parallel()

	ev, g := harness(t, testutil.NewChainAddon(), supervisor.NewAutoApprover(),
		testutil.Action(t, "mystery", "chain::unheard_of", "id = \"m\"\n"),
	)
	results := evaluateAll(t, ev, g)
	res := results["action.mystery"]
	require.Equal(t, runbook.ResultFailed, res.Code)
	assert.Contains(t, res.Diagnostic.Summary, "unknown command type")
}

func TestEvaluate_MissingSignerReference(t *testing.T) {
	t.Parallel()

	ev, g := harness(t, testutil.NewChainAddon(), supervisor.NewAutoApprover(),
		testutil.Action(t, "transfer", "chain::transfer", "id = \"t\"\n"),
	)
	results := evaluateAll(t, ev, g)
	res := results["action.transfer"]
	require.Equal(t, runbook.ResultFailed, res.Code)
	assert.Contains(t, res.Diagnostic.Summary, "missing signer")
}

func TestEvaluateCheck_ProbesWithoutExecuting(t *testing.T) {
	t.Parallel()

	addon := testutil.NewChainAddon()
	ev, g := harness(t, addon, supervisor.NewAutoApprover(),
		testutil.Variable(t, "amount", `5`),
		testutil.Signer(t, "ops", "chain::key", ""),
		testutil.Action(t, "transfer", "chain::transfer", "id = \"t\"\namount = variable.amount\nsigner = signer.ops\n"),
		testutil.Output(t, "receipt", `action.transfer.tx_hash`),
	)

	remaining := g.Len()
	for remaining > 0 {
		for _, id := range g.SortedIDs() {
			n := g.Nodes[id]
			if n.Status().Terminal() {
				continue
			}
			ready := true
			for _, dep := range n.Deps {
				if !dep.Status().Terminal() {
					ready = false
				}
			}
			if ready {
				ev.EvaluateCheck(context.Background(), n)
				remaining--
			}
		}
	}

	events := addon.Recorder.Events()
	assert.Contains(t, events, "check:t")
	for _, e := range events {
		assert.NotContains(t, e, "exec:")
		assert.NotContains(t, e, "signed:")
	}

	// Downstream of an unexecuted action, outputs evaluate to unknown
	// rather than erroring.
	assert.Equal(t, runbook.ResultSuccess, g.Nodes["output.receipt"].Result().Code)
}
