package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/txtx/runbook/internal/runbook"
	"github.com/zclconf/go-cty/cty"
)

// ChainAddon is a mock blockchain addon under the "chain" namespace. Every
// action reads an `id` input naming it in the recorder, so tests can assert
// ordering and overlap without depending on construct addresses.
type ChainAddon struct {
	Recorder *Recorder

	// Sleep stretches every execution, making overlap assertions meaningful.
	Sleep time.Duration
	// FlakyFailures is how many times chain::flaky fails before succeeding.
	FlakyFailures int32
	// ConfirmationsPerPoll advances chain::confirmable by this much per poll.
	ConfirmationsPerPoll int
	// RequiredConfirmations is chain::confirmable's threshold.
	RequiredConfirmations int

	flakyRemaining atomic.Int32
	polls          atomic.Int32
}

// NewChainAddon creates the mock addon with a fresh recorder.
func NewChainAddon() *ChainAddon {
	return &ChainAddon{Recorder: NewRecorder(), ConfirmationsPerPoll: 1, RequiredConfirmations: 0}
}

func (a *ChainAddon) Namespace() string { return "chain" }

func (a *ChainAddon) Actions() map[string]runbook.Action {
	a.flakyRemaining.Store(a.FlakyFailures)
	return map[string]runbook.Action{
		"transfer":    &transferAction{addon: a},
		"deploy":      &deployAction{addon: a},
		"flaky":       &flakyAction{addon: a},
		"confirmable": &confirmableAction{addon: a},
	}
}

func (a *ChainAddon) Signers() map[string]runbook.SignerFactory {
	return map[string]runbook.SignerFactory{
		"key": func() runbook.Signer { return &StubSigner{Public: "stub"} },
	}
}

// Polls returns how many confirmation polls chain::confirmable served.
func (a *ChainAddon) Polls() int {
	return int(a.polls.Load())
}

func (a *ChainAddon) execute(ctx context.Context, in *runbook.Inputs) (string, error) {
	id := in.StringOr("id", "unnamed")
	start := time.Now()
	if a.Sleep > 0 {
		select {
		case <-time.After(a.Sleep):
		case <-ctx.Done():
			return id, ctx.Err()
		}
	}
	a.Recorder.Record("exec:" + id)
	a.Recorder.RecordSpan(id, start, time.Now())
	return id, nil
}

// transferAction is a signed operation: it requests a signature over a
// payload derived from its inputs before producing a transaction hash.
type transferAction struct {
	addon *ChainAddon
}

func (t *transferAction) RequiresSignature() bool { return true }

func (t *transferAction) CheckExecutability(ctx context.Context, in *runbook.Inputs, ec *runbook.ExecContext) (*runbook.CheckResult, error) {
	if blocked, err := in.Bool("unfunded"); err == nil && blocked {
		return runbook.BlockedResult(runbook.Diag("", "insufficient funds", "sender balance is zero")), nil
	}
	t.addon.Recorder.Record("check:" + in.StringOr("id", "unnamed"))
	return runbook.ReadyResult(cty.NilVal), nil
}

func (t *transferAction) RunSignedExecution(ctx context.Context, in *runbook.Inputs, signer runbook.SignerHandle, ec *runbook.ExecContext) (*runbook.ExecutionOutcome, error) {
	id, err := t.addon.execute(ctx, in)
	if err != nil {
		return nil, err
	}
	payload := []byte("transfer:" + id)
	sig, err := signer.Sign(ctx, payload, "transfer "+id)
	if err != nil {
		return nil, err
	}
	t.addon.Recorder.Record("signed:" + id)
	return &runbook.ExecutionOutcome{
		Outputs: cty.ObjectVal(map[string]cty.Value{
			"tx_hash":   cty.StringVal("0x" + id),
			"signature": cty.StringVal(string(sig.Bytes)),
		}),
	}, nil
}

// deployAction is an unsigned operation producing an address output.
type deployAction struct {
	addon *ChainAddon
}

func (d *deployAction) RequiresSignature() bool { return false }

func (d *deployAction) CheckExecutability(ctx context.Context, in *runbook.Inputs, ec *runbook.ExecContext) (*runbook.CheckResult, error) {
	return runbook.ReadyResult(cty.NilVal), nil
}

func (d *deployAction) RunSignedExecution(ctx context.Context, in *runbook.Inputs, _ runbook.SignerHandle, ec *runbook.ExecContext) (*runbook.ExecutionOutcome, error) {
	id, err := d.addon.execute(ctx, in)
	if err != nil {
		return nil, err
	}
	if fail, err := in.Bool("fail"); err == nil && fail {
		return nil, runbook.FatalExecution("", fmt.Errorf("simulated deployment failure"))
	}
	return &runbook.ExecutionOutcome{
		Outputs: cty.ObjectVal(map[string]cty.Value{
			"address": cty.StringVal("addr-" + id),
		}),
	}, nil
}

// flakyAction fails with retryable errors a configured number of times, then
// succeeds.
type flakyAction struct {
	addon *ChainAddon
}

func (f *flakyAction) RequiresSignature() bool { return false }

func (f *flakyAction) CheckExecutability(ctx context.Context, in *runbook.Inputs, ec *runbook.ExecContext) (*runbook.CheckResult, error) {
	return runbook.ReadyResult(cty.NilVal), nil
}

func (f *flakyAction) RunSignedExecution(ctx context.Context, in *runbook.Inputs, _ runbook.SignerHandle, ec *runbook.ExecContext) (*runbook.ExecutionOutcome, error) {
	id := in.StringOr("id", "unnamed")
	if f.addon.flakyRemaining.Add(-1) >= 0 {
		f.addon.Recorder.Record("flaky-fail:" + id)
		return nil, runbook.RetryableExecution("", fmt.Errorf("transient RPC error"))
	}
	f.addon.Recorder.Record("exec:" + id)
	return &runbook.ExecutionOutcome{Outputs: cty.EmptyObjectVal}, nil
}

// confirmableAction executes immediately and then reports confirmations that
// advance by ConfirmationsPerPoll each poll.
type confirmableAction struct {
	addon *ChainAddon
}

func (c *confirmableAction) RequiresSignature() bool { return false }

func (c *confirmableAction) CheckExecutability(ctx context.Context, in *runbook.Inputs, ec *runbook.ExecContext) (*runbook.CheckResult, error) {
	return runbook.ReadyResult(cty.NilVal), nil
}

func (c *confirmableAction) RunSignedExecution(ctx context.Context, in *runbook.Inputs, _ runbook.SignerHandle, ec *runbook.ExecContext) (*runbook.ExecutionOutcome, error) {
	id, err := c.addon.execute(ctx, in)
	if err != nil {
		return nil, err
	}
	return &runbook.ExecutionOutcome{
		Outputs:            cty.ObjectVal(map[string]cty.Value{"tx_hash": cty.StringVal("0x" + id)}),
		ConfirmationHandle: cty.StringVal("0x" + id),
	}, nil
}

func (c *confirmableAction) RequiredConfirmations() int {
	return c.addon.RequiredConfirmations
}

func (c *confirmableAction) PollConfirmations(ctx context.Context, handle cty.Value) (int, error) {
	n := c.addon.polls.Add(1)
	return int(n) * c.addon.ConfirmationsPerPoll, nil
}
