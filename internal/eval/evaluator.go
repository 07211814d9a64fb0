package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/txtx/runbook/internal/ctxlog"
	"github.com/txtx/runbook/internal/graph"
	"github.com/txtx/runbook/internal/registry"
	"github.com/txtx/runbook/internal/runbook"
	"github.com/txtx/runbook/internal/signing"
	"github.com/zclconf/go-cty/cty"
)

// RetryPolicy bounds the backoff applied to retryable execution errors.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries transient failures three times with exponential
// backoff starting at half a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialInterval: 500 * time.Millisecond, MaxInterval: 10 * time.Second}
}

// ConfirmationPolicy bounds confirmation polling for executed actions.
type ConfirmationPolicy struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultConfirmationPolicy polls every two seconds for up to five minutes.
func DefaultConfirmationPolicy() ConfirmationPolicy {
	return ConfirmationPolicy{Interval: 2 * time.Second, Timeout: 5 * time.Minute}
}

// Evaluator evaluates individual constructs for the scheduler. One evaluator
// serves a whole run; it is safe for concurrent Evaluate calls because all
// mutable state lives on the graph nodes and signer instances.
type Evaluator struct {
	reg     *registry.Registry
	signers *signing.Set
	graph   *graph.Graph
	ec      *runbook.ExecContext

	retry   RetryPolicy
	confirm ConfirmationPolicy
}

// New assembles an evaluator for one run.
func New(reg *registry.Registry, signers *signing.Set, g *graph.Graph, ec *runbook.ExecContext, retry RetryPolicy, confirm ConfirmationPolicy) *Evaluator {
	return &Evaluator{reg: reg, signers: signers, graph: g, ec: ec, retry: retry, confirm: confirm}
}

// Evaluate drives one construct through its Check and Execute phases and
// returns the terminal result. Node status and output are updated in place;
// the scheduler records the result and propagates skips.
func (e *Evaluator) Evaluate(ctx context.Context, n *graph.Node) runbook.Result {
	logger := ctxlog.FromContext(ctx).With("construct", n.ID())
	n.SetStatus(runbook.StatusChecking)

	evalCtx := buildEvalContext(e.graph, e.ec.Env)
	inputs, diags := evaluateInputs(n.Construct, evalCtx)
	if diags.HasErrors() {
		return e.fail(n, runbook.Diag(n.ID(), "invalid input expression", "%s", diags.Error()))
	}

	switch n.Construct.Kind {
	case runbook.KindVariable, runbook.KindOutput:
		return e.evaluateValue(n, inputs)
	case runbook.KindSigner:
		return e.evaluateSigner(ctx, n, inputs)
	case runbook.KindAction:
		return e.evaluateAction(ctx, logger, n, inputs)
	default:
		return e.fail(n, runbook.Diag(n.ID(), "unknown construct kind", "%v", n.Construct.Kind))
	}
}

// evaluateValue handles variables and outputs: a single `value` expression.
func (e *Evaluator) evaluateValue(n *graph.Node, inputs *runbook.Inputs) runbook.Result {
	v, ok := inputs.Get("value")
	if !ok {
		return e.fail(n, runbook.Diag(n.ID(), "missing value", "%s requires a `value` attribute", n.Construct.Kind))
	}
	n.SetStatus(runbook.StatusReady)
	res := runbook.Success(v)
	n.Complete(v, res)
	return res
}

// evaluateSigner runs the activability check then activation through the
// signer instance built for this construct.
func (e *Evaluator) evaluateSigner(ctx context.Context, n *graph.Node, inputs *runbook.Inputs) runbook.Result {
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

	n.SetStatus(runbook.StatusReady)
	n.SetStatus(runbook.StatusExecuting)
	public, err := inst.Activate(ctx, inputs, e.ec)
	if err != nil {
		return e.fail(n, runbook.Diag(n.ID(), "activation failed", "%v", err))
	}

	res := runbook.Success(public)
	n.Complete(public, res)
	return res
}

// evaluateAction runs the executability check, resolves the signer handle,
// executes with bounded retry, and polls confirmations when declared.
func (e *Evaluator) evaluateAction(ctx context.Context, logger *slog.Logger, n *graph.Node, inputs *runbook.Inputs) runbook.Result {
	impl, err := e.reg.Action(n.Construct.CommandType)
	if err != nil {
		return e.fail(n, runbook.Diag(n.ID(), "unknown command type", "%v", err))
	}

	// Optional guard hooked into the Check phase: a false pre_condition
	// blocks the action before anything irreversible happens.
	if pre, ok := inputs.Get("pre_condition"); ok {
		met, err := inputs.Bool("pre_condition")
		if err != nil {
			return e.fail(n, runbook.Diag(n.ID(), "invalid pre_condition", "%v", err))
		}
		if !met {
			return e.block(n, runbook.Diag(n.ID(), "pre_condition not met", "guard evaluated to %s", pre.GoString()))
		}
	}

	check, err := impl.CheckExecutability(ctx, inputs, e.ec)
	if err != nil {
		return e.fail(n, runbook.Diag(n.ID(), "executability check failed", "%v", err))
	}
	if !check.Ready {
		return e.block(n, check.Blocked)
	}
	n.SetStatus(runbook.StatusReady)
	logger.Debug("Executability check passed.")

	var handle runbook.SignerHandle
	if impl.RequiresSignature() {
		signerID, ok := signerRef(n.Construct)
		if !ok {
			return e.fail(n, runbook.Diag(n.ID(), "missing signer", "action requires a `signer` reference"))
		}
		inst, ok := e.signers.Get(signerID)
		if !ok {
			return e.fail(n, runbook.Diag(n.ID(), "unknown signer", "no instance for %s", signerID))
		}
		handle = signing.NewHandle(inst, n.ID(), func() {
			n.SetStatus(runbook.StatusExecuting)
		})
		n.SetStatus(runbook.StatusAwaitingApproval)
	} else {
		n.SetStatus(runbook.StatusExecuting)
	}

	outcome, err := e.executeWithRetry(ctx, n, impl, inputs, handle)
	if err != nil {
		var rejected *runbook.SigningRejectedError
		if errors.As(err, &rejected) {
			return e.fail(n, runbook.Diag(n.ID(), "signing rejected", "%s declined: %s", rejected.Signer, rejected.Reason))
		}
		return e.fail(n, runbook.Diag(n.ID(), "execution failed", "%v", err))
	}
	logger.Debug("Execution complete.")

	outputs := outcome.Outputs
	if outputs == cty.NilVal {
		outputs = cty.EmptyObjectVal
	}

	if err := e.awaitConfirmations(ctx, n, impl, outcome); err != nil {
		var timeout *runbook.ConfirmationTimeoutError
		if errors.As(err, &timeout) {
			// The operation itself succeeded, so its outputs (tx hash,
			// confirmation handle) stay on the failed result for a later run
			// to resume polling from.
			res := runbook.FailureWithValue(runbook.Diag(n.ID(), "confirmation timeout",
				"%d of %d confirmations before deadline; outputs preserved for resumed polling",
				timeout.Confirmed, timeout.Required), outputs)
			n.Fail(res)
			return res
		}
		return e.fail(n, runbook.Diag(n.ID(), "confirmation polling failed", "%v", err))
	}

	res := runbook.Success(outputs)
	n.Complete(outputs, res)
	return res
}

// executeWithRetry runs the Execute phase, retrying retryable execution
// errors with bounded exponential backoff. Fatal errors short-circuit.
func (e *Evaluator) executeWithRetry(ctx context.Context, n *graph.Node, impl runbook.Action, inputs *runbook.Inputs, handle runbook.SignerHandle) (*runbook.ExecutionOutcome, error) {
	var outcome *runbook.ExecutionOutcome

	op := func() error {
		out, err := impl.RunSignedExecution(ctx, inputs, handle, e.ec)
		if err != nil {
			var execErr *runbook.ExecutionError
			if errors.As(err, &execErr) && execErr.Retryable {
				ctxlog.FromContext(ctx).Warn("Retryable execution error.", "construct", n.ID(), "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		outcome = out
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retry.InitialInterval
	bo.MaxInterval = e.retry.MaxInterval

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, e.retry.MaxRetries), ctx)); err != nil {
		return nil, err
	}
	return outcome, nil
}

// awaitConfirmations polls the action's confirmation count until the declared
// threshold, an error, or the confirmation deadline.
func (e *Evaluator) awaitConfirmations(ctx context.Context, n *graph.Node, impl runbook.Action, outcome *runbook.ExecutionOutcome) error {
	poller, ok := impl.(runbook.ConfirmationPoller)
	if !ok || outcome.ConfirmationHandle == cty.NilVal || poller.RequiredConfirmations() <= 0 {
		return nil
	}
	required := poller.RequiredConfirmations()
	logger := ctxlog.FromContext(ctx)

	pollCtx := ctx
	if e.confirm.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, e.confirm.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(e.confirm.Interval)
	defer ticker.Stop()

	confirmed := 0
	for {
		count, err := poller.PollConfirmations(pollCtx, outcome.ConfirmationHandle)
		if err != nil {
			var execErr *runbook.ExecutionError
			if errors.As(err, &execErr) && execErr.Retryable {
				logger.Warn("Transient confirmation poll error.", "construct", n.ID(), "error", err)
			} else {
				return fmt.Errorf("polling confirmations for %s: %w", n.ID(), err)
			}
		} else {
			confirmed = count
			logger.Debug("Confirmation poll.", "construct", n.ID(), "confirmed", confirmed, "required", required)
			if confirmed >= required {
				return nil
			}
		}

		select {
		case <-ticker.C:
		case <-pollCtx.Done():
			return &runbook.ConfirmationTimeoutError{Construct: n.ID(), Confirmed: confirmed, Required: required}
		}
	}
}

func (e *Evaluator) fail(n *graph.Node, d *runbook.Diagnostic) runbook.Result {
	res := runbook.Failure(d)
	n.Fail(res)
	return res
}

// block records a Check-phase rejection: the node keeps StatusBlocked for
// reporting while the result is terminal Failed, so containment treats it
// like any other failure.
func (e *Evaluator) block(n *graph.Node, d *runbook.Diagnostic) runbook.Result {
	if d == nil {
		d = runbook.Diag(n.ID(), "blocked", "feasibility check rejected inputs")
	}
	res := runbook.Failure(d)
	n.Block(res)
	return res
}
