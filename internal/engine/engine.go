// Package engine wires the runbook core together: it builds the dependency
// graph, restores prior progress from the state store, instantiates signer
// instances, and drives the scheduler to a final per-construct report.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/txtx/runbook/internal/ctxlog"
	"github.com/txtx/runbook/internal/eval"
	"github.com/txtx/runbook/internal/graph"
	"github.com/txtx/runbook/internal/registry"
	"github.com/txtx/runbook/internal/runbook"
	"github.com/txtx/runbook/internal/scheduler"
	"github.com/txtx/runbook/internal/state"
	"github.com/txtx/runbook/internal/supervisor"
	"github.com/zclconf/go-cty/cty"
)

// Options configures one run.
type Options struct {
	// RunID identifies the run in the state store. Empty generates a fresh
	// ULID; reusing a previous run's ID resumes it.
	RunID string
	// Env holds the resolved environment input values, addressable in
	// expressions as env.<name>.
	Env map[string]cty.Value
	// Workers sizes the scheduler pool.
	Workers int
	// Rerun lists constructs whose stored results should be discarded before
	// running, along with their transitive dependents.
	Rerun []runbook.ConstructID
	// ApprovalTimeout bounds each signing approval; zero waits indefinitely.
	ApprovalTimeout time.Duration

	Retry         eval.RetryPolicy
	Confirmations eval.ConfirmationPolicy
}

// Engine executes runbooks against a registry of capability implementations,
// a state store, and a supervisor approval channel.
type Engine struct {
	reg   *registry.Registry
	store state.Store
	sup   supervisor.Supervisor
}

// New assembles an engine. A nil store falls back to in-memory state; a nil
// supervisor auto-approves, which is only sensible for tests and dry runs.
func New(reg *registry.Registry, store state.Store, sup supervisor.Supervisor) *Engine {
	if store == nil {
		store = state.NewMemory()
	}
	if sup == nil {
		sup = supervisor.NewAutoApprover()
	}
	return &Engine{reg: reg, store: store, sup: sup}
}

// NewRunID generates a sortable run identifier.
func NewRunID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Run executes the constructs to completion and returns the final report.
// Graph errors abort before any construct is evaluated.
func (e *Engine) Run(ctx context.Context, constructs []*runbook.Construct, opts Options) (*Report, error) {
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}
	if opts.Retry == (eval.RetryPolicy{}) {
		opts.Retry = eval.DefaultRetryPolicy()
	}
	if opts.Confirmations == (eval.ConfirmationPolicy{}) {
		opts.Confirmations = eval.DefaultConfirmationPolicy()
	}
	logger := ctxlog.FromContext(ctx).With("run_id", opts.RunID)
	ctx = ctxlog.WithLogger(ctx, logger)

	g, err := graph.Build(ctx, constructs)
	if err != nil {
		return nil, err
	}

	if err := e.invalidateReruns(ctx, g, opts); err != nil {
		return nil, err
	}
	if err := e.seedFromStore(ctx, g, opts.RunID); err != nil {
		return nil, err
	}

	ec := &runbook.ExecContext{RunID: opts.RunID, Env: opts.Env}
	signers, err := buildSigners(ctx, g, e.reg, e.sup, opts.RunID, opts.ApprovalTimeout)
	if err != nil {
		return nil, err
	}

	ev := eval.New(e.reg, signers, g, ec, opts.Retry, opts.Confirmations)
	sched := scheduler.New(g, opts.Workers, ev.Evaluate, func(ctx context.Context, id runbook.ConstructID, res runbook.Result) {
		if err := e.store.Record(ctx, opts.RunID, id, res); err != nil {
			logger.Error("Failed to persist construct result.", "construct", id, "error", err)
		}
		e.sup.Notify(supervisor.Event{
			Kind: supervisor.EventConstructTransition, RunID: opts.RunID, Construct: id, Status: res.Status(),
		})
	})

	logger.Info("Starting run.", "constructs", g.Len())
	e.sup.Notify(supervisor.Event{Kind: supervisor.EventRunStarted, RunID: opts.RunID})
	runErr := sched.Run(ctx)

	report, err := e.buildReport(ctx, g, opts.RunID)
	if err != nil {
		return nil, err
	}
	e.sup.Notify(supervisor.Event{
		Kind: supervisor.EventRunFinished, RunID: opts.RunID, Successful: runErr == nil && report.Successful(),
	})
	if runErr != nil {
		return report, runErr
	}
	logger.Info("Run finished.", "successful", report.Successful())
	return report, nil
}

// Check runs every construct's feasibility probe in graph order without
// executing anything, surfacing errors before any irreversible action.
func (e *Engine) Check(ctx context.Context, constructs []*runbook.Construct, opts Options) (*Report, error) {
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}
	logger := ctxlog.FromContext(ctx).With("run_id", opts.RunID)
	ctx = ctxlog.WithLogger(ctx, logger)

	g, err := graph.Build(ctx, constructs)
	if err != nil {
		return nil, err
	}

	ec := &runbook.ExecContext{RunID: opts.RunID, Env: opts.Env}
	signers, err := buildSigners(ctx, g, e.reg, e.sup, opts.RunID, opts.ApprovalTimeout)
	if err != nil {
		return nil, err
	}

	ev := eval.New(e.reg, signers, g, ec, eval.DefaultRetryPolicy(), eval.DefaultConfirmationPolicy())
	sched := scheduler.New(g, opts.Workers, ev.EvaluateCheck, func(ctx context.Context, id runbook.ConstructID, res runbook.Result) {
		e.sup.Notify(supervisor.Event{
			Kind: supervisor.EventConstructTransition, RunID: opts.RunID, Construct: id, Status: res.Status(),
		})
	})

	logger.Info("Starting feasibility check.", "constructs", g.Len())
	e.sup.Notify(supervisor.Event{Kind: supervisor.EventRunStarted, RunID: opts.RunID})
	runErr := sched.Run(ctx)
	report, err := e.reportFromGraph(g, opts.RunID, nil)
	if err != nil {
		return nil, err
	}
	e.sup.Notify(supervisor.Event{
		Kind: supervisor.EventRunFinished, RunID: opts.RunID, Successful: runErr == nil && report.Successful(),
	})
	return report, runErr
}

// invalidateReruns clears stored results for targeted re-run constructs and
// their transitive dependents.
func (e *Engine) invalidateReruns(ctx context.Context, g *graph.Graph, opts Options) error {
	for _, target := range opts.Rerun {
		if _, ok := g.Node(target); !ok {
			return fmt.Errorf("re-run target %q is not in this runbook", target)
		}
		if err := e.store.Invalidate(ctx, opts.RunID, target); err != nil {
			return err
		}
		for _, dep := range g.TransitiveDependents(target) {
			if err := e.store.Invalidate(ctx, opts.RunID, dep.ID()); err != nil {
				return err
			}
		}
	}
	return nil
}

// seedFromStore applies prior terminal results so resumed runs never repeat
// completed work. Graph building is deterministic, so stored addresses line
// up with this run's nodes.
func (e *Engine) seedFromStore(ctx context.Context, g *graph.Graph, runID string) error {
	logger := ctxlog.FromContext(ctx)
	prior, err := e.store.Load(ctx, runID)
	if err != nil {
		return err
	}
	for id, rec := range prior {
		n, ok := g.Node(id)
		if !ok || !rec.Result.Terminal() {
			continue
		}
		// Signer constructs always re-activate: their instance state (keys,
		// sessions) lives in this process, and activation has no external
		// side effects to protect.
		if n.Construct.Kind == runbook.KindSigner {
			continue
		}
		switch rec.Result.Code {
		case runbook.ResultSuccess:
			logger.Debug("Restoring completed construct from state.", "construct", id)
			n.Complete(rec.Result.Value, rec.Result)
		case runbook.ResultFailed:
			n.Fail(rec.Result)
		case runbook.ResultSkipped:
			n.Skip(rec.Result.Reason)
		}
	}
	return nil
}

func (e *Engine) buildReport(ctx context.Context, g *graph.Graph, runID string) (*Report, error) {
	records, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	return e.reportFromGraph(g, runID, records)
}

func (e *Engine) reportFromGraph(g *graph.Graph, runID string, records map[runbook.ConstructID]state.Record) (*Report, error) {
	report := &Report{RunID: runID}
	for _, id := range g.SortedIDs() {
		n := g.Nodes[id]
		attempt := 1
		if rec, ok := records[id]; ok && rec.Attempt > 0 {
			attempt = rec.Attempt
		}
		report.Constructs = append(report.Constructs, ConstructReport{
			ID:      id,
			Status:  n.Status(),
			Result:  n.Result(),
			Attempt: attempt,
		})
	}
	return report, nil
}
