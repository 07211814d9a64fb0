// Package scheduler dispatches constructs for evaluation in dependency
// order: a pool of workers consumes a ready channel, completion events unlock
// dependents, and failures skip every transitive dependent without touching
// unrelated branches.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/txtx/runbook/internal/ctxlog"
	"github.com/txtx/runbook/internal/graph"
	"github.com/txtx/runbook/internal/runbook"
)

// DefaultWorkers is the worker pool size when the caller does not choose one.
const DefaultWorkers = 8

// EvaluateFunc evaluates one construct to a terminal result, updating the
// node's status and output in place.
type EvaluateFunc func(ctx context.Context, n *graph.Node) runbook.Result

// RecordFunc persists one construct's terminal result. Persistence failures
// must not stall the run; implementations log and carry on.
type RecordFunc func(ctx context.Context, id runbook.ConstructID, res runbook.Result)

// Scheduler owns dispatch for one run. Construct statuses and results are
// mutated only from scheduler workers, which is the single-writer discipline
// the graph's state relies on.
type Scheduler struct {
	graph    *graph.Graph
	workers  int
	evaluate EvaluateFunc
	record   RecordFunc
}

// New creates a scheduler over a built graph.
func New(g *graph.Graph, workers int, evaluate EvaluateFunc, record RecordFunc) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if record == nil {
		record = func(context.Context, runbook.ConstructID, runbook.Result) {}
	}
	return &Scheduler{graph: g, workers: workers, evaluate: evaluate, record: record}
}

// Run dispatches until every construct is terminal or the context is
// cancelled. Nodes already terminal at entry (seeded by resume) are treated
// as settled: Completed ones unlock dependents, Failed and Skipped ones skip
// theirs.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	var wg sync.WaitGroup
	pending := 0
	for _, n := range s.graph.Nodes {
		if !n.Status().Terminal() {
			pending++
		}
	}
	wg.Add(pending)
	logger.Debug("Scheduler starting.", "pending", pending, "total", s.graph.Len(), "workers", s.workers)

	// Buffered for the whole graph so completion events never block a worker.
	readyChan := make(chan *graph.Node, s.graph.Len())

	// Settle resume seeds, then compute the initial frontier from unmet
	// dependency counts.
	for _, id := range s.graph.SortedIDs() {
		n := s.graph.Nodes[id]
		switch n.Status() {
		case runbook.StatusFailed, runbook.StatusSkipped:
			s.skipDependents(ctx, n, &wg)
		}
	}
	for _, id := range s.graph.SortedIDs() {
		n := s.graph.Nodes[id]
		if n.Status().Terminal() {
			continue
		}
		unmet := int32(0)
		for _, dep := range n.Deps {
			if dep.Status() != runbook.StatusCompleted {
				unmet++
			}
		}
		n.SetInitialDepCount(unmet)
		if unmet == 0 {
			readyChan <- n
		}
	}

	for i := 0; i < s.workers; i++ {
		go s.worker(ctx, readyChan, &wg, i)
	}

	wg.Wait()
	close(readyChan)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled: %w", err)
	}
	return nil
}

// worker is the processing loop for one concurrent worker.
func (s *Scheduler) worker(ctx context.Context, readyChan chan *graph.Node, wg *sync.WaitGroup, workerID int) {
	logger := ctxlog.FromContext(ctx).With("worker", workerID)

	for n := range readyChan {
		// A node skipped after being enqueued (raced by a failing upstream)
		// already settled its accounting.
		if n.Status().Terminal() {
			continue
		}

		if ctx.Err() != nil {
			if n.Skip("run cancelled") {
				s.record(ctx, n.ID(), n.Result())
				s.skipDependents(ctx, n, wg)
				wg.Done()
			}
			continue
		}

		logger.Debug("Dispatching construct.", "construct", n.ID())
		res := s.evaluate(ctx, n)
		s.record(ctx, n.ID(), res)

		if res.Code == runbook.ResultSuccess {
			logger.Debug("Construct completed.", "construct", n.ID())
			for _, dependent := range n.Dependents {
				if dependent.DecrementDepCount() == 0 && !dependent.Status().Terminal() {
					readyChan <- dependent
				}
			}
		} else {
			logger.Debug("Construct did not complete.", "construct", n.ID(), "result", res.Code)
			s.skipDependents(ctx, n, wg)
		}
		wg.Done()
	}
}

// skipDependents marks every transitive dependent of n Skipped, exactly once
// each, and records the skip. This is the partial-failure containment
// guarantee: the subtree dies, unrelated branches keep running.
func (s *Scheduler) skipDependents(ctx context.Context, n *graph.Node, wg *sync.WaitGroup) {
	logger := ctxlog.FromContext(ctx)
	reason := fmt.Sprintf("upstream failure: %s", n.ID())
	if n.Status() == runbook.StatusSkipped {
		reason = fmt.Sprintf("upstream skipped: %s", n.ID())
	}

	for _, dependent := range s.graph.TransitiveDependents(n.ID()) {
		if dependent.Skip(reason) {
			logger.Debug("Skipping dependent construct.", "construct", dependent.ID(), "reason", reason)
			s.record(ctx, dependent.ID(), dependent.Result())
			wg.Done()
		}
	}
}
