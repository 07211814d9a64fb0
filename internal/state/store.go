// Package state persists per-construct execution results so interrupted runs
// can resume without repeating irreversible steps.
package state

import (
	"context"
	"fmt"

	"github.com/txtx/runbook/internal/runbook"
)

// Record is the persisted slice of one construct within one run: its
// terminal (or pending) result and a monotonically increasing attempt
// counter, incremented each time the construct is invalidated for re-run.
type Record struct {
	Status  runbook.Status
	Result  runbook.Result
	Attempt int
}

// ConflictError reports an attempt to overwrite a terminal result with a
// different terminal result without an explicit invalidation.
type ConflictError struct {
	RunID     string
	Construct runbook.ConstructID
	Existing  runbook.Result
	Proposed  runbook.Result
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("state conflict for %s in run %s: recorded %s, proposed %s",
		e.Construct, e.RunID, e.Existing.Code, e.Proposed.Code)
}

// Store persists execution results. Record is append-only per run attempt and
// idempotent: re-recording an identical terminal result is a no-op, while a
// conflicting terminal result is a ConflictError. Implementations must accept
// concurrent Record calls from parallel construct evaluations without losing
// writes.
type Store interface {
	// Record writes a construct's result for a run.
	Record(ctx context.Context, runID string, id runbook.ConstructID, res runbook.Result) error

	// Load reconstructs prior progress for a run.
	Load(ctx context.Context, runID string) (map[runbook.ConstructID]Record, error)

	// Invalidate clears a construct's stored result so it can be re-run,
	// bumping its attempt counter. Unknown constructs are a no-op.
	Invalidate(ctx context.Context, runID string, id runbook.ConstructID) error

	// Close releases underlying resources.
	Close() error
}
