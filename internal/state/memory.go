package state

import (
	"context"
	"sync"

	"github.com/txtx/runbook/internal/runbook"
)

// Memory is the ephemeral in-memory store used for local sessions and tests.
// A single mutex guards the nested maps; Record performs a read-modify-write
// for idempotency checking, so finer-grained locking would not simplify it.
type Memory struct {
	mu   sync.Mutex
	runs map[string]map[runbook.ConstructID]Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{runs: make(map[string]map[runbook.ConstructID]Record)}
}

// Record implements Store.
func (m *Memory) Record(ctx context.Context, runID string, id runbook.ConstructID, res runbook.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		run = make(map[runbook.ConstructID]Record)
		m.runs[runID] = run
	}

	existing, ok := run[id]
	if ok && existing.Result.Terminal() {
		if existing.Result.Equivalent(res) {
			return nil // idempotent re-record
		}
		return &ConflictError{RunID: runID, Construct: id, Existing: existing.Result, Proposed: res}
	}

	attempt := existing.Attempt
	if attempt == 0 {
		attempt = 1
	}
	run[id] = Record{Status: res.Status(), Result: res, Attempt: attempt}
	return nil
}

// Load implements Store.
func (m *Memory) Load(ctx context.Context, runID string) (map[runbook.ConstructID]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[runbook.ConstructID]Record, len(m.runs[runID]))
	for id, rec := range m.runs[runID] {
		out[id] = rec
	}
	return out, nil
}

// Invalidate implements Store.
func (m *Memory) Invalidate(ctx context.Context, runID string, id runbook.ConstructID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil
	}
	existing, ok := run[id]
	if !ok {
		return nil
	}
	run[id] = Record{Status: runbook.StatusUnevaluated, Result: runbook.Pending(), Attempt: existing.Attempt + 1}
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
