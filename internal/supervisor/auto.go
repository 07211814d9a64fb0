package supervisor

import (
	"context"

	"github.com/txtx/runbook/internal/ctxlog"
)

// Auto resolves every approval request immediately with a fixed policy. Used
// for unattended runs and tests.
type Auto struct {
	// Approve decides the resolution; when false every request is rejected
	// with Reason.
	Approve bool
	Reason  string
}

// NewAutoApprover returns a supervisor that approves everything.
func NewAutoApprover() *Auto { return &Auto{Approve: true} }

// NewAutoRejecter returns a supervisor that rejects everything.
func NewAutoRejecter(reason string) *Auto { return &Auto{Approve: false, Reason: reason} }

// RequestApproval implements Supervisor.
func (a *Auto) RequestApproval(ctx context.Context, req *Request) (<-chan Resolution, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Auto-resolving approval request.",
		"request_id", req.ID, "signer", req.Signer, "approved", a.Approve)

	ch := make(chan Resolution, 1)
	ch <- Resolution{Approved: a.Approve, Approver: "auto", Reason: a.Reason}
	close(ch)
	return ch, nil
}

// Notify implements Supervisor. Unattended runs have no front-end to tell.
func (a *Auto) Notify(ev Event) {}

// Events implements Supervisor. The nil stream never yields.
func (a *Auto) Events() <-chan Event { return nil }
