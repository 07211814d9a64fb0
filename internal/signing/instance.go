package signing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/txtx/runbook/internal/ctxlog"
	"github.com/txtx/runbook/internal/runbook"
	"github.com/txtx/runbook/internal/supervisor"
	"github.com/zclconf/go-cty/cty"
)

// DefaultApprovalTimeout bounds how long a signing request may stay
// suspended awaiting a human. Zero disables the bound.
const DefaultApprovalTimeout = 0 * time.Second

// Instance wraps one signer construct for the duration of a run: either a
// leaf backed by a registered implementation, or a composite owning child
// instances. All signing requests against one instance are serialized in
// submission order, so one signing identity is never used concurrently.
type Instance struct {
	id       runbook.ConstructID
	impl     runbook.Signer // nil for composites
	children []*Instance
	policy   Policy

	sup             supervisor.Supervisor
	runID           string
	approvalTimeout time.Duration

	// signMu serializes Sign calls against this identity.
	signMu sync.Mutex
	status atomic.Int32

	mu     sync.Mutex
	public cty.Value
}

// NewInstance builds a leaf instance around a registered implementation.
func NewInstance(id runbook.ConstructID, impl runbook.Signer, sup supervisor.Supervisor, runID string, approvalTimeout time.Duration) *Instance {
	return &Instance{
		id:              id,
		impl:            impl,
		sup:             sup,
		runID:           runID,
		approvalTimeout: approvalTimeout,
	}
}

// NewComposite builds a composite instance delegating to children under a
// quorum policy.
func NewComposite(id runbook.ConstructID, children []*Instance, policy Policy, sup supervisor.Supervisor, runID string, approvalTimeout time.Duration) *Instance {
	return &Instance{
		id:              id,
		children:        children,
		policy:          policy,
		sup:             sup,
		runID:           runID,
		approvalTimeout: approvalTimeout,
	}
}

// ID returns the signer construct's address.
func (s *Instance) ID() runbook.ConstructID { return s.id }

// IsComposite reports whether the instance delegates to children.
func (s *Instance) IsComposite() bool { return len(s.children) > 0 }

// Children returns the child instances of a composite.
func (s *Instance) Children() []*Instance { return s.children }

// Status atomically reads the instance state.
func (s *Instance) Status() Status { return Status(s.status.Load()) }

func (s *Instance) setStatus(st Status) { s.status.Store(int32(st)) }

// PublicMaterial returns the activated public identity, or NilVal before
// activation.
func (s *Instance) PublicMaterial() cty.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.public
}

// CheckActivability probes whether the instance can establish its identity,
// without side effects. For composites every child must already be Activated;
// the graph guarantees children evaluate first, so an unactivated child here
// means its own evaluation was blocked.
func (s *Instance) CheckActivability(ctx context.Context, in *runbook.Inputs, ec *runbook.ExecContext) (*runbook.CheckResult, error) {
	if !s.IsComposite() {
		return s.impl.CheckActivability(ctx, in, ec)
	}
	for _, child := range s.children {
		if child.Status() != Activated && child.Status() != Signed {
			return runbook.BlockedResult(runbook.Diag(s.id, "child signer not activated",
				"child %q is %s", child.ID(), child.Status())), nil
		}
	}
	return runbook.ReadyResult(cty.NilVal), nil
}

// Activate derives or verifies the signer's public identity. Composite
// activation succeeds only when all children report Activated, combining
// their public material.
func (s *Instance) Activate(ctx context.Context, in *runbook.Inputs, ec *runbook.ExecContext) (cty.Value, error) {
	logger := ctxlog.FromContext(ctx)
	s.setStatus(Activating)

	if !s.IsComposite() {
		public, err := s.impl.Activate(ctx, in, ec)
		if err != nil {
			s.setStatus(Failed)
			return cty.NilVal, &runbook.ActivationError{Signer: s.id, Err: err}
		}
		s.mu.Lock()
		s.public = public
		s.mu.Unlock()
		s.setStatus(Activated)
		logger.Debug("Signer activated.", "signer", s.id)
		return public, nil
	}

	publics := make([]cty.Value, 0, len(s.children))
	for _, child := range s.children {
		if child.Status() != Activated && child.Status() != Signed {
			s.setStatus(Failed)
			return cty.NilVal, &runbook.ActivationError{
				Signer: s.id,
				Err:    fmt.Errorf("child signer %q is %s, not activated", child.ID(), child.Status()),
			}
		}
		publics = append(publics, child.PublicMaterial())
	}

	public := cty.ObjectVal(map[string]cty.Value{
		"signers":  cty.TupleVal(publics),
		"required": cty.NumberIntVal(int64(s.policy.Required(len(s.children)))),
	})
	s.mu.Lock()
	s.public = public
	s.mu.Unlock()
	s.setStatus(Activated)
	logger.Debug("Composite signer activated.", "signer", s.id, "children", len(s.children))
	return public, nil
}

// Sign requests authorization for payload on behalf of construct. The call
// suspends until the supervisor resolves the request, the context is
// cancelled, or the approval deadline elapses. Composite signing fans out to
// every child and aggregates signatures under the quorum policy.
func (s *Instance) Sign(ctx context.Context, construct runbook.ConstructID, payload []byte, description string) (*runbook.Signature, error) {
	s.signMu.Lock()
	defer s.signMu.Unlock()

	if st := s.Status(); st != Activated && st != Signed {
		return nil, &runbook.ExecutionError{
			Construct: construct, Retryable: false,
			Err: fmt.Errorf("signer %q is %s, not activated", s.id, st),
		}
	}
	s.setStatus(Signing)

	var sig *runbook.Signature
	var err error
	if s.IsComposite() {
		sig, err = s.signComposite(ctx, construct, payload, description)
	} else {
		sig, err = s.signLeaf(ctx, construct, payload, description)
	}
	if err != nil {
		var rejected *runbook.SigningRejectedError
		if errors.As(err, &rejected) {
			s.setStatus(Rejected)
		} else {
			s.setStatus(Failed)
		}
		return nil, err
	}
	s.setStatus(Signed)
	return sig, nil
}

// signLeaf issues one approval request and, once granted, asks the
// implementation to produce the signature.
func (s *Instance) signLeaf(ctx context.Context, construct runbook.ConstructID, payload []byte, description string) (*runbook.Signature, error) {
	logger := ctxlog.FromContext(ctx)

	req := supervisor.NewRequest(s.runID, construct, s.id,
		fmt.Sprintf("Sign for %s", construct), description, payload)
	resCh, err := s.sup.RequestApproval(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("requesting approval for %q: %w", s.id, err)
	}

	var deadline <-chan time.Time
	if s.approvalTimeout > 0 {
		t := time.NewTimer(s.approvalTimeout)
		defer t.Stop()
		deadline = t.C
	}

	select {
	case res, ok := <-resCh:
		if !ok {
			return nil, fmt.Errorf("approval channel for %q closed without a resolution", s.id)
		}
		if !res.Approved {
			logger.Info("Signing request rejected.", "signer", s.id, "request_id", req.ID, "reason", res.Reason)
			return nil, &runbook.SigningRejectedError{Signer: s.id, Reason: res.Reason}
		}
		logger.Debug("Signing request approved.", "signer", s.id, "request_id", req.ID, "approver", res.Approver)
		sig, err := s.impl.Sign(ctx, payload, &runbook.Approval{RequestID: req.ID, Approver: res.Approver})
		if err != nil {
			return nil, err
		}
		if sig.Signer == "" {
			sig.Signer = s.id
		}
		return sig, nil

	case <-deadline:
		s.discardLate(ctx, req.ID, resCh)
		return nil, &runbook.SigningRejectedError{Signer: s.id, Reason: "approval deadline elapsed"}

	case <-ctx.Done():
		s.discardLate(ctx, req.ID, resCh)
		return nil, ctx.Err()
	}
}

// discardLate drains a resolution that arrives after the engine stopped
// listening. It is logged and never applied.
func (s *Instance) discardLate(ctx context.Context, requestID string, resCh <-chan supervisor.Resolution) {
	logger := ctxlog.FromContext(ctx)
	go func() {
		if res, ok := <-resCh; ok {
			logger.Warn("Discarding late approval resolution.",
				"signer", s.id, "request_id", requestID, "approved", res.Approved)
		}
	}()
}

// signComposite fans the request out to every child and aggregates the
// signatures. It succeeds only when the quorum is met; a rejection that makes
// the quorum unreachable resolves Rejected.
func (s *Instance) signComposite(ctx context.Context, construct runbook.ConstructID, payload []byte, description string) (*runbook.Signature, error) {
	type childResult struct {
		sig *runbook.Signature
		err error
	}

	results := make(chan childResult, len(s.children))
	for _, child := range s.children {
		go func(child *Instance) {
			sig, err := child.Sign(ctx, construct, payload, description)
			results <- childResult{sig: sig, err: err}
		}(child)
	}

	required := s.policy.Required(len(s.children))
	var parts []*runbook.Signature
	var rejection *runbook.SigningRejectedError
	var firstErr error

	for range s.children {
		res := <-results
		switch {
		case res.err == nil:
			parts = append(parts, res.sig)
		default:
			var rej *runbook.SigningRejectedError
			if errors.As(res.err, &rej) && rejection == nil {
				rejection = rej
			}
			if firstErr == nil {
				firstErr = res.err
			}
		}
	}

	if len(parts) >= required {
		combined := make([]byte, 0)
		for _, p := range parts {
			combined = append(combined, p.Bytes...)
		}
		return &runbook.Signature{
			Signer:  s.id,
			Payload: payload,
			Bytes:   combined,
			Parts:   parts,
		}, nil
	}

	if rejection != nil {
		return nil, &runbook.SigningRejectedError{
			Signer: s.id,
			Reason: fmt.Sprintf("quorum not met (%d of %d required): child %s rejected: %s",
				len(parts), required, rejection.Signer, rejection.Reason),
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, &runbook.SigningRejectedError{
		Signer: s.id,
		Reason: fmt.Sprintf("quorum not met (%d of %d required)", len(parts), required),
	}
}
