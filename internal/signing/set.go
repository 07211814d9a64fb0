package signing

import (
	"context"
	"sync"

	"github.com/txtx/runbook/internal/runbook"
	"github.com/zclconf/go-cty/cty"
)

// Set indexes the signer instances of one run by construct address.
type Set struct {
	mu        sync.RWMutex
	instances map[runbook.ConstructID]*Instance
}

// NewSet creates an empty instance set.
func NewSet() *Set {
	return &Set{instances: make(map[runbook.ConstructID]*Instance)}
}

// Add registers an instance. Later additions for the same address replace the
// earlier one; the engine builds each instance exactly once.
func (s *Set) Add(inst *Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID()] = inst
}

// Get returns the instance for an address, if present.
func (s *Set) Get(id runbook.ConstructID) (*Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	return inst, ok
}

// Handle binds an instance to the action construct requesting signatures and
// is what actions receive as their runbook.SignerHandle. onSigning fires when
// the first signing request is submitted, letting the evaluator surface the
// awaiting-approval to executing transition.
type Handle struct {
	inst      *Instance
	construct runbook.ConstructID
	once      sync.Once
	onSigning func()
}

// NewHandle wraps an instance for one requesting action.
func NewHandle(inst *Instance, construct runbook.ConstructID, onSigning func()) *Handle {
	return &Handle{inst: inst, construct: construct, onSigning: onSigning}
}

// ID implements runbook.SignerHandle.
func (h *Handle) ID() runbook.ConstructID { return h.inst.ID() }

// PublicMaterial implements runbook.SignerHandle.
func (h *Handle) PublicMaterial() cty.Value { return h.inst.PublicMaterial() }

// Sign implements runbook.SignerHandle, delegating to the instance's
// serialized signing path.
func (h *Handle) Sign(ctx context.Context, payload []byte, description string) (*runbook.Signature, error) {
	sig, err := h.inst.Sign(ctx, h.construct, payload, description)
	if h.onSigning != nil {
		h.once.Do(h.onSigning)
	}
	return sig, err
}
