package runbook

import (
	"context"

	"github.com/zclconf/go-cty/cty"
)

// ExecContext is the per-run state handed to every capability call: the run
// identifier and the resolved environment inputs. It is created at run start
// and discarded at run end; a resumed run builds a fresh one.
type ExecContext struct {
	RunID string
	Env   map[string]cty.Value
}

// CheckResult is the outcome of a side-effect-free feasibility probe: either
// Ready, optionally carrying derived metadata (computed addresses, public key
// material), or Blocked with a diagnostic.
type CheckResult struct {
	Ready    bool
	Metadata cty.Value
	Blocked  *Diagnostic
}

// ReadyResult marks a probe as feasible, with optional derived metadata.
func ReadyResult(metadata cty.Value) *CheckResult {
	return &CheckResult{Ready: true, Metadata: metadata}
}

// BlockedResult marks a probe as infeasible with the reason.
func BlockedResult(d *Diagnostic) *CheckResult {
	return &CheckResult{Ready: false, Blocked: d}
}

// ExecutionOutcome is the successful product of an Execute phase.
type ExecutionOutcome struct {
	// Outputs is an object value whose attributes become addressable by
	// downstream constructs as action.<name>.<field>.
	Outputs cty.Value
	// ConfirmationHandle, when non-nil, identifies the executed operation for
	// confirmation polling (e.g. a transaction hash).
	ConfirmationHandle cty.Value
}

// Signature is the product of an authorized signing request.
type Signature struct {
	Signer  ConstructID
	Payload []byte
	Bytes   []byte
	// Parts holds the child signatures for composite signers.
	Parts []*Signature
}

// SignerHandle is what an action receives to authorize its operation. The
// engine owns the handle; all signing requests against the same underlying
// signer instance are serialized in submission order.
type SignerHandle interface {
	// ID returns the address of the signer construct behind the handle.
	ID() ConstructID
	// PublicMaterial returns the signer's activated public identity.
	PublicMaterial() cty.Value
	// Sign requests authorization for payload. The call suspends until the
	// approval channel resolves, the context is cancelled, or the approval
	// deadline elapses. A human decline surfaces as *SigningRejectedError.
	Sign(ctx context.Context, payload []byte, description string) (*Signature, error)
}

// Action is the capability contract implemented by domain addons for
// side-effecting operations. The engine holds only this interface, never
// concrete domain types.
type Action interface {
	// RequiresSignature reports whether RunSignedExecution needs a signer
	// handle. Unsigned actions receive a nil handle.
	RequiresSignature() bool

	// CheckExecutability probes feasibility. It may perform read-only network
	// calls (balance checks, simulation) but must not produce any externally
	// observable side effect.
	CheckExecutability(ctx context.Context, in *Inputs, ec *ExecContext) (*CheckResult, error)

	// RunSignedExecution performs the side-effecting operation, requesting
	// authorization through the signer handle as needed.
	RunSignedExecution(ctx context.Context, in *Inputs, signer SignerHandle, ec *ExecContext) (*ExecutionOutcome, error)
}

// ConfirmationPoller is an optional Action capability. When implemented and
// the outcome carries a confirmation handle, the engine polls until the
// required count is reached or the confirmation deadline elapses.
type ConfirmationPoller interface {
	RequiredConfirmations() int
	PollConfirmations(ctx context.Context, handle cty.Value) (int, error)
}

// Approval is the resolved authorization handed to a signer implementation
// once the approval channel has granted a signing request.
type Approval struct {
	RequestID string
	Approver  string
}

// Signer is the capability contract implemented by domain addons for
// cryptographic identities. Composite (multisig) behavior is provided by the
// engine's signing instances, not by implementations.
type Signer interface {
	// CheckActivability probes whether the signer can establish its identity,
	// without side effects. Ready metadata carries tentative public material.
	CheckActivability(ctx context.Context, in *Inputs, ec *ExecContext) (*CheckResult, error)

	// Activate derives or verifies the signer's public identity and returns
	// its public material (e.g. an address) as an object value.
	Activate(ctx context.Context, in *Inputs, ec *ExecContext) (cty.Value, error)

	// Sign produces a signature over payload. It is invoked only after the
	// approval channel granted the request; approval identifies the grant.
	Sign(ctx context.Context, payload []byte, approval *Approval) (*Signature, error)
}

// SignerFactory builds a fresh Signer implementation per signer construct.
// Registered by addons keyed by command type.
type SignerFactory func() Signer
