package runbook

import (
	"fmt"
	"strings"
)

// GraphErrorKind distinguishes the fatal pre-evaluation graph failures.
type GraphErrorKind int

const (
	// GraphCycle marks a circular dependency between constructs.
	GraphCycle GraphErrorKind = iota
	// GraphUnresolvedRef marks a reference to a construct that does not exist.
	GraphUnresolvedRef
)

// GraphError aborts a run before any construct reaches Checking. No partial
// graph is ever returned alongside one.
type GraphError struct {
	Kind GraphErrorKind
	// Cycle holds the full cycle path for GraphCycle, in traversal order.
	Cycle []ConstructID
	// Construct and Ref identify the offending reference for GraphUnresolvedRef.
	Construct ConstructID
	Ref       string
}

func (e *GraphError) Error() string {
	switch e.Kind {
	case GraphCycle:
		parts := make([]string, len(e.Cycle))
		for i, id := range e.Cycle {
			parts[i] = id.String()
		}
		return fmt.Sprintf("dependency cycle: %s", strings.Join(parts, " -> "))
	case GraphUnresolvedRef:
		return fmt.Sprintf("construct %q references unknown construct %q", e.Construct, e.Ref)
	default:
		return "invalid dependency graph"
	}
}

// ActivationError reports a signer that could not establish its identity.
// Fatal for the signer and its dependents, non-fatal for unrelated branches.
type ActivationError struct {
	Signer ConstructID
	Err    error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("signer %q failed to activate: %v", e.Signer, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// CheckError reports a feasibility probe that rejected a construct's inputs.
type CheckError struct {
	Construct ConstructID
	Diag      *Diagnostic
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("construct %q is not executable: %s", e.Construct, e.Diag)
}

// SigningRejectedError is the terminal outcome of a signing request declined
// by a human approver or by an insufficient multisig quorum.
type SigningRejectedError struct {
	Signer ConstructID
	Reason string
}

func (e *SigningRejectedError) Error() string {
	return fmt.Sprintf("signing request for %q rejected: %s", e.Signer, e.Reason)
}

// ExecutionError wraps a failure raised inside an Execute phase. The
// implementation classifies it: transient network faults are Retryable and
// retried with bounded backoff, everything else propagates as Failed.
type ExecutionError struct {
	Construct ConstructID
	Retryable bool
	Err       error
}

func (e *ExecutionError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("execution of %q failed (%s): %v", e.Construct, kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// RetryableExecution is a convenience constructor for transient failures.
func RetryableExecution(id ConstructID, err error) *ExecutionError {
	return &ExecutionError{Construct: id, Retryable: true, Err: err}
}

// FatalExecution is a convenience constructor for non-retryable failures.
func FatalExecution(id ConstructID, err error) *ExecutionError {
	return &ExecutionError{Construct: id, Retryable: false, Err: err}
}

// ConfirmationTimeoutError reports an action whose operation was executed but
// whose confirmation threshold was not reached in time. Surfaced distinctly
// from outright failure so operators can resume polling later.
type ConfirmationTimeoutError struct {
	Construct ConstructID
	Confirmed int
	Required  int
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("action %q executed but reached only %d of %d confirmations before the deadline",
		e.Construct, e.Confirmed, e.Required)
}
