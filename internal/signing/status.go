// Package signing manages signer instances: activation, composite
// (multisig) delegation, and interactive signing approval through the
// supervisor channel.
package signing

// Status is the signer instance state machine. Rejected and Failed are
// terminal error states, reachable from Activating or Signing.
type Status int32

const (
	Unactivated Status = iota
	Activating
	Activated
	Signing
	Signed
	Rejected
	Failed
)

func (s Status) String() string {
	switch s {
	case Unactivated:
		return "unactivated"
	case Activating:
		return "activating"
	case Activated:
		return "activated"
	case Signing:
		return "signing"
	case Signed:
		return "signed"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Policy is the quorum rule for a composite signer.
type Policy struct {
	// Threshold is the number of child signatures required. Zero (or a value
	// above the child count) means all children, i.e. N-of-N.
	Threshold int
}

// AllOf is the N-of-N policy.
func AllOf() Policy { return Policy{} }

// Threshold is the k-of-M policy.
func Threshold(k int) Policy { return Policy{Threshold: k} }

// Required resolves the policy against a concrete child count.
func (p Policy) Required(children int) int {
	if p.Threshold <= 0 || p.Threshold > children {
		return children
	}
	return p.Threshold
}
