package runbook

// Status is the lifecycle state of a construct within one run attempt.
//
// The legal transitions are:
//
//	Unevaluated -> Checking -> (Blocked | Ready)
//	Ready -> AwaitingApproval -> Executing -> (Completed | Failed)
//
// Any non-terminal state may transition to Skipped when an upstream
// dependency fails or the run is cancelled. Completed, Failed and Skipped are
// terminal for the attempt.
type Status int32

const (
	StatusUnevaluated Status = iota
	StatusChecking
	StatusBlocked
	StatusReady
	StatusAwaitingApproval
	StatusExecuting
	StatusCompleted
	StatusFailed
	StatusSkipped
)

// Terminal reports whether the status ends the construct's run attempt.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusUnevaluated:
		return "unevaluated"
	case StatusChecking:
		return "checking"
	case StatusBlocked:
		return "blocked"
	case StatusReady:
		return "ready"
	case StatusAwaitingApproval:
		return "awaiting_approval"
	case StatusExecuting:
		return "executing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ParseStatus maps a persisted status label back to its value. Unknown labels
// yield StatusUnevaluated so stale state never poisons a resume.
func ParseStatus(s string) Status {
	for st := StatusUnevaluated; st <= StatusSkipped; st++ {
		if st.String() == s {
			return st
		}
	}
	return StatusUnevaluated
}
