package runbook

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// Diagnostic is the structured failure payload attached to every terminal
// Failed or Skipped result, so failures are always reachable from the run's
// final report.
type Diagnostic struct {
	Construct ConstructID
	Summary   string
	Detail    string
}

func (d *Diagnostic) String() string {
	if d == nil {
		return ""
	}
	if d.Detail == "" {
		return d.Summary
	}
	return d.Summary + ": " + d.Detail
}

// Diag builds a diagnostic for a construct.
func Diag(id ConstructID, summary string, detailFmt string, args ...any) *Diagnostic {
	return &Diagnostic{Construct: id, Summary: summary, Detail: fmt.Sprintf(detailFmt, args...)}
}

// ResultCode enumerates the outcome families of a construct evaluation.
type ResultCode int

const (
	ResultPending ResultCode = iota
	ResultSuccess
	ResultFailed
	ResultSkipped
)

func (c ResultCode) String() string {
	switch c {
	case ResultPending:
		return "pending"
	case ResultSuccess:
		return "success"
	case ResultFailed:
		return "failed"
	case ResultSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result is the recorded outcome of one construct for one run attempt. It is
// written exactly once per attempt unless the caller explicitly invalidates
// the construct for a targeted re-run.
type Result struct {
	Code       ResultCode
	Value      cty.Value   // set when Code == ResultSuccess, or on failures carrying partial outputs
	Diagnostic *Diagnostic // set when Code == ResultFailed
	Reason     string      // set when Code == ResultSkipped
}

// Pending is the zero, not-yet-evaluated result.
func Pending() Result { return Result{Code: ResultPending, Value: cty.NilVal} }

// Success wraps a construct's output value.
func Success(v cty.Value) Result { return Result{Code: ResultSuccess, Value: v} }

// Failure wraps a terminal failure diagnostic.
func Failure(d *Diagnostic) Result {
	return Result{Code: ResultFailed, Value: cty.NilVal, Diagnostic: d}
}

// FailureWithValue wraps a failure that still produced partial outputs, such
// as an executed operation whose confirmation deadline elapsed. The value is
// persisted so a resumed run can pick polling back up.
func FailureWithValue(d *Diagnostic, v cty.Value) Result {
	return Result{Code: ResultFailed, Value: v, Diagnostic: d}
}

// Skip marks a construct that was never dispatched, with the reason.
func Skip(reason string) Result {
	return Result{Code: ResultSkipped, Value: cty.NilVal, Reason: reason}
}

// Terminal reports whether the result ends the construct's run attempt.
func (r Result) Terminal() bool { return r.Code != ResultPending }

// Status returns the construct status implied by a recorded result.
func (r Result) Status() Status {
	switch r.Code {
	case ResultSuccess:
		return StatusCompleted
	case ResultFailed:
		return StatusFailed
	case ResultSkipped:
		return StatusSkipped
	default:
		return StatusUnevaluated
	}
}

// Equivalent reports whether two results describe the same terminal outcome.
// The state store uses it to treat duplicate records as no-ops.
func (r Result) Equivalent(other Result) bool {
	if r.Code != other.Code {
		return false
	}
	switch r.Code {
	case ResultSuccess:
		if r.Value == cty.NilVal || other.Value == cty.NilVal {
			return r.Value == other.Value
		}
		return r.Value.RawEquals(other.Value)
	case ResultFailed:
		return r.Diagnostic.String() == other.Diagnostic.String()
	case ResultSkipped:
		return r.Reason == other.Reason
	default:
		return true
	}
}
