package engine

import (
	"fmt"
	"io"

	"github.com/txtx/runbook/internal/runbook"
)

// ConstructReport is one construct's final line in the run report.
type ConstructReport struct {
	ID      runbook.ConstructID
	Status  runbook.Status
	Result  runbook.Result
	Attempt int
}

// Report is the run's final account: every construct's terminal status and
// result, with diagnostics reachable for each failure.
type Report struct {
	RunID      string
	Constructs []ConstructReport
}

// Successful reports the overall run status: true only if no construct
// terminated in Failed.
func (r *Report) Successful() bool {
	for _, c := range r.Constructs {
		if c.Result.Code == runbook.ResultFailed {
			return false
		}
	}
	return true
}

// Find returns the report line for a construct.
func (r *Report) Find(id runbook.ConstructID) (ConstructReport, bool) {
	for _, c := range r.Constructs {
		if c.ID == id {
			return c, true
		}
	}
	return ConstructReport{}, false
}

// Write renders the report as an operator-facing table.
func (r *Report) Write(w io.Writer) {
	fmt.Fprintf(w, "run %s\n", r.RunID)
	for _, c := range r.Constructs {
		line := fmt.Sprintf("  %-40s %s", c.ID, c.Status)
		switch c.Result.Code {
		case runbook.ResultFailed:
			line += fmt.Sprintf("  %s", c.Result.Diagnostic)
		case runbook.ResultSkipped:
			line += fmt.Sprintf("  (%s)", c.Result.Reason)
		}
		if c.Attempt > 1 {
			line += fmt.Sprintf("  [attempt %d]", c.Attempt)
		}
		fmt.Fprintln(w, line)
	}
	status := "success"
	if !r.Successful() {
		status = "failure"
	}
	fmt.Fprintf(w, "result: %s\n", status)
}
