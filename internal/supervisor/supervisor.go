// Package supervisor defines the approval channel between the engine and an
// external approval front-end. The front-end itself (terminal prompt, web
// console) lives outside the engine; the engine only emits approval requests
// and consumes resolutions.
package supervisor

import (
	"context"

	"github.com/google/uuid"
	"github.com/txtx/runbook/internal/runbook"
)

// Request is one outbound "approval requested" event: a human-readable
// description plus the payload to be authorized.
type Request struct {
	ID          string
	RunID       string
	Construct   runbook.ConstructID
	Signer      runbook.ConstructID
	Title       string
	Description string
	Payload     []byte
}

// NewRequest assembles a request with a fresh identifier.
func NewRequest(runID string, construct, signer runbook.ConstructID, title, description string, payload []byte) *Request {
	return &Request{
		ID:          uuid.NewString(),
		RunID:       runID,
		Construct:   construct,
		Signer:      signer,
		Title:       title,
		Description: description,
		Payload:     payload,
	}
}

// Resolution is the inbound "approval resolved" event.
type Resolution struct {
	Approved bool
	Approver string
	Reason   string
}

// EventKind classifies outbound run events.
type EventKind int

const (
	EventRunStarted EventKind = iota
	EventConstructTransition
	EventRunFinished
)

func (k EventKind) String() string {
	switch k {
	case EventRunStarted:
		return "run_started"
	case EventConstructTransition:
		return "construct_transition"
	case EventRunFinished:
		return "run_finished"
	default:
		return "unknown"
	}
}

// Event is one outbound run lifecycle notification: run started or finished,
// or a construct reaching a recorded status.
type Event struct {
	Kind      EventKind
	RunID     string
	Construct runbook.ConstructID // set for construct transitions
	Status    runbook.Status      // set for construct transitions
	// Successful is set on run-finished events.
	Successful bool
}

// Supervisor mediates human authorization of signing requests. RequestApproval
// must not block: it registers the request and returns a channel that yields
// exactly one Resolution. The engine selects on that channel together with
// its context and approval deadline, and tolerates (discards) resolutions
// arriving after it stopped listening.
type Supervisor interface {
	RequestApproval(ctx context.Context, req *Request) (<-chan Resolution, error)

	// Notify publishes a run lifecycle event. It must never block the run;
	// implementations drop events no front-end consumes in time.
	Notify(ev Event)

	// Events exposes the outbound event stream for a front-end. A supervisor
	// with no attached front-end returns nil.
	Events() <-chan Event
}
