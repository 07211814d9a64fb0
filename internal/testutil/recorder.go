// Package testutil provides a mock chain addon and helpers shared by the
// engine, scheduler, and evaluator tests. The addon simulates chain behavior
// in-process: deterministic signing, injectable failures, and confirmation
// counts that advance per poll.
package testutil

import (
	"sync"
	"time"
)

// ExecutionRecord captures when one construct executed, for overlap checks in
// concurrency tests.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// Recorder collects execution events from mock implementations. Safe for
// concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []string
	times  map[string]*ExecutionRecord
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{times: make(map[string]*ExecutionRecord)}
}

// Record appends one event.
func (r *Recorder) Record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// RecordSpan stores the execution window for an identifier.
func (r *Recorder) RecordSpan(id string, start, end time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times[id] = &ExecutionRecord{Start: start, End: end}
}

// Events returns a copy of the recorded events in order.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// Span returns the execution window recorded for an identifier.
func (r *Recorder) Span(id string) (*ExecutionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.times[id]
	return rec, ok
}

// Overlaps reports whether two recorded execution windows intersect.
func (r *Recorder) Overlaps(a, b string) bool {
	ra, okA := r.Span(a)
	rb, okB := r.Span(b)
	if !okA || !okB {
		return false
	}
	return ra.Start.Before(rb.End) && rb.Start.Before(ra.End)
}

// IndexOf returns the position of the first event equal to s, or -1.
func (r *Recorder) IndexOf(s string) int {
	for i, e := range r.Events() {
		if e == s {
			return i
		}
	}
	return -1
}
