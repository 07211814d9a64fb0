package supervisor

import (
	"context"
	"fmt"
	"sync"
)

// Hub is a caller-driven supervisor: pending requests are published on the
// Requests channel and the front-end resolves them by ID. A late Resolve
// against a request the engine already abandoned is accepted and dropped.
type Hub struct {
	mu       sync.Mutex
	pending  map[string]chan Resolution
	requests chan *Request
	events   chan Event
	closed   bool
}

// NewHub creates a hub with buffered request and event streams.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		pending:  make(map[string]chan Resolution),
		requests: make(chan *Request, buffer),
		events:   make(chan Event, buffer),
	}
}

// Requests exposes the outbound approval request stream for a front-end.
func (h *Hub) Requests() <-chan *Request { return h.requests }

// RequestApproval implements Supervisor.
func (h *Hub) RequestApproval(ctx context.Context, req *Request) (<-chan Resolution, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("supervisor hub closed")
	}
	ch := make(chan Resolution, 1)
	h.pending[req.ID] = ch
	h.mu.Unlock()

	select {
	case h.requests <- req:
	case <-ctx.Done():
		h.mu.Lock()
		delete(h.pending, req.ID)
		h.mu.Unlock()
		return nil, ctx.Err()
	}
	return ch, nil
}

// Resolve delivers a resolution for a pending request. Unknown IDs (already
// resolved, or abandoned by the engine) are ignored.
func (h *Hub) Resolve(requestID string, res Resolution) {
	h.mu.Lock()
	ch, ok := h.pending[requestID]
	if ok {
		delete(h.pending, requestID)
	}
	h.mu.Unlock()
	if ok {
		ch <- res
		close(ch)
	}
}

// Notify implements Supervisor. Events are dropped rather than blocking the
// run when the front-end falls behind or the hub is closed.
func (h *Hub) Notify(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.events <- ev:
	default:
	}
}

// Events exposes the outbound run event stream for a front-end.
func (h *Hub) Events() <-chan Event { return h.events }

// Close shuts the request and event streams down. Pending requests stay
// unresolved; the engine times them out through its own deadline.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.requests)
		close(h.events)
	}
}
