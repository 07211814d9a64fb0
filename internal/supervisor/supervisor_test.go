package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuto_Approves(t *testing.T) {
	t.Parallel()

	req := NewRequest("run-1", "action.transfer", "signer.ops", "Sign for action.transfer", "", []byte("payload"))
	require.NotEmpty(t, req.ID)

	resCh, err := NewAutoApprover().RequestApproval(context.Background(), req)
	require.NoError(t, err)

	res := <-resCh
	assert.True(t, res.Approved)
	assert.Equal(t, "auto", res.Approver)
}

func TestAuto_Rejects(t *testing.T) {
	t.Parallel()

	resCh, err := NewAutoRejecter("policy says no").
		RequestApproval(context.Background(), NewRequest("run-1", "action.a", "signer.s", "t", "", nil))
	require.NoError(t, err)

	res := <-resCh
	assert.False(t, res.Approved)
	assert.Equal(t, "policy says no", res.Reason)
}

func TestHub_ResolveRoundtrip(t *testing.T) {
	t.Parallel()

	hub := NewHub(4)
	defer hub.Close()

	req := NewRequest("run-1", "action.a", "signer.s", "t", "", nil)
	resCh, err := hub.RequestApproval(context.Background(), req)
	require.NoError(t, err)

	// The front-end sees the request and resolves it by ID.
	published := <-hub.Requests()
	assert.Equal(t, req.ID, published.ID)
	hub.Resolve(published.ID, Resolution{Approved: true, Approver: "alice"})

	select {
	case res := <-resCh:
		assert.True(t, res.Approved)
		assert.Equal(t, "alice", res.Approver)
	case <-time.After(time.Second):
		t.Fatal("resolution not delivered")
	}
}

func TestHub_LateResolveIgnored(t *testing.T) {
	t.Parallel()

	hub := NewHub(1)
	defer hub.Close()

	// Resolving an unknown request must not panic or block.
	hub.Resolve("no-such-request", Resolution{Approved: true})

	req := NewRequest("run-1", "action.a", "signer.s", "t", "", nil)
	resCh, err := hub.RequestApproval(context.Background(), req)
	require.NoError(t, err)

	hub.Resolve(req.ID, Resolution{Approved: false, Reason: "declined"})
	res := <-resCh
	assert.False(t, res.Approved)

	// A second resolve for the same request is dropped.
	hub.Resolve(req.ID, Resolution{Approved: true})
}

func TestHub_ClosedRejectsRequests(t *testing.T) {
	t.Parallel()

	hub := NewHub(1)
	hub.Close()

	_, err := hub.RequestApproval(context.Background(), NewRequest("run-1", "action.a", "signer.s", "t", "", nil))
	assert.Error(t, err)
}

func TestHub_CancelledContext(t *testing.T) {
	t.Parallel()

	hub := NewHub(1)
	defer hub.Close()

	// Fill the request buffer so the next publish would block.
	_, err := hub.RequestApproval(context.Background(), NewRequest("run-1", "action.a", "signer.s", "t", "", nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = hub.RequestApproval(ctx, NewRequest("run-1", "action.b", "signer.s", "t", "", nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHub_EventStream(t *testing.T) {
	t.Parallel()

	hub := NewHub(4)
	hub.Notify(Event{Kind: EventRunStarted, RunID: "run-1"})
	hub.Notify(Event{Kind: EventConstructTransition, RunID: "run-1", Construct: "action.a"})

	ev := <-hub.Events()
	assert.Equal(t, EventRunStarted, ev.Kind)
	assert.Equal(t, "run-1", ev.RunID)

	ev = <-hub.Events()
	assert.Equal(t, EventConstructTransition, ev.Kind)
	assert.Equal(t, "action.a", ev.Construct.String())
}

func TestHub_NotifyNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := NewHub(1)
	for i := 0; i < 10; i++ {
		hub.Notify(Event{Kind: EventConstructTransition, RunID: "run-1"})
	}

	// One event buffered, the rest dropped.
	<-hub.Events()
	select {
	case <-hub.Events():
		t.Fatal("expected overflow events to be dropped")
	default:
	}
}

func TestHub_NotifyAfterClose(t *testing.T) {
	t.Parallel()

	hub := NewHub(2)
	hub.Close()
	hub.Notify(Event{Kind: EventRunFinished, RunID: "run-1"})

	_, open := <-hub.Events()
	assert.False(t, open)
}

func TestAuto_NoEventStream(t *testing.T) {
	t.Parallel()

	sup := NewAutoApprover()
	sup.Notify(Event{Kind: EventRunStarted, RunID: "run-1"})
	assert.Nil(t, sup.Events())
}
