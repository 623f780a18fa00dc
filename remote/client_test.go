package remote

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/coredpl/dpl/ledger"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	l := ledger.New(t.TempDir(), "client-participant")
	srv := httptest.NewServer(NewServer(l))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, nil)
}

func TestClientHealth(t *testing.T) {
	c := newTestClient(t)
	id, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if id != "client-participant" {
		t.Fatalf("participantId = %s, want client-participant", id)
	}
}

func TestClientOperationLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	opID, err := c.CreateOperation(ctx, "p1", "a description")
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}
	if opID == "" {
		t.Fatalf("expected a non-empty operationId")
	}

	sessionID, err := c.JoinOperation(ctx, opID, "p2")
	if err != nil {
		t.Fatalf("JoinOperation: %v", err)
	}
	if sessionID == 0 {
		t.Fatalf("expected a non-zero sessionId")
	}

	if err := c.Heartbeat(ctx, opID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	if err := c.Abort(ctx, opID, true); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	state, err := c.State(ctx, opID)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !state.Aborted {
		t.Fatalf("expected Aborted to be true after Abort")
	}
	if state.OperationID != opID {
		t.Fatalf("OperationID = %s, want %s", state.OperationID, opID)
	}

	if err := c.Log(ctx, opID, "info", "hello"); err != nil {
		t.Fatalf("Log: %v", err)
	}

	if err := c.Abort(ctx, opID, false); err != nil {
		t.Fatalf("Abort clear: %v", err)
	}

	callID, err := c.StartCall(ctx, opID, "work", false)
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if callID == "" {
		t.Fatalf("expected a non-empty callId")
	}

	if err := c.EndCall(ctx, opID, callID); err != nil {
		t.Fatalf("EndCall: %v", err)
	}

	if err := c.CompleteOperation(ctx, opID); err != nil {
		t.Fatalf("CompleteOperation: %v", err)
	}
}

func TestClientFailCallAbortsOnFailOnCrash(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	opID, err := c.CreateOperation(ctx, "p1", "")
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}

	callID, err := c.StartCall(ctx, opID, "risky work", true)
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	if err := c.FailCall(ctx, opID, callID, "boom"); err != nil {
		t.Fatalf("FailCall: %v", err)
	}

	state, err := c.State(ctx, opID)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !state.Aborted {
		t.Fatalf("expected operation aborted after FailOnCrash call fails")
	}
}

func TestClientStateOnMissingOperationErrors(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.State(context.Background(), "nonexistent"); err == nil {
		t.Fatalf("expected an error reading state of a missing operation")
	}
}

func TestClientLeaveOperation(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	opID, err := c.CreateOperation(ctx, "p1", "")
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}
	if err := c.LeaveOperation(ctx, opID, true); err != nil {
		t.Fatalf("LeaveOperation: %v", err)
	}
}
