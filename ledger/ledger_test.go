package ledger

import (
	"context"
	"testing"

	"github.com/coredpl/dpl/types"
)

func TestCreateOperationDefaultsID(t *testing.T) {
	l := New(t.TempDir(), "p1")
	h, sess, err := l.CreateOperation(context.Background(), "", "a test operation")
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}
	if h.OperationID() == "" {
		t.Fatalf("expected a generated operation id")
	}
	if sess.ID() != 1 {
		t.Fatalf("first session id = %d, want 1", sess.ID())
	}

	doc, err := h.Store().Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc.InitiatorID != "p1" || doc.State != types.StateRunning {
		t.Fatalf("unexpected created document: %+v", doc)
	}
}

func TestJoinOperationSharesHandle(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "p1")
	h1, _, err := l.CreateOperation(context.Background(), "op1", "")
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}

	h2, sess2, err := l.JoinOperation(context.Background(), "op1")
	if err != nil {
		t.Fatalf("JoinOperation: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("JoinOperation from the same ledger should return the same Handle")
	}
	if sess2.ID() != 2 {
		t.Fatalf("second session id = %d, want 2", sess2.ID())
	}
}

func TestJoinOperationRejectsTerminalStates(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "p1")
	h, _, err := l.CreateOperation(context.Background(), "op1", "")
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}
	if err := h.Store().Finalize(context.Background(), false, &types.Document{
		OperationID: "op1", InitiatorID: "p1", State: types.StateCompleted,
	}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	l2 := New(dir, "p2")
	if _, _, err := l2.JoinOperation(context.Background(), "op1"); err == nil {
		t.Fatalf("JoinOperation on a finalized operation should fail")
	}
}

func TestSessionLeaveRejectsPendingCallsWithoutCancel(t *testing.T) {
	l := New(t.TempDir(), "p1")
	_, sess, err := l.CreateOperation(context.Background(), "op1", "")
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}

	if _, err := sess.Leave(false, 2); err == nil {
		t.Fatalf("Leave with pending calls and cancelPendingCalls=false should fail")
	}
	last, err := sess.Leave(true, 2)
	if err != nil {
		t.Fatalf("Leave with cancelPendingCalls=true: %v", err)
	}
	if !last {
		t.Fatalf("sole session leaving should report last=true")
	}
}

func TestSessionLeaveOnlyLastSessionClearsHandle(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "p1")
	_, sess1, err := l.CreateOperation(context.Background(), "op1", "")
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}
	_, sess2, err := l.JoinOperation(context.Background(), "op1")
	if err != nil {
		t.Fatalf("JoinOperation: %v", err)
	}

	if last, err := sess1.Leave(false, 0); err != nil || last {
		t.Fatalf("first Leave: last=%v, err=%v, want last=false", last, err)
	}
	if last, err := sess2.Leave(false, 0); err != nil || !last {
		t.Fatalf("second Leave: last=%v, err=%v, want last=true", last, err)
	}
}
