package ledger

import (
	"testing"
	"time"

	"github.com/coredpl/dpl/types"
)

func newTestDoc(id string) *types.Document {
	d := &types.Document{OperationID: id, InitiatorID: "p1", State: types.StateRunning}
	d.Init()
	return d
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to types.OperationState
		want     bool
	}{
		{types.StateRunning, types.StateCleanup, true},
		{types.StateRunning, types.StateCompleted, true},
		{types.StateCleanup, types.StateFailed, true},
		{types.StateRunning, types.StateFailed, false},
		{types.StateCompleted, types.StateRunning, false},
		{types.StateFailed, types.StateCleanup, false},
		{types.StateRunning, types.StateRunning, true},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	doc := newTestDoc("op1")
	if err := Transition(doc, types.StateCleanup); err != nil {
		t.Fatalf("running->cleanup should succeed: %v", err)
	}
	if err := Transition(doc, types.StateCompleted); err == nil {
		t.Fatalf("cleanup->completed should be rejected")
	}
	if doc.State != types.StateCleanup {
		t.Fatalf("state should be unchanged after rejected transition, got %s", doc.State)
	}
}

func TestAddFrameRejectsDuplicateCallID(t *testing.T) {
	doc := newTestDoc("op1")
	f := &types.Frame{CallID: "c1", ParticipantID: "p1"}
	if err := AddFrame(doc, f); err != nil {
		t.Fatalf("first AddFrame: %v", err)
	}
	if err := AddFrame(doc, &types.Frame{CallID: "c1", ParticipantID: "p2"}); err == nil {
		t.Fatalf("expected duplicate call id to be rejected")
	}
}

func TestRemoveFramePreservesOrder(t *testing.T) {
	doc := newTestDoc("op1")
	for _, id := range []string{"c1", "c2", "c3"} {
		_ = AddFrame(doc, &types.Frame{CallID: id, ParticipantID: "p1"})
	}
	f, ok := RemoveFrame(doc, "c2")
	if !ok || f.CallID != "c2" {
		t.Fatalf("RemoveFrame(c2) = %v, %v", f, ok)
	}
	if len(doc.CallFrames) != 2 || doc.CallFrames[0].CallID != "c1" || doc.CallFrames[1].CallID != "c3" {
		t.Fatalf("unexpected frame order after removal: %+v", doc.CallFrames)
	}
	if _, ok := RemoveFrame(doc, "missing"); ok {
		t.Fatalf("RemoveFrame(missing) should report not found")
	}
}

func TestTouchHeartbeatMonotonic(t *testing.T) {
	doc := newTestDoc("op1")
	_ = AddFrame(doc, &types.Frame{CallID: "c1", ParticipantID: "p1"})

	later := time.Now().UTC()
	TouchHeartbeat(doc, "c1", later)
	if !doc.LastHeartbeat.Equal(later) {
		t.Fatalf("doc.LastHeartbeat = %v, want %v", doc.LastHeartbeat, later)
	}

	earlier := later.Add(-time.Minute)
	TouchHeartbeat(doc, "c1", earlier)
	if !doc.LastHeartbeat.Equal(later) {
		t.Fatalf("TouchHeartbeat moved lastHeartbeat backward: %v", doc.LastHeartbeat)
	}
	f, _ := FindFrame(doc, "c1")
	if !f.LastHeartbeat.Equal(later) {
		t.Fatalf("frame lastHeartbeat moved backward: %v", f.LastHeartbeat)
	}
}

func TestRegisterUnregisterTempResource(t *testing.T) {
	doc := newTestDoc("op1")
	now := time.Now().UTC()
	RegisterTempResource(doc, "/tmp/foo", 42, now)

	got, err := GetTempResource(doc, "/tmp/foo")
	if err != nil {
		t.Fatalf("GetTempResource: %v", err)
	}
	if got.Owner != 42 || got.Path != "/tmp/foo" {
		t.Fatalf("unexpected resource: %+v", got)
	}

	if !UnregisterTempResource(doc, "/tmp/foo") {
		t.Fatalf("UnregisterTempResource should report removal")
	}
	if UnregisterTempResource(doc, "/tmp/foo") {
		t.Fatalf("second UnregisterTempResource should report no-op")
	}
	if _, err := GetTempResource(doc, "/tmp/foo"); err == nil {
		t.Fatalf("GetTempResource after removal should error")
	}
}

func TestCanComplete(t *testing.T) {
	doc := newTestDoc("op1")
	if !CanComplete(doc, "p1") {
		t.Fatalf("empty frame set should always allow completion")
	}

	_ = AddFrame(doc, &types.Frame{CallID: "c1", ParticipantID: "p1"})
	if !CanComplete(doc, "p1") {
		t.Fatalf("only the initiator's own frame should still allow completion")
	}

	_ = AddFrame(doc, &types.Frame{CallID: "c2", ParticipantID: "p2"})
	if CanComplete(doc, "p1") {
		t.Fatalf("another participant's open frame should block completion")
	}
}
