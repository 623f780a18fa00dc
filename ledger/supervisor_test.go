package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/coredpl/dpl/types"
)

func TestSupervisorViewForFiltersAndFlagsStale(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "op1", "holder-a", time.Now().UTC())
	now := time.Now().UTC()
	doc := &types.Document{OperationID: "op1", InitiatorID: "holder-a", State: types.StateRunning}
	doc.CallFrames = []*types.Frame{
		{CallID: "c1", ParticipantID: "p1", SupervisorID: "sup-a", LastHeartbeat: now},
		{CallID: "c2", ParticipantID: "p1", SupervisorID: "sup-a", LastHeartbeat: now.Add(-time.Hour)},
		{CallID: "c3", ParticipantID: "p1", SupervisorID: "sup-b", LastHeartbeat: now},
		{CallID: "c4", ParticipantID: "p1", LastHeartbeat: now},
	}
	if err := store.Create(context.Background(), doc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	view, err := SupervisorViewFor(context.Background(), dir, "holder-a", "op1", "sup-a", time.Minute)
	if err != nil {
		t.Fatalf("SupervisorViewFor: %v", err)
	}
	if len(view.Frames) != 2 {
		t.Fatalf("got %d frames, want 2 (only sup-a's own)", len(view.Frames))
	}

	byCallID := map[string]SupervisedFrame{}
	for _, f := range view.Frames {
		byCallID[f.CallID] = f
	}
	if byCallID["c1"].Stale {
		t.Errorf("c1 should not be stale")
	}
	if !byCallID["c2"].Stale {
		t.Errorf("c2 should be stale")
	}
}

func TestSupervisorViewForMissingOperation(t *testing.T) {
	dir := t.TempDir()
	_, err := SupervisorViewFor(context.Background(), dir, "holder-a", "missing", "sup-a", time.Minute)
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}
