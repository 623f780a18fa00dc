package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/coredpl/dpl/types"
)

func TestListOperations(t *testing.T) {
	dir := t.TempDir()

	for _, id := range []string{"op1", "op2"} {
		store := NewStore(dir, id, "holder-a", time.Now().UTC())
		doc := &types.Document{OperationID: id, InitiatorID: "holder-a", State: types.StateRunning}
		if err := store.Create(context.Background(), doc); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	summaries, err := ListOperations(context.Background(), dir, "holder-a")
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want 2", len(summaries))
	}

	seen := map[string]bool{}
	for _, s := range summaries {
		seen[s.OperationID] = true
		if s.InitiatorID != "holder-a" {
			t.Errorf("summary %s: InitiatorID = %s", s.OperationID, s.InitiatorID)
		}
	}
	if !seen["op1"] || !seen["op2"] {
		t.Fatalf("missing expected operations in summaries: %v", summaries)
	}
}

func TestListOperationsEmptyBasePath(t *testing.T) {
	dir := t.TempDir()
	summaries, err := ListOperations(context.Background(), dir, "holder-a")
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("got %d summaries, want 0", len(summaries))
	}
}
