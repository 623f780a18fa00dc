package ledger

import (
	"context"
	"time"

	"github.com/coredpl/dpl/types"
	"github.com/coredpl/dpl/utils"
)

// Summary is a lightweight projection of an operation document, returned by
// ListOperations so callers can enumerate without paying for a full Store
// per entry (spec §3.4/3.5 read model additions).
type Summary struct {
	OperationID   string
	InitiatorID   string
	State         types.OperationState
	LastHeartbeat time.Time
	FrameCount    int
}

// ListOperations scans basePath for live operation documents and returns a
// Summary for each one successfully parsed. Corrupt or unreadable documents
// are skipped rather than failing the whole scan, since a concurrent writer
// may be mid-rename.
func ListOperations(ctx context.Context, basePath, holderID string) ([]Summary, error) {
	ids := utils.ScanFileStems(basePath, documentSuffix)

	summaries := make([]Summary, 0, len(ids))
	for _, id := range ids {
		store := NewStore(basePath, id, holderID, time.Time{})
		doc, err := store.Read(ctx)
		if err != nil {
			continue
		}
		summaries = append(summaries, Summary{
			OperationID:   doc.OperationID,
			InitiatorID:   doc.InitiatorID,
			State:         doc.State,
			LastHeartbeat: doc.LastHeartbeat,
			FrameCount:    len(doc.CallFrames),
		})
	}
	return summaries, nil
}
