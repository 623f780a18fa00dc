package ledger

import (
	"context"
	"time"

	"github.com/coredpl/dpl/types"
)

// SupervisorView is a read-only projection of an operation handed to an
// external supervisor process (spec §1, §9): the ledger exposes the
// supervisor-relevant fields on each frame but has no opinion on how the
// supervisor itself is spawned or discovered.
type SupervisorView struct {
	OperationID string
	State       types.OperationState
	Frames      []SupervisedFrame
}

// SupervisedFrame is one frame carrying a supervisor association, together
// with the information a supervisor needs to decide whether to act on it.
type SupervisedFrame struct {
	ParticipantID    string
	CallID           string
	PID              int
	State            types.FrameState
	SupervisorID     string
	SupervisorHandle string
	Stale            bool
}

// SupervisorViewFor reads the named operation and returns the subset of
// frames carrying a supervisor association matching supervisorID, with each
// frame's staleness evaluated against staleThreshold. Returns
// KindNotFound if the operation has no document.
func SupervisorViewFor(ctx context.Context, basePath, holderID, operationID, supervisorID string, staleThreshold time.Duration) (*SupervisorView, error) {
	store := NewStore(basePath, operationID, holderID, time.Time{})
	doc, err := store.Read(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	view := &SupervisorView{OperationID: doc.OperationID, State: doc.State}
	for _, f := range doc.CallFrames {
		if !f.HasSupervisor() || f.SupervisorID != supervisorID {
			continue
		}
		view.Frames = append(view.Frames, SupervisedFrame{
			ParticipantID:    f.ParticipantID,
			CallID:           f.CallID,
			PID:              f.PID,
			State:            f.State,
			SupervisorID:     f.SupervisorID,
			SupervisorHandle: f.SupervisorHandle,
			Stale:            now.Sub(f.LastHeartbeat) > staleThreshold,
		})
	}
	return view, nil
}
