package ledger

import (
	"fmt"
	"time"

	"github.com/coredpl/dpl/types"
	"github.com/coredpl/dpl/utils"
)

// validTransitions encodes the DAG of spec §3.2 invariant 4:
// running->cleanup->failed, running->completed. No cycles, no reverse moves.
var validTransitions = map[types.OperationState]map[types.OperationState]bool{
	types.StateRunning: {types.StateCleanup: true, types.StateCompleted: true},
	types.StateCleanup: {types.StateFailed: true},
	types.StateFailed:  {},
	types.StateCompleted: {},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal
// operationState transition.
func CanTransition(from, to types.OperationState) bool {
	if from == to {
		return true
	}
	return validTransitions[from][to]
}

// Transition moves doc.State to to, rejecting illegal transitions.
func Transition(doc *types.Document, to types.OperationState) error {
	if !CanTransition(doc.State, to) {
		return fmt.Errorf("illegal operation state transition %s -> %s", doc.State, to)
	}
	doc.State = to
	return nil
}

// AddFrame appends a new active frame for a startCall/spawnCall, enforcing
// call id uniqueness (spec §3.2 invariant 7).
func AddFrame(doc *types.Document, f *types.Frame) error {
	for _, existing := range doc.CallFrames {
		if existing.CallID == f.CallID {
			return fmt.Errorf("call id %s already present in operation %s", f.CallID, doc.OperationID)
		}
	}
	doc.CallFrames = append(doc.CallFrames, f)
	return nil
}

// RemoveFrame deletes the frame with the given callId, preserving the
// relative order of the remaining frames (order is informational per spec
// §3.2 invariant 3; removal need not be LIFO).
func RemoveFrame(doc *types.Document, callID string) (*types.Frame, bool) {
	for i, f := range doc.CallFrames {
		if f.CallID == callID {
			doc.CallFrames = append(doc.CallFrames[:i], doc.CallFrames[i+1:]...)
			return f, true
		}
	}
	return nil, false
}

// FindFrame returns the frame with the given callId, if present.
func FindFrame(doc *types.Document, callID string) (*types.Frame, bool) {
	for _, f := range doc.CallFrames {
		if f.CallID == callID {
			return f, true
		}
	}
	return nil, false
}

// TouchHeartbeat advances the document's and, if present, one frame's
// lastHeartbeat to now, enforcing monotonic non-decrease (spec §3.2
// invariant 2).
func TouchHeartbeat(doc *types.Document, participantCallID string, now time.Time) {
	if now.After(doc.LastHeartbeat) {
		doc.LastHeartbeat = now
	}
	if participantCallID == "" {
		return
	}
	if f, ok := FindFrame(doc, participantCallID); ok && now.After(f.LastHeartbeat) {
		f.LastHeartbeat = now
	}
}

// RegisterTempResource adds a temp resource entry keyed by path (spec §3.1).
func RegisterTempResource(doc *types.Document, path string, owner int, now time.Time) {
	doc.TempResources[path] = &types.TempResource{Path: path, Owner: owner, RegisteredAt: now}
}

// UnregisterTempResource removes a temp resource entry, returning whether it
// was present.
func UnregisterTempResource(doc *types.Document, path string) bool {
	if _, ok := doc.TempResources[path]; !ok {
		return false
	}
	delete(doc.TempResources, path)
	return true
}

// GetTempResource returns a copy of the temp resource registered at path,
// so callers (e.g. the CLI's resource listing) can't mutate the document
// through the returned value.
func GetTempResource(doc *types.Document, path string) (types.TempResource, error) {
	return utils.LookupCopy(doc.TempResources, path)
}

// CanComplete reports whether doc is eligible for the initiator's complete()
// (spec §3.2 invariant 5, §4.4 completion path): callFrames empty, or
// containing only the initiator's own frame.
func CanComplete(doc *types.Document, initiatorParticipantID string) bool {
	for _, f := range doc.CallFrames {
		if f.ParticipantID != initiatorParticipantID {
			return false
		}
	}
	return true
}
