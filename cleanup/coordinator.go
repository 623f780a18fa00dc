// Package cleanup implements the four-phase crash-cleanup state machine
// (spec §4.4): Detection, Self-cleanup window, Frame removal, File
// deletion. It is the direct descendant of the teacher's gc.Orchestrator
// (lock -> read -> act -> unlock phase shape, skip-busy-retry-next-tick
// contention policy), rebuilt around one shared document and four
// sequential, predicate-gated phases instead of N independent modules.
//
// Every method here runs with the caller already holding the document
// lock (heartbeat.Engine calls these from inside ledger.Store.Update), and
// every phase is idempotent: replaying a step against an already-terminal
// frame or document state is a no-op (spec §8 L1, L2).
package cleanup

import (
	"context"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coredpl/dpl/ledger"
	"github.com/coredpl/dpl/types"
)

// Callbacks are the caller-supplied local actions the coordinator invokes
// while holding the lock, per spec §4.4. All are optional.
type Callbacks struct {
	// OnCoordinatorCleanup runs once for the coordinator's own frame at
	// Phase 1 detection.
	OnCoordinatorCleanup func(ctx context.Context)
	// OnCallCleanup runs for a call frame entering its own self-cleanup
	// (Phase 2, call role).
	OnCallCleanup func(ctx context.Context, f *types.Frame)
	// OnSupervisorCallCleanup/OnSupervisorCallCrashed run for each
	// supervised frame a supervisor heartbeat observes terminal (Phase 2,
	// supervisor role).
	OnSupervisorCallCleanup func(ctx context.Context, f *types.Frame)
	OnSupervisorCallCrashed func(ctx context.Context, f *types.Frame)
	// OnFrameRemoved runs once per frame cleared at Phase 3, for any frame
	// that had not already self-cleaned.
	OnFrameRemoved func(ctx context.Context, f *types.Frame)
}

// Coordinator drives the phase transitions for one operation document.
// A Coordinator is stateless across ticks; all state lives in the document
// itself, which is what lets any surviving participant inherit coordinator
// duties (spec §4.4 "concurrency note on coordinator identity").
type Coordinator struct {
	store             *ledger.Store
	pool              int
	heartbeatInterval time.Duration
	callbacks         Callbacks
}

// New creates a Coordinator bound to store. pool bounds the concurrency of
// Phase 2's per-frame cleanup fan-out (errgroup.SetLimit), grounded on the
// teacher's layer-pull fan-out pattern.
func New(store *ledger.Store, pool int, heartbeatInterval time.Duration, cb Callbacks) *Coordinator {
	if pool <= 0 {
		pool = 4 //nolint:mnd
	}
	return &Coordinator{store: store, pool: pool, heartbeatInterval: heartbeatInterval, callbacks: cb}
}

// Detect executes Phase 1 when a running heartbeat observes one or more
// stale peer frames: it marks the stale frames, flips every other frame to
// cleaningUp, and transitions the document to cleanup. coordinatorCallID
// identifies the frame of the heartbeat that is detecting (may be "").
func (c *Coordinator) Detect(ctx context.Context, doc *types.Document, staleCallIDs []string, coordinatorCallID string) error {
	if doc.State != types.StateRunning {
		return nil
	}
	stale := make(map[string]bool, len(staleCallIDs))
	for _, id := range staleCallIDs {
		stale[id] = true
	}

	for _, f := range doc.CallFrames {
		switch {
		case stale[f.CallID]:
			if f.HasSupervisor() {
				f.State = types.FrameCrashed
			} else {
				f.State = types.FrameCleanedUp
				reclaimResources(ctx, doc, f)
			}
		case f.CallID == coordinatorCallID:
			if c.callbacks.OnCoordinatorCleanup != nil {
				c.callbacks.OnCoordinatorCleanup(ctx)
			}
			f.State = types.FrameCleaningUp
		default:
			f.State = types.FrameCleaningUp
		}
	}

	now := time.Now().UTC()
	if err := ledger.Transition(doc, types.StateCleanup); err != nil {
		return err
	}
	doc.DetectionTimestamp = &now
	return nil
}

// Advance performs Phase 2 (self-cleanup, for this participant's own frame
// and, if supervisorID is non-empty, any frames it supervises), then checks
// the Phase 3 and Phase 4 predicates and executes whichever is due. It is
// safe to call on every tick regardless of operationState; phases no-op
// outside their trigger state.
func (c *Coordinator) Advance(ctx context.Context, doc *types.Document, ownCallID, supervisorID string) error {
	switch doc.State {
	case types.StateCleanup:
		c.selfCleanOwnFrame(ctx, doc, ownCallID)
		if supervisorID != "" {
			c.selfCleanSupervised(ctx, doc, supervisorID)
		}
		return c.maybeRemoveFrames(ctx, doc)
	case types.StateFailed:
		// Phase 4's actual move/delete happens outside the lock once
		// DeletionDue reports true; nothing to do to the document itself.
		return nil
	default:
		return nil
	}
}

// selfCleanOwnFrame implements Phase 2's call role: a participant whose own
// frame is still cleaningUp/active runs its local cleanup and marks the
// frame cleanedUp. Idempotent: a no-op if the frame is already terminal or
// absent (spec §8 L1).
func (c *Coordinator) selfCleanOwnFrame(ctx context.Context, doc *types.Document, callID string) {
	if callID == "" {
		return
	}
	f, ok := ledger.FindFrame(doc, callID)
	if !ok || f.State.Terminal() {
		return
	}
	if c.callbacks.OnCallCleanup != nil {
		c.callbacks.OnCallCleanup(ctx, f)
	}
	reclaimResources(ctx, doc, f)
	f.State = types.FrameCleanedUp
}

// selfCleanSupervised implements Phase 2's supervisor role: for every frame
// matching supervisorID in {crashed, cleanedUp}, invoke the supervisor
// callbacks and mark it dead.
func (c *Coordinator) selfCleanSupervised(ctx context.Context, doc *types.Document, supervisorID string) {
	var g errgroup.Group
	g.SetLimit(c.pool)
	for _, f := range doc.CallFrames {
		f := f
		if f.SupervisorID != supervisorID {
			continue
		}
		if f.State != types.FrameCrashed && f.State != types.FrameCleanedUp {
			continue
		}
		g.Go(func() error {
			if c.callbacks.OnSupervisorCallCleanup != nil {
				c.callbacks.OnSupervisorCallCleanup(ctx, f)
			}
			if c.callbacks.OnSupervisorCallCrashed != nil {
				c.callbacks.OnSupervisorCallCrashed(ctx, f)
			}
			return nil
		})
	}
	_ = g.Wait()
	for _, f := range doc.CallFrames {
		if f.SupervisorID == supervisorID && (f.State == types.FrameCrashed || f.State == types.FrameCleanedUp) {
			f.State = types.FrameDead
		}
	}
}

// maybeRemoveFrames implements Phase 3: once 2*heartbeatInterval has
// elapsed since detection, clear all frames, run local cleanup for any not
// yet terminal, and transition cleanup -> failed. Idempotent: a no-op once
// callFrames is already empty and state is failed (spec §8 L2).
func (c *Coordinator) maybeRemoveFrames(ctx context.Context, doc *types.Document) error {
	if doc.DetectionTimestamp == nil {
		return nil
	}
	if time.Since(*doc.DetectionTimestamp) < 2*c.heartbeatInterval { //nolint:mnd
		return nil
	}

	for _, f := range doc.CallFrames {
		if f.State.Terminal() {
			continue
		}
		if c.callbacks.OnFrameRemoved != nil {
			c.callbacks.OnFrameRemoved(ctx, f)
		}
		reclaimResources(ctx, doc, f)
	}
	doc.CallFrames = nil

	now := time.Now().UTC()
	if err := ledger.Transition(doc, types.StateFailed); err != nil {
		return err
	}
	doc.RemovalTimestamp = &now
	return nil
}

// DeletionDue reports whether Phase 4's predicate
// (now - removalTimestamp >= 2*heartbeatInterval) holds for a failed
// document, so the caller can finalize it after releasing the lock.
func (c *Coordinator) DeletionDue(doc *types.Document) bool {
	if doc.State != types.StateFailed || doc.RemovalTimestamp == nil {
		return false
	}
	return time.Since(*doc.RemovalTimestamp) >= 2*c.heartbeatInterval //nolint:mnd
}

// reclaimResources unlinks every path a crashed/terminal frame declared as
// owned, and drops the matching temp-resource entries, satisfying spec §8
// invariant I6 for the coordinator/signal-handler side of the disjunction.
func reclaimResources(_ context.Context, doc *types.Document, f *types.Frame) {
	for _, path := range f.Resources {
		_ = os.RemoveAll(path)
		delete(doc.TempResources, path)
	}
}
