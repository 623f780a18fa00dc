package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/projecteru2/core/log"

	"github.com/coredpl/dpl/ledger"
	"github.com/coredpl/dpl/types"
)

// NewCallID generates a callId unique within an operation (spec §3.2
// invariant 7: never reused after removal, so a UUID is sufficient).
func NewCallID() string {
	return uuid.NewString()
}

// StartCallOptions configures Call creation (spec §4.5).
type StartCallOptions struct {
	Description string
	FailOnCrash bool
	Resources   []string
}

// Call is the synchronous call bracket (spec §4.5 Call<T>): appended as a
// frame on creation, removed on End or Fail. Calling End or Fail twice is a
// state error.
type Call[T any] struct {
	handle *ledger.Handle
	callID string

	mu   sync.Mutex
	done bool
}

// StartCall allocates a new callId, appends a frame under the document
// lock, and returns the handle.
func StartCall[T any](ctx context.Context, h *ledger.Handle, opts StartCallOptions) (*Call[T], error) {
	callID := NewCallID()
	now := time.Now().UTC()

	_, err := h.Store().Update(ctx, func(doc *types.Document) error {
		return ledger.AddFrame(doc, &types.Frame{
			ParticipantID: h.Store().HolderID(),
			CallID:        callID,
			PID:           h.PID(),
			StartTime:     now,
			LastHeartbeat: now,
			State:         types.FrameActive,
			Description:   opts.Description,
			Resources:     opts.Resources,
			FailOnCrash:   opts.FailOnCrash,
		})
	})
	if err != nil {
		return nil, err
	}
	return &Call[T]{handle: h, callID: callID}, nil
}

// ID returns this call's frame id.
func (c *Call[T]) ID() string { return c.callID }

// End marks the call completed, removes the frame under lock, and then
// runs the caller-supplied onCompletion with result.
func (c *Call[T]) End(ctx context.Context, result T, onCompletion func(T)) error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return fmt.Errorf("call %s already completed", c.callID)
	}
	c.done = true
	c.mu.Unlock()

	_, err := c.handle.Store().Update(ctx, func(doc *types.Document) error {
		_, _ = ledger.RemoveFrame(doc, c.callID)
		return nil
	})
	if err != nil {
		return err
	}
	if onCompletion != nil {
		onCompletion(result)
	}
	return nil
}

// Fail removes the frame under lock, invokes onCleanup, and — if the
// frame's failOnCrash was true — sets the document's aborted flag. The
// document write appends a trail snapshot, which does not carry callErr;
// callErr is only logged.
func (c *Call[T]) Fail(ctx context.Context, callErr error, onCleanup func()) error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return fmt.Errorf("call %s already completed", c.callID)
	}
	c.done = true
	c.mu.Unlock()

	_, err := c.handle.Store().Update(ctx, func(doc *types.Document) error {
		f, ok := ledger.RemoveFrame(doc, c.callID)
		if !ok {
			return nil
		}
		if onCleanup != nil {
			onCleanup()
		}
		if f.FailOnCrash {
			doc.Aborted = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail call %s: %w", c.callID, err)
	}
	// The document write above already appended a trail snapshot
	// (Store.Update -> writeLocked -> appendTrail); the failure itself is
	// logged here since frames don't carry a free-form error field.
	log.WithFunc("session.Call.Fail").Warnf(ctx, "call %s failed: %v", c.callID, callErr)
	return nil
}
