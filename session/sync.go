package session

import (
	"context"
	"errors"
	"time"
)

// ErrOperationFailed is returned by AwaitCall when operationFailed reports
// true before the awaited call completes (spec §4.5 waitForCompletion).
var ErrOperationFailed = errors.New("operationFailed")

const operationFailedPollInterval = 50 * time.Millisecond

// SyncResult summarizes waiting on a set of spawned calls (spec §4.5).
type SyncResult[T any] struct {
	Successful      []*SpawnedCall[T]
	Failed          []*SpawnedCall[T]
	Unknown         []*SpawnedCall[T]
	OperationFailed bool
}

// AllSucceeded reports whether every call succeeded and none are unknown.
func (r SyncResult[T]) AllSucceeded() bool {
	return len(r.Failed) == 0 && len(r.Unknown) == 0 && !r.OperationFailed
}

// HasFailed reports whether any call failed.
func (r SyncResult[T]) HasFailed() bool { return len(r.Failed) > 0 }

// AllResolved reports whether every call reached a terminal state.
func (r SyncResult[T]) AllResolved() bool { return len(r.Unknown) == 0 }

// Sync waits for every call in calls to complete, or for ctx to be done.
// If operationFailed reports true while calls are still pending, waiting
// stops early and those calls are placed in Unknown (spec §4.5).
func Sync[T any](ctx context.Context, calls []*SpawnedCall[T], operationFailed func() bool) SyncResult[T] {
	var res SyncResult[T]
	pending := make([]*SpawnedCall[T], len(calls))
	copy(pending, calls)

	for len(pending) > 0 {
		if ctx.Err() != nil {
			res.Unknown = append(res.Unknown, pending...)
			return res
		}
		if operationFailed != nil && operationFailed() {
			res.OperationFailed = true
			res.Unknown = append(res.Unknown, pending...)
			return res
		}

		var remaining []*SpawnedCall[T]
		for _, c := range pending {
			if !c.IsCompleted() {
				remaining = append(remaining, c)
				continue
			}
			if c.IsSuccess() {
				res.Successful = append(res.Successful, c)
			} else {
				res.Failed = append(res.Failed, c)
			}
		}
		pending = remaining
	}
	return res
}

// AwaitCall blocks until call completes, ctx is done, or operationFailed
// reports true — races user work against a failure watcher derived from the
// document state (spec §4.5 waitForCompletion).
func AwaitCall[T any](ctx context.Context, call *SpawnedCall[T], operationFailed func() bool) (T, error) {
	if operationFailed == nil {
		return call.Await(ctx)
	}

	done := make(chan struct{})
	go func() {
		_, _ = call.Await(ctx)
		close(done)
	}()

	ticker := time.NewTicker(operationFailedPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return call.Outcome()
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-ticker.C:
			if operationFailed() {
				var zero T
				return zero, ErrOperationFailed
			}
		}
	}
}
