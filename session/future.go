// Package session implements the per-process call/session layer: typed
// synchronous Call brackets, asynchronous SpawnedCall tasks, the sync/await
// combinators that wait on a set of them, and the one-shot event futures
// (onAbort, onFailure, onHeartbeatError, onHeartbeatSuccess) the heartbeat
// engine resolves. None of this layer is persisted (spec §4.5).
package session

import (
	"context"
	"sync"
)

// Future is a one-shot completion source: Resolve may be called at most
// once (later calls are no-ops), and Await blocks until Resolve has run or
// ctx is done. Modeled as sync.Once plus a capacity-1 buffered channel
// rather than a promise library, mirroring the teacher's channel-based
// lock.Lock (chan struct{}) rather than a mutex/condvar design.
type Future[T any] struct {
	once sync.Once
	ch   chan T
}

// NewFuture creates an unresolved Future[T].
func NewFuture[T any]() *Future[T] {
	return &Future[T]{ch: make(chan T, 1)}
}

// Resolve completes the future with v. Only the first call has any effect.
func (f *Future[T]) Resolve(v T) {
	f.once.Do(func() {
		f.ch <- v
	})
}

// Await blocks until Resolve has been called or ctx is done, returning the
// resolved value or ctx.Err().
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case v := <-f.ch:
		// Put it back so a second Await (or the same goroutine calling
		// twice) still observes the resolved value.
		select {
		case f.ch <- v:
		default:
		}
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Resolved reports whether Resolve has already been called, without
// blocking.
func (f *Future[T]) Resolved() bool {
	select {
	case v := <-f.ch:
		select {
		case f.ch <- v:
		default:
		}
		return true
	default:
		return false
	}
}
