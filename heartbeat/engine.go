// Package heartbeat drives the per-operation liveness loop: under the
// document lock it refreshes the owning participant's frame, scans for
// stale peers, and hands off to the cleanup package when it elects itself
// coordinator.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/coredpl/dpl/cleanup"
	"github.com/coredpl/dpl/ledger"
	"github.com/coredpl/dpl/types"
)

// Result is delivered to OnSuccess after a tick that did not error.
type Result struct {
	Before, After *types.Document
	StaleFrames   []string
	Ages          map[string]time.Duration
}

// Callbacks are invoked by Engine as its tick resolves. All are optional;
// a nil callback is simply skipped. OnSuccess, OnError, OnAbort and
// OnOperationFailed run after the document lock has been released (spec §9
// "do not let user callbacks re-enter the store while it holds the lock");
// the embedded cleanup.Callbacks are handed to the cleanup Coordinator and
// run inside the locked update.
type Callbacks struct {
	OnSuccess         func(Result)
	OnError           func(*ledger.Error)
	OnAbort           func()
	OnOperationFailed func(*types.Document)

	cleanup.Callbacks
}

// Engine runs one operation's heartbeat task on its own goroutine, ticking
// every interval+jitter (spec §4.3).
type Engine struct {
	handle       *ledger.Handle
	callID       string // this participant's own frame, if any; "" for a bare session
	supervisorID string // non-empty if this heartbeat also acts as a supervisor
	interval     time.Duration
	jitter       time.Duration
	stale        time.Duration
	pool         int
	backups      bool

	coordinator *cleanup.Coordinator
	callbacks   Callbacks

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Options configures an Engine.
type Options struct {
	Interval       time.Duration
	Jitter         time.Duration
	StaleThreshold time.Duration
	Pool           int
	BackupsEnabled bool
	SupervisorID   string
	Callbacks      Callbacks
}

// New creates and starts an Engine for handle, ticking on its own goroutine.
// callID identifies the frame this engine refreshes each tick; pass "" if
// this session opened no frame of its own (it still participates in
// staleness scanning and coordinator election).
func New(handle *ledger.Handle, callID string, opts Options) *Engine {
	e := &Engine{
		handle:       handle,
		callID:       callID,
		supervisorID: opts.SupervisorID,
		interval:     opts.Interval,
		jitter:       opts.Jitter,
		stale:        opts.StaleThreshold,
		pool:         opts.Pool,
		backups:      opts.BackupsEnabled,
		callbacks:    opts.Callbacks,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	e.coordinator = cleanup.New(handle.Store(), opts.Pool, opts.Interval, opts.Callbacks.Callbacks)
	go e.run()
	return e
}

// Stop requests the engine's goroutine to exit after its current tick.
// Blocks until the goroutine has returned.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.stopCh)
	<-e.doneCh
}

func (e *Engine) run() {
	defer close(e.doneCh)
	logger := log.WithFunc("heartbeat.Engine.run")
	ctx := context.Background()

	for {
		delay := e.interval + jitterDuration(e.jitter)
		select {
		case <-e.stopCh:
			return
		case <-time.After(delay):
		}

		stop, err := e.tick(ctx)
		if err != nil {
			logger.Warnf(ctx, "tick for %s: %v", e.handle.OperationID(), err)
		}
		if stop {
			return
		}
	}
}

// tick performs one lock-protected pass: refresh, scan, coordinate, and
// reports whether the engine should stop (operation reached a terminal
// state this engine no longer needs to watch).
func (e *Engine) tick(ctx context.Context) (stop bool, err error) {
	store := e.handle.Store()

	var before *types.Document
	var staleFrames []string
	ages := make(map[string]time.Duration)
	var abortTransitioned bool

	doc, err := store.Update(ctx, func(doc *types.Document) error {
		before = cloneDocument(doc)

		if doc.State == types.StateRunning {
			wasAborted := doc.Aborted
			now := time.Now().UTC()
			ledger.TouchHeartbeat(doc, e.callID, now)

			for _, f := range doc.CallFrames {
				if f.CallID == e.callID {
					continue
				}
				age := now.Sub(f.LastHeartbeat)
				ages[f.CallID] = age
				if age > e.stale {
					staleFrames = append(staleFrames, f.CallID)
				}
			}

			if len(staleFrames) > 0 {
				if err := e.coordinator.Detect(ctx, doc, staleFrames, e.callID); err != nil {
					return err
				}
			}
			if doc.Aborted && !wasAborted {
				abortTransitioned = true
			}
			return nil
		}

		return e.coordinator.Advance(ctx, doc, e.callID, e.supervisorID)
	})
	if err != nil {
		lerr := toLedgerError(err)
		if e.callbacks.OnError != nil {
			e.callbacks.OnError(lerr)
		}
		if ledger.IsKind(err, ledger.KindNotFound) {
			return true, nil
		}
		return false, err //nolint:wrapcheck
	}

	if abortTransitioned && e.callbacks.OnAbort != nil {
		e.callbacks.OnAbort()
	}
	if (doc.State == types.StateCleanup || doc.State == types.StateFailed) && e.callbacks.OnOperationFailed != nil {
		e.callbacks.OnOperationFailed(doc)
	}
	if e.callbacks.OnSuccess != nil {
		e.callbacks.OnSuccess(Result{Before: before, After: doc, StaleFrames: staleFrames, Ages: ages})
	}

	if e.coordinator.DeletionDue(doc) {
		if ferr := store.Finalize(ctx, e.backups, doc); ferr != nil {
			return false, ferr
		}
		return true, nil
	}

	return doc.State == types.StateCompleted, nil
}

func jitterDuration(maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(maxJitter))) //nolint:gosec
}

func toLedgerError(err error) *ledger.Error {
	if e, ok := err.(*ledger.Error); ok { //nolint:errorlint
		return e
	}
	return &ledger.Error{Kind: ledger.KindIOError, Err: fmt.Errorf("%w", err)}
}

// cloneDocument produces an independent snapshot via JSON round-trip so
// Result.Before is unaffected by the in-place mutation that follows it
// inside the same Update closure.
func cloneDocument(doc *types.Document) *types.Document {
	data, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	var clone types.Document
	if err := json.Unmarshal(data, &clone); err != nil {
		return doc
	}
	return &clone
}
