package session

import (
	"context"
	"os"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/coredpl/dpl/ledger"
	"github.com/coredpl/dpl/types"
	"github.com/coredpl/dpl/utils"
)

// SpawnedCall is the asynchronous call primitive (spec §4.5): created by
// SpawnCall, it returns immediately with a callId while its work function
// runs on its own goroutine. State is protected by a single mutex, per the
// spec's design note §9 ("implement SpawnedCall[T] as a task plus a state
// record protected by a single mutex").
type SpawnedCall[T any] struct {
	handle *ledger.Handle
	callID string

	mu          sync.Mutex
	completed   bool
	success     bool
	failed      bool
	cancelled   bool
	result      T
	err         error
	stackTrace  string
	cancelFn    func()
	proc        *os.Process

	done *Future[struct{}]
}

// SpawnCallOptions configures a SpawnedCall.
type SpawnCallOptions[T any] struct {
	Description string
	FailOnCrash bool
	Resources   []string
	// Work runs on its own goroutine. It should poll IsCancelled
	// cooperatively when long-running.
	Work func(ctx context.Context, call *SpawnedCall[T]) (T, error)
	// OnCancel is invoked synchronously from Cancel, if set.
	OnCancel func()
}

// SpawnCall allocates a callId, appends a frame, and starts opts.Work on a
// new goroutine. The returned SpawnedCall is usable immediately; ID() is
// populated before SpawnCall returns.
func SpawnCall[T any](ctx context.Context, h *ledger.Handle, opts SpawnCallOptions[T]) (*SpawnedCall[T], error) {
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

	sc := &SpawnedCall[T]{handle: h, callID: callID, cancelFn: opts.OnCancel, done: NewFuture[struct{}]()}

	go sc.run(ctx, opts.Work)
	return sc, nil
}

func (sc *SpawnedCall[T]) run(ctx context.Context, work func(context.Context, *SpawnedCall[T]) (T, error)) {
	result, err := work(ctx, sc)

	sc.mu.Lock()
	sc.completed = true
	if err != nil {
		sc.failed = true
		sc.err = err
		sc.stackTrace = string(debug.Stack())
	} else {
		sc.success = true
		sc.result = result
	}
	cancelled := sc.cancelled
	sc.mu.Unlock()

	removeErr := sc.removeFrame(ctx, err, cancelled)
	_ = removeErr // best-effort: the frame still times out via staleness if this fails

	sc.done.Resolve(struct{}{})
}

func (sc *SpawnedCall[T]) removeFrame(ctx context.Context, workErr error, cancelled bool) error {
	_, err := sc.handle.Store().Update(ctx, func(doc *types.Document) error {
		f, ok := ledger.RemoveFrame(doc, sc.callID)
		if !ok {
			return nil
		}
		if workErr != nil && !cancelled && f.FailOnCrash {
			doc.Aborted = true
		}
		return nil
	})
	return err
}

// ID returns this call's frame id.
func (sc *SpawnedCall[T]) ID() string { return sc.callID }

// IsCompleted reports whether the work function has returned.
func (sc *SpawnedCall[T]) IsCompleted() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.completed
}

// IsSuccess reports whether the work function completed without error.
func (sc *SpawnedCall[T]) IsSuccess() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.success
}

// IsFailed reports whether the work function returned an error.
func (sc *SpawnedCall[T]) IsFailed() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.failed
}

// IsCancelled reports whether Cancel has been called.
func (sc *SpawnedCall[T]) IsCancelled() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.cancelled
}

// Result returns the resolved result and whether the call succeeded.
func (sc *SpawnedCall[T]) Result() (T, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.result, sc.success
}

// ResultOr returns the resolved result, or def if the call did not succeed.
func (sc *SpawnedCall[T]) ResultOr(def T) T {
	if v, ok := sc.Result(); ok {
		return v
	}
	return def
}

// Err returns the work function's error, if any.
func (sc *SpawnedCall[T]) Err() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.err
}

// StackTrace returns the captured stack trace at the point of failure, if
// the call failed.
func (sc *SpawnedCall[T]) StackTrace() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.stackTrace
}

// Cancel marks the call cancelled and invokes the optional cancel callback.
// Cooperative: the work function must poll IsCancelled.
func (sc *SpawnedCall[T]) Cancel() {
	sc.mu.Lock()
	already := sc.cancelled
	sc.cancelled = true
	cb := sc.cancelFn
	sc.mu.Unlock()
	if !already && cb != nil {
		cb()
	}
}

// AttachProcess associates a child process with this call so Kill can
// signal it. Used by the process-worker combinators.
func (sc *SpawnedCall[T]) AttachProcess(p *os.Process) {
	sc.mu.Lock()
	sc.proc = p
	sc.mu.Unlock()
}

// Kill delivers signal (default SIGTERM) to the attached process, if any,
// and reports whether a process was attached.
func (sc *SpawnedCall[T]) Kill(sig syscall.Signal) bool {
	sc.mu.Lock()
	proc := sc.proc
	sc.mu.Unlock()
	if proc == nil {
		return false
	}
	if sig == 0 {
		sig = syscall.SIGTERM
	}
	_ = proc.Signal(sig)
	return true
}

// Terminate gives the attached process gracePeriod to exit after SIGTERM
// before escalating to SIGKILL, for cancellation paths that shouldn't
// leave a half-cleaned-up child lingering. Reports whether a process was
// attached.
func (sc *SpawnedCall[T]) Terminate(ctx context.Context, gracePeriod time.Duration) (bool, error) {
	sc.mu.Lock()
	proc := sc.proc
	sc.mu.Unlock()
	if proc == nil {
		return false, nil
	}
	return true, utils.TerminateProcess(ctx, proc.Pid, gracePeriod)
}

// Await blocks until the call completes or ctx is done.
func (sc *SpawnedCall[T]) Await(ctx context.Context) (T, error) {
	if _, err := sc.done.Await(ctx); err != nil {
		var zero T
		return zero, err
	}
	return sc.Outcome()
}

// Outcome returns the final (result, error) pair once completed.
func (sc *SpawnedCall[T]) Outcome() (T, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.result, sc.err
}
