package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies a ledger Error (spec §1, §7 error taxonomy).
type Kind string

const (
	// KindNotFound means the referenced operation has no document on disk.
	KindNotFound Kind = "ledgerNotFound"
	// KindLockFailed means the document lock could not be acquired within
	// its timeout.
	KindLockFailed Kind = "lockFailed"
	// KindAbortFlagSet means the caller attempted to act on an operation
	// already marked Aborted. The remote server also returns it when a
	// completion is refused because call frames are still open.
	KindAbortFlagSet Kind = "abortFlagSet"
	// KindHeartbeatStale means a call is continuing past a point where its
	// own frame was already judged stale by another participant.
	KindHeartbeatStale Kind = "heartbeatStale"
	// KindIOError wraps an underlying filesystem failure.
	KindIOError Kind = "ioError"
	// KindOperationFailed means the operation document is in StateFailed.
	KindOperationFailed Kind = "operationFailed"
	// KindOperationCompleted means the operation document is in
	// StateCompleted and no longer accepts new frames.
	KindOperationCompleted Kind = "operationCompleted"
)

// Error is the single error type returned across the ledger, heartbeat and
// cleanup packages. Callers match on Kind with errors.As, not on message text.
type Error struct {
	Kind        Kind
	OperationID string
	Err         error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.OperationID, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.OperationID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, &ledger.Error{Kind: ...}) matching on Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind Kind, opID string, err error) *Error {
	return &Error{Kind: kind, OperationID: opID, Err: err}
}

// IsKind reports whether err (or any error it wraps) is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == k
}
