// Package doclock implements the ledger's own named-lock protocol
// (spec §4.1), distinct from lock/flock's OS advisory locking: a lock
// file created with O_CREAT|O_EXCL, carrying a JSON payload identifying
// the holder, with dead-owner and stale-age reclaim instead of kernel
// flock semantics. This is required because the ledger must recognize a
// lock abandoned by a crashed process on a machine where no other
// process holds an OS-level advisory lock on the same inode (the crashed
// holder's fd is already gone), and must do so using only information
// recorded in the lock file itself.
package doclock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/coredpl/dpl/lock"
	"github.com/coredpl/dpl/utils"
)

// ErrTimeout is returned by Lock/TryLock when the lock could not be
// acquired within the configured timeout.
var ErrTimeout = errors.New("lock timeout")

const (
	// DefaultTimeout is the bound on Lock's retry loop (spec §4.1 lockTimeout).
	DefaultTimeout = 2 * time.Second
	// DefaultStaleAge is how old an acquiredAt may be before the lock is
	// considered abandoned even if its owning pid is still alive (spec §4.1).
	DefaultStaleAge = 2 * time.Second
	retryInterval   = 50 * time.Millisecond
)

// payload is the JSON body of a lock file (spec §6.1).
type payload struct {
	HolderID   string    `json:"holderId"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquiredAt"`
	Op         string    `json:"op"`
}

// Lock implements lock.Locker over a single lock file path.
type Lock struct {
	path     string
	holderID string
	op       string

	timeout  time.Duration
	staleAge time.Duration
}

var _ lock.Locker = (*Lock)(nil)

// Option configures a Lock constructed with New.
type Option func(*Lock)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option { return func(l *Lock) { l.timeout = d } }

// WithStaleAge overrides DefaultStaleAge.
func WithStaleAge(d time.Duration) Option { return func(l *Lock) { l.staleAge = d } }

// New creates a Lock for path. holderID identifies the caller (typically
// participantId) and op is a free-form label ("read"/"write") recorded in
// the lock file for diagnostics only.
func New(path, holderID, op string, opts ...Option) *Lock {
	l := &Lock{
		path:     path,
		holderID: holderID,
		op:       op,
		timeout:  DefaultTimeout,
		staleAge: DefaultStaleAge,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock blocks until the lock is acquired, the timeout elapses, or ctx is
// cancelled, per spec §4.1's three-step protocol.
func (l *Lock) Lock(ctx context.Context) error {
	deadline := time.Now().Add(l.timeout)
	for {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("acquire lock %s: %w", l.path, ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire lock %s: %w", l.path, ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}

// TryLock attempts one non-blocking acquisition, reclaiming the lock file
// first if it looks abandoned (spec §4.1 step 2).
func (l *Lock) TryLock(_ context.Context) (bool, error) {
	if l.tryCreate() {
		return true, nil
	}

	if l.reclaimIfAbandoned() {
		return l.tryCreate(), nil
	}
	return false, nil
}

// Unlock removes the lock file. Safe to call even if the file no longer
// exists (e.g. reclaimed from under us).
func (l *Lock) Unlock(_ context.Context) error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

// tryCreate attempts the exclusive create-and-write in one step.
func (l *Lock) tryCreate() bool {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec
	if err != nil {
		return false
	}
	defer f.Close() //nolint:errcheck

	data, err := json.Marshal(payload{
		HolderID:   l.holderID,
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC(),
		Op:         l.op,
	})
	if err != nil {
		_ = os.Remove(l.path)
		return false
	}
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(l.path)
		return false
	}
	return true
}

// reclaimIfAbandoned deletes the lock file and returns true if its holder
// is no longer alive, or its acquiredAt is older than staleAge.
func (l *Lock) reclaimIfAbandoned() bool {
	raw, err := os.ReadFile(l.path) //nolint:gosec
	if err != nil {
		// Gone or unreadable; treat as already reclaimed by someone else.
		return os.IsNotExist(err)
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		// Corrupt lock file — reclaim it rather than block forever.
		return os.Remove(l.path) == nil
	}

	abandoned := !utils.IsProcessAlive(p.PID) || time.Since(p.AcquiredAt) > l.staleAge
	if !abandoned {
		return false
	}
	return os.Remove(l.path) == nil
}
