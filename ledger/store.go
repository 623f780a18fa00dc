// Package ledger implements the on-disk operation document store: atomic
// read-modify-write under a named lock, trail snapshots, backup retention
// on terminal states, and the operation registry a process uses to create,
// join and enumerate operations.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/coredpl/dpl/lock/doclock"
	"github.com/coredpl/dpl/types"
	"github.com/coredpl/dpl/utils"
)

// Store serializes one operation document to disk under basePath, following
// the acquire -> read -> mutate -> write+fsync -> unlock writer contract
// (spec §4.1).
type Store struct {
	basePath    string
	operationID string
	holderID    string
	maxBackups  int
	lockTimeout time.Duration
	staleAge    time.Duration
	startTime   time.Time

	lastTrailElapsed float64
	trailSeq         int
}

// StoreOption configures a Store constructed with NewStore.
type StoreOption func(*Store)

// WithLockTimeout overrides doclock.DefaultTimeout for this store's lock.
func WithLockTimeout(d time.Duration) StoreOption { return func(s *Store) { s.lockTimeout = d } }

// WithStaleLockAge overrides doclock.DefaultStaleAge for this store's lock.
func WithStaleLockAge(d time.Duration) StoreOption { return func(s *Store) { s.staleAge = d } }

// WithMaxBackups overrides the default trail/backup retention count (20).
func WithMaxBackups(n int) StoreOption { return func(s *Store) { s.maxBackups = n } }

const defaultMaxBackups = 20

// NewStore creates a Store for operationID under basePath. holderID
// identifies the calling participant in lock files for diagnostics.
// startTime anchors the trail's elapsed-time naming (spec §6.1).
func NewStore(basePath, operationID, holderID string, startTime time.Time, opts ...StoreOption) *Store {
	s := &Store{
		basePath:    basePath,
		operationID: operationID,
		holderID:    holderID,
		maxBackups:  defaultMaxBackups,
		lockTimeout: doclock.DefaultTimeout,
		staleAge:    doclock.DefaultStaleAge,
		startTime:   startTime,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create writes a brand-new document, failing if one already exists.
func (s *Store) Create(ctx context.Context, doc *types.Document) error {
	l := s.lock("write")
	if err := l.Lock(ctx); err != nil {
		return newErr(KindLockFailed, s.operationID, err)
	}
	defer l.Unlock(ctx) //nolint:errcheck

	path := documentPath(s.basePath, s.operationID)
	if utils.ValidFile(path) {
		return newErr(KindIOError, s.operationID, fmt.Errorf("document already exists: %s", path))
	}
	if err := utils.EnsureDirs(s.basePath, trailDir(s.basePath, s.operationID)); err != nil {
		return newErr(KindIOError, s.operationID, err)
	}
	doc.Init()
	if err := s.writeLocked(doc); err != nil {
		return err
	}
	return nil
}

// Read loads the current document without locking for write. Callers that
// intend to mutate must use Update instead; Read is for heartbeat-adjacent
// inspection where a subsequent Update will re-validate state.
func (s *Store) Read(_ context.Context) (*types.Document, error) {
	return s.readUnlocked()
}

// Update performs the full acquire -> read -> mutate -> write+fsync ->
// unlock cycle. fn mutates doc in place; returning an error aborts the
// write (the lock is still released).
func (s *Store) Update(ctx context.Context, fn func(doc *types.Document) error) (*types.Document, error) {
	l := s.lock("write")
	if err := l.Lock(ctx); err != nil {
		return nil, newErr(KindLockFailed, s.operationID, err)
	}
	defer l.Unlock(ctx) //nolint:errcheck

	doc, err := s.readUnlocked()
	if err != nil {
		return nil, err
	}
	if err := fn(doc); err != nil {
		return nil, err
	}
	if err := s.writeLocked(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// HolderID returns the participant identity this store uses to stamp lock
// files and new frames.
func (s *Store) HolderID() string { return s.holderID }

// OperationID returns the operation this store is bound to.
func (s *Store) OperationID() string { return s.operationID }

func (s *Store) lock(op string) *doclock.Lock {
	return doclock.New(lockPath(s.basePath, s.operationID), s.holderID, op,
		doclock.WithTimeout(s.lockTimeout), doclock.WithStaleAge(s.staleAge))
}

func (s *Store) readUnlocked() (*types.Document, error) {
	path := documentPath(s.basePath, s.operationID)
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newErr(KindNotFound, s.operationID, err)
		}
		return nil, newErr(KindIOError, s.operationID, err)
	}
	var doc types.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, newErr(KindIOError, s.operationID, fmt.Errorf("parse document: %w", err))
	}
	doc.Init()
	// The document's own startTime is authoritative for trail naming (spec
	// §6.1): a Store constructed without it yet (e.g. before the caller has
	// read the document, as in JoinOperation, or a per-request Store built
	// by the CLI/HTTP surface for an operation it didn't create) re-anchors
	// here instead of measuring elapsed time from an arbitrary wall-clock
	// value.
	if !doc.StartTime.IsZero() {
		s.startTime = doc.StartTime
	}
	return &doc, nil
}

// writeLocked persists doc, appends a trail snapshot, and prunes old trail
// entries beyond maxBackups. Must be called with the document lock held.
func (s *Store) writeLocked(doc *types.Document) error {
	path := documentPath(s.basePath, s.operationID)
	if err := utils.AtomicWriteJSON(path, doc); err != nil {
		return newErr(KindIOError, s.operationID, err)
	}
	if err := s.appendTrail(doc); err != nil {
		log.WithFunc("ledger.Store.writeLocked").Warnf(context.Background(), "trail snapshot for %s: %v", s.operationID, err)
	}
	return nil
}
