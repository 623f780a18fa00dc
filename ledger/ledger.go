package ledger

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coredpl/dpl/types"
)

// Ledger is the per-process entry point: it creates and joins operations,
// and owns the registry of operation handles this process currently holds
// open (spec §2, §4.3 "per operation per process").
type Ledger struct {
	basePath       string
	participantID  string
	maxBackups     int
	lockTimeout    time.Duration
	staleLockAge   time.Duration
	backupsEnabled bool

	mu       sync.Mutex
	handles  map[string]*Handle
}

// Option configures a Ledger constructed with New.
type Option func(*Ledger)

// WithMaxBackups overrides the default trail/backup retention count.
func WithMaxBackups(n int) Option { return func(l *Ledger) { l.maxBackups = n } }

// WithLockTimeout overrides the document lock acquisition timeout.
func WithLockTimeout(d time.Duration) Option { return func(l *Ledger) { l.lockTimeout = d } }

// WithStaleLockAge overrides the document lock's stale-age reclaim bound.
func WithStaleLockAge(d time.Duration) Option { return func(l *Ledger) { l.staleLockAge = d } }

// WithBackupsDisabled records on the Ledger that backups are disabled. The
// recorded value is not read anywhere: Store.Finalize decides between backup
// and deletion from its own backupsEnabled argument.
func WithBackupsDisabled() Option { return func(l *Ledger) { l.backupsEnabled = false } }

// New creates a Ledger rooted at basePath, acting on behalf of
// participantID (this process's stable identity within operations it
// creates or joins).
func New(basePath, participantID string, opts ...Option) *Ledger {
	l := &Ledger{
		basePath:       basePath,
		participantID:  participantID,
		maxBackups:     defaultMaxBackups,
		lockTimeout:    2 * time.Second, //nolint:mnd
		staleLockAge:   2 * time.Second, //nolint:mnd
		backupsEnabled: true,
		handles:        make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// BasePath returns the directory this Ledger reads and writes under.
func (l *Ledger) BasePath() string { return l.basePath }

// ParticipantID returns this process's participant identity.
func (l *Ledger) ParticipantID() string { return l.participantID }

// Handle is the per-process operation object returned by CreateOperation
// and JoinOperation: a Store bound to one operationId, plus the in-process
// session/join-count bookkeeping described in spec §4.5. Exactly one Handle
// exists per (Ledger, operationId) pair; repeated joins share it.
type Handle struct {
	ledger      *Ledger
	store       *Store
	operationID string

	mu        sync.Mutex
	sessions  int
	nextSess  int
}

// NewOperationID generates a URL-safe operation identifier of the form
// op_<unixmilli>_<uuid> (spec §3.1).
func NewOperationID() string {
	return fmt.Sprintf("op_%d_%s", time.Now().UnixMilli(), uuid.NewString())
}

// CreateOperation creates a brand-new operation document with this Ledger's
// participant as initiator, and returns a Handle plus its first session.
// If operationID is empty one is generated.
func (l *Ledger) CreateOperation(ctx context.Context, operationID, description string) (*Handle, *Session, error) {
	if operationID == "" {
		operationID = NewOperationID()
	}
	now := time.Now().UTC()
	doc := &types.Document{
		OperationID:   operationID,
		InitiatorID:   l.participantID,
		StartTime:     now,
		LastHeartbeat: now,
		State:         types.StateRunning,
		Description:   description,
	}

	store := l.newStore(operationID, now)
	if err := store.Create(ctx, doc); err != nil {
		return nil, nil, err
	}
	return l.registerHandle(operationID, store)
}

// JoinOperation attaches to an existing operation's document, appending a
// frame-less session for this participant. The operation must exist and be
// in a non-terminal state.
func (l *Ledger) JoinOperation(ctx context.Context, operationID string) (*Handle, *Session, error) {
	l.mu.Lock()
	h, exists := l.handles[operationID]
	l.mu.Unlock()
	if exists {
		return h, h.newSession(), nil
	}

	// startTime is a placeholder: the document's real startTime (not this
	// joining participant's wall-clock time) is what trail naming must be
	// relative to, and Store.readUnlocked re-anchors from doc.StartTime as
	// soon as Read below completes.
	store := l.newStore(operationID, time.Time{})
	doc, err := store.Read(ctx)
	if err != nil {
		return nil, nil, err
	}
	if doc.State == types.StateCompleted {
		return nil, nil, newErr(KindOperationCompleted, operationID, nil)
	}
	if doc.State == types.StateFailed {
		return nil, nil, newErr(KindOperationFailed, operationID, nil)
	}
	return l.registerHandle(operationID, store)
}

func (l *Ledger) newStore(operationID string, startTime time.Time) *Store {
	return NewStore(l.basePath, operationID, l.participantID, startTime,
		WithMaxBackups(l.maxBackups),
		WithLockTimeout(l.lockTimeout),
		WithStaleLockAge(l.staleLockAge),
	)
}

func (l *Ledger) registerHandle(operationID string, store *Store) (*Handle, *Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.handles[operationID]
	if !ok {
		h = &Handle{ledger: l, store: store, operationID: operationID}
		l.handles[operationID] = h
	}
	return h, h.newSession(), nil
}

// Store returns the underlying document Store for direct read access
// (heartbeat and cleanup packages operate on this).
func (h *Handle) Store() *Store { return h.store }

// OperationID returns the bound operation's id.
func (h *Handle) OperationID() string { return h.operationID }

// PID returns this process's pid, used to stamp frames this handle opens.
func (h *Handle) PID() int { return os.Getpid() }

// Session is a lightweight per-join local id (spec §4.5); it does not
// appear in the document. Sessions share the Handle's frame registry.
type Session struct {
	handle    *Handle
	sessionID int
}

func (h *Handle) newSession() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions++
	h.nextSess++
	s := &Session{handle: h, sessionID: h.nextSess}
	return s
}

// ID returns this session's process-local, monotonic id.
func (s *Session) ID() int { return s.sessionID }

// Handle returns the operation handle this session belongs to.
func (s *Session) Handle() *Handle { return s.handle }

// Leave decrements the handle's join counter. When it reaches zero the
// handle is removed from the Ledger's registry and the caller is expected
// to stop its heartbeat task. cancelPendingCalls must be true if any calls
// opened by this session are still outstanding.
func (s *Session) Leave(cancelPendingCalls bool, pendingCalls int) (last bool, err error) {
	h := s.handle
	h.mu.Lock()
	defer h.mu.Unlock()

	if pendingCalls > 0 && !cancelPendingCalls {
		return false, newErr(KindIOError, h.operationID,
			fmt.Errorf("leave: %d calls still pending and cancelPendingCalls=false", pendingCalls))
	}

	h.sessions--
	last = h.sessions <= 0
	if last {
		h.ledger.mu.Lock()
		delete(h.ledger.handles, h.operationID)
		h.ledger.mu.Unlock()
	}
	return last, nil
}
