// Package signalcleanup provides the process-wide, ledger-independent
// temp-file reclaim path (spec §4.6): a single registry installed once per
// process, invoked on SIGINT/SIGTERM, that runs registered callbacks and
// unlinks tracked temp paths even if the operation document is locked.
package signalcleanup

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/projecteru2/core/log"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry is the process-wide SIGINT/SIGTERM cleanup registry. Use Global
// to obtain the single shared instance; constructing one directly is only
// for tests.
type Registry struct {
	mu        sync.Mutex
	callbacks []namedCallback
	paths     map[string]struct{}
}

type namedCallback struct {
	id string
	fn func()
}

// New creates a standalone Registry, not wired to any signal handler. Tests
// use this to exercise Run() deterministically.
func New() *Registry {
	return &Registry{paths: make(map[string]struct{})}
}

// Global returns the single process-wide Registry, installing its signal
// handler exactly once (spec §9 "installed exactly once per process;
// multiple Ledger instances share one registry").
func Global() *Registry {
	once.Do(func() {
		registry = New()
		registry.install()
	})
	return registry
}

// RegisterCallback adds a cleanup callback, run in registration order on
// signal. Returns an id usable with Unregister.
func (r *Registry) RegisterCallback(fn func()) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := newID()
	r.callbacks = append(r.callbacks, namedCallback{id: id, fn: fn})
	return id
}

// Unregister removes a previously registered callback. Tracked paths are
// removed with UntrackPath instead.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cb := range r.callbacks {
		if cb.id == id {
			r.callbacks = append(r.callbacks[:i], r.callbacks[i+1:]...)
			return
		}
	}
}

// TrackPath registers path for unconditional unlink on signal, after
// callbacks have run.
func (r *Registry) TrackPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[path] = struct{}{}
}

// UntrackPath removes path from the tracked set, e.g. once the owner has
// already cleaned it up normally.
func (r *Registry) UntrackPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paths, path)
}

// Run executes every registered callback in registration order, then
// unlinks every tracked path, ignoring "not found" errors. Exposed for
// tests and for manual invocation outside the signal path.
func (r *Registry) Run(ctx context.Context) {
	logger := log.WithFunc("signalcleanup.Registry.Run")

	r.mu.Lock()
	callbacks := make([]namedCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	paths := make([]string, 0, len(r.paths))
	for p := range r.paths {
		paths = append(paths, p)
	}
	r.mu.Unlock()

	for _, cb := range callbacks {
		cb.fn()
	}
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil && !os.IsNotExist(err) {
			logger.Warnf(ctx, "unlink %s: %v", p, err)
		}
	}
}

func (r *Registry) install() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
		r.Run(context.Background())
		os.Exit(1)
	}()
}

var idCounter struct {
	mu sync.Mutex
	n  int
}

func newID() string {
	idCounter.mu.Lock()
	defer idCounter.mu.Unlock()
	idCounter.n++
	return "cb_" + strconv.Itoa(idCounter.n)
}
