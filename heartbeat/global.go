package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/coredpl/dpl/ledger"
)

// StalenessObserved is emitted on Global's channel for an operation whose
// on-disk lastHeartbeat looks older than staleThreshold. Global never
// mutates the document itself (spec §4.3 "does not mutate documents owned
// by other participants") — it is purely an observability signal for the
// caller to act on (e.g. surfacing in `dpl operation list`).
type StalenessObserved struct {
	OperationID   string
	LastHeartbeat time.Time
	Age           time.Duration
}

// Global scans every known operation under a Ledger's basePath on a slower
// cadence than any single operation's heartbeat (spec §4.3).
type Global struct {
	basePath       string
	holderID       string
	interval       time.Duration
	staleThreshold time.Duration
	events         chan StalenessObserved

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewGlobal creates and starts a Global scanner. Events is a buffered
// channel the caller should drain; a full channel simply drops the oldest
// pending event rather than blocking the scan loop.
func NewGlobal(basePath, holderID string, interval, staleThreshold time.Duration) *Global {
	g := &Global{
		basePath:       basePath,
		holderID:       holderID,
		interval:       interval,
		staleThreshold: staleThreshold,
		events:         make(chan StalenessObserved, 32), //nolint:mnd
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	go g.run()
	return g
}

// Events returns the channel StalenessObserved notifications are sent on.
func (g *Global) Events() <-chan StalenessObserved { return g.events }

// Stop halts the scan loop and blocks until it has exited.
func (g *Global) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	g.mu.Unlock()

	close(g.stopCh)
	<-g.doneCh
}

func (g *Global) run() {
	defer close(g.doneCh)
	logger := log.WithFunc("heartbeat.Global.run")
	ctx := context.Background()

	for {
		select {
		case <-g.stopCh:
			return
		case <-time.After(g.interval):
		}

		summaries, err := ledger.ListOperations(ctx, g.basePath, g.holderID)
		if err != nil {
			logger.Warnf(ctx, "list operations: %v", err)
			continue
		}
		now := time.Now().UTC()
		for _, s := range summaries {
			age := now.Sub(s.LastHeartbeat)
			if age <= g.staleThreshold {
				continue
			}
			g.send(StalenessObserved{OperationID: s.OperationID, LastHeartbeat: s.LastHeartbeat, Age: age})
		}
	}
}

func (g *Global) send(ev StalenessObserved) {
	select {
	case g.events <- ev:
	default:
		select {
		case <-g.events:
		default:
		}
		select {
		case g.events <- ev:
		default:
		}
	}
}
