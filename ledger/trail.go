package ledger

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/coredpl/dpl/utils"
)

// appendTrail writes a snapshot of doc into trails/<operationId>/<elapsed>.json
// (spec §6.1), where elapsed is SSS.mmm since the store's startTime, forced
// strictly monotonic with a numeric suffix on collision, then prunes the
// trail down to maxBackups entries. A Store is recreated per CLI invocation
// and per HTTP request (spec §6.2), so the in-memory lastTrailElapsed/
// trailSeq baseline from a prior instance is gone; the existing trail
// directory is consulted on every write so collisions are still caught
// across process boundaries, not just within one Store's lifetime.
func (s *Store) appendTrail(doc any) error {
	dir := trailDir(s.basePath, s.operationID)
	if err := utils.EnsureDirs(dir); err != nil {
		return err
	}

	baseline, seq := s.lastTrailElapsed, s.trailSeq
	if diskElapsed, diskSeq, ok := latestTrailEntry(dir); ok && diskElapsed >= baseline {
		baseline, seq = diskElapsed, diskSeq
	}

	elapsed := time.Since(s.startTime).Seconds()
	if elapsed <= baseline {
		elapsed = baseline
		seq++
	} else {
		seq = 0
	}
	s.lastTrailElapsed = elapsed
	s.trailSeq = seq

	name := fmt.Sprintf("%07.3f.json", elapsed)
	if seq > 0 {
		name = fmt.Sprintf("%07.3f-%d.json", elapsed, seq)
	}

	if err := utils.AtomicWriteJSON(trailPath(dir, name), doc); err != nil {
		return fmt.Errorf("write trail snapshot: %w", err)
	}
	return s.pruneTrail(dir)
}

// latestTrailEntry scans dir's existing "<elapsed>[-seq].json" trail
// snapshots and returns the highest (elapsed, seq) pair found, so a freshly
// constructed Store can resume the collision-suffix sequence where the last
// process left off instead of restarting it at zero.
func latestTrailEntry(dir string) (elapsed float64, seq int, ok bool) {
	for _, stem := range utils.ScanFileStems(dir, ".json") {
		parts := strings.SplitN(stem, "-", 2) //nolint:mnd
		e, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			continue
		}
		s := 0
		if len(parts) == 2 { //nolint:mnd
			s, err = strconv.Atoi(parts[1])
			if err != nil {
				continue
			}
		}
		if !ok || e > elapsed || (e == elapsed && s > seq) {
			elapsed, seq, ok = e, s, true
		}
	}
	return elapsed, seq, ok
}

func trailPath(dir, name string) string {
	return dir + "/" + name
}

// pruneTrail keeps only the most recent maxBackups trail files, deleting the
// oldest by name (names sort lexically in elapsed order since the format is
// zero-padded) per spec §4.1.
func (s *Store) pruneTrail(dir string) error {
	if s.maxBackups <= 0 {
		return nil
	}
	names := utils.ScanFileStems(dir, ".json")
	if len(names) <= s.maxBackups {
		return nil
	}
	sort.Strings(names)

	excess := len(names) - s.maxBackups
	remove := make(map[string]struct{}, excess)
	for _, n := range names[:excess] {
		remove[n+".json"] = struct{}{}
	}

	errs := utils.RemoveMatching(context.Background(), dir, func(e os.DirEntry) bool {
		_, ok := remove[e.Name()]
		return ok
	})
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
