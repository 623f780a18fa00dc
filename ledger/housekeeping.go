package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/coredpl/dpl/lock/flock"
	"github.com/coredpl/dpl/types"
	"github.com/coredpl/dpl/utils"
)

// housekeepingLockName guards the shared backups/ directory across
// processes: unlike the per-operation document lock, pruning walks every
// operation's backup folder at once, so it uses OS advisory locking
// (lock/flock) rather than the doclock protocol.
const housekeepingLockName = ".housekeeping.lock"

// Finalize moves the operation's live document into backups/<operationId>/
// (plus its most recent trail snapshot) and removes the live document and
// lock file, per spec §4.4 Phase 4 and §4.2's completion path. If
// backupsEnabled is false the document and its trail are deleted outright.
func (s *Store) Finalize(ctx context.Context, backupsEnabled bool, doc *types.Document) error {
	if !backupsEnabled {
		return s.deleteAll()
	}

	dest := backupDir(s.basePath, s.operationID)
	if err := utils.EnsureDirs(dest); err != nil {
		return newErr(KindIOError, s.operationID, err)
	}
	if err := utils.AtomicWriteJSON(backupDocumentPath(s.basePath, s.operationID), doc); err != nil {
		return newErr(KindIOError, s.operationID, err)
	}
	if last := s.lastTrailFile(); last != "" {
		if data, err := os.ReadFile(last); err == nil { //nolint:gosec
			_ = utils.AtomicWriteFile(filepath.Join(dest, filepath.Base(last)), data, 0o644) //nolint:mnd
		}
	}

	if err := s.deleteLiveFiles(); err != nil {
		return err
	}
	return s.pruneBackups(ctx)
}

// deleteAll removes the live document, lock file and trail directory
// without creating a backup.
func (s *Store) deleteAll() error {
	if err := s.deleteLiveFiles(); err != nil {
		return err
	}
	if err := os.RemoveAll(trailDir(s.basePath, s.operationID)); err != nil && !os.IsNotExist(err) {
		return newErr(KindIOError, s.operationID, err)
	}
	return nil
}

func (s *Store) deleteLiveFiles() error {
	for _, p := range []string{documentPath(s.basePath, s.operationID), lockPath(s.basePath, s.operationID)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return newErr(KindIOError, s.operationID, err)
		}
	}
	return nil
}

// lastTrailFile returns the path of the most recently written trail
// snapshot, or "" if none exist.
func (s *Store) lastTrailFile() string {
	dir := trailDir(s.basePath, s.operationID)
	names := utils.ScanFileStems(dir, ".json")
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]+".json")
}

// pruneBackups bounds the number of retained backup folders under basePath
// to maxBackups (spec §4.1), deleting the oldest by modification time. The
// scan spans every operation's backup, so it is serialized by a cross-process
// flock rather than any single operation's document lock.
func (s *Store) pruneBackups(ctx context.Context) error {
	if s.maxBackups <= 0 {
		return nil
	}
	l := flock.New(filepath.Join(s.basePath, housekeepingLockName))
	if err := l.Lock(ctx); err != nil {
		return fmt.Errorf("acquire housekeeping lock: %w", err)
	}
	defer l.Unlock(ctx) //nolint:errcheck

	root := filepath.Join(s.basePath, backupsDirName)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", root, err)
	}
	if len(entries) <= s.maxBackups {
		return nil
	}

	type backup struct {
		name    string
		modTime int64
	}
	backups := make([]backup, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{name: e.Name(), modTime: info.ModTime().UnixNano()})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].modTime < backups[j].modTime })

	excess := len(backups) - s.maxBackups
	if excess <= 0 {
		return nil
	}
	for _, b := range backups[:excess] {
		_ = os.RemoveAll(filepath.Join(root, b.name))
	}
	return nil
}

// SweepOrphanedDirs removes trails/<id> and backups/<id> directories whose
// operation has no live document. Every such directory is named after an
// operationId, so the live set under basePath (".operation.json" stems) is
// the reference set: anything under trails/ or backups/ not in that set is
// removed. That includes the backups/<id> folders Finalize writes for
// operations that completed or failed; no backup is kept apart from the
// sweep. Callers run this during startup or idle housekeeping, not on the
// per-operation hot path.
func SweepOrphanedDirs(ctx context.Context, basePath string) ([]string, error) {
	live := utils.ScanFileStems(basePath, documentSuffix)
	refs := make(map[string]struct{}, len(live))
	for _, id := range live {
		refs[id] = struct{}{}
	}

	l := flock.New(filepath.Join(basePath, housekeepingLockName))
	if err := l.Lock(ctx); err != nil {
		return nil, fmt.Errorf("acquire housekeeping lock: %w", err)
	}
	defer l.Unlock(ctx) //nolint:errcheck

	var removed []string
	for _, sub := range []string{trailsDirName, backupsDirName} {
		dir := filepath.Join(basePath, sub)
		candidates := utils.ScanSubdirs(dir)
		for _, name := range utils.FilterUnreferenced(candidates, refs) {
			path := filepath.Join(dir, name)
			if err := os.RemoveAll(path); err != nil {
				return removed, fmt.Errorf("remove orphaned %s: %w", path, err)
			}
			removed = append(removed, path)
		}
	}
	return removed, nil
}
