package ledger

import "path/filepath"

const (
	documentSuffix = ".operation.json"
	lockSuffix     = ".operation.json.lock"
	trailsDirName  = "trails"
	backupsDirName = "backups"
)

// documentPath is the live document: "<basePath>/<operationId>.operation.json".
func documentPath(basePath, operationID string) string {
	return filepath.Join(basePath, operationID+documentSuffix)
}

// lockPath is the named lock guarding documentPath (spec §6.1).
func lockPath(basePath, operationID string) string {
	return filepath.Join(basePath, operationID+lockSuffix)
}

// trailDir holds this operation's per-mutation snapshot series.
func trailDir(basePath, operationID string) string {
	return filepath.Join(basePath, trailsDirName, operationID)
}

// backupDir holds this operation's terminal snapshot.
func backupDir(basePath, operationID string) string {
	return filepath.Join(basePath, backupsDirName, operationID)
}

func backupDocumentPath(basePath, operationID string) string {
	return filepath.Join(backupDir(basePath, operationID), "operation.json")
}
