package session

import (
	"context"
	"fmt"
	"time"

	"github.com/coredpl/dpl/utils"
)

// SupervisedProcess resolves a SupervisedFrame's opaque SupervisorHandle
// into the worker process it names, for an external supervisor reconciling
// ledger.SupervisorViewFor output against the processes it actually owns
// (spec §1, §9: the handle is opaque to the ledger; this package defines
// the one convention the process-worker combinators in this package
// produce — a PID sidecar file "<ResultPath>.pid" that ExecFileResultWorker
// writes next to the result artifact and removes when its work returns;
// ExecStdioWorker writes none).
type SupervisedProcess struct {
	PID        int
	BinaryName string
}

// ResolveSupervisorHandle reads the PID sidecar at handle and, if
// binaryName is non-empty, confirms that PID is still running that binary
// before trusting it — a supervisor acting on a frame that has been stale
// for a while may otherwise signal an unrelated process that reused the PID.
func ResolveSupervisorHandle(handle, binaryName string) (SupervisedProcess, error) {
	pid, err := utils.ReadPIDFile(handle)
	if err != nil {
		return SupervisedProcess{}, fmt.Errorf("resolve supervisor handle %s: %w", handle, err)
	}
	if binaryName != "" && !utils.VerifyProcess(pid, binaryName) {
		return SupervisedProcess{}, fmt.Errorf("resolve supervisor handle %s: pid %d is not running %s", handle, pid, binaryName)
	}
	return SupervisedProcess{PID: pid, BinaryName: binaryName}, nil
}

// TerminateSupervised resolves handle and terminates the process it names,
// gracefully within gracePeriod before escalating to SIGKILL. Used by an
// external supervisor acting on a crashed.SupervisedFrame (spec §4.4 Phase
// 2 supervisor role) once it has decided the frame's owner is gone for good.
func TerminateSupervised(ctx context.Context, handle, binaryName string, gracePeriod time.Duration) error {
	proc, err := ResolveSupervisorHandle(handle, binaryName)
	if err != nil {
		return nil //nolint:nilerr
	}
	return utils.TerminateProcess(ctx, proc.PID, gracePeriod)
}
