package session

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/coredpl/dpl/ledger"
	"github.com/coredpl/dpl/utils"
)

const defaultResultPollInterval = 100 * time.Millisecond

// ExecFileResultWorkerOptions configures ExecFileResultWorker.
type ExecFileResultWorkerOptions[T any] struct {
	StartCall    SpawnCallOptions[T]
	Command      string
	Args         []string
	ResultPath   string
	ResultWait   time.Duration
	Deserialize  func([]byte) (T, error)
}

// ExecFileResultWorker spawns a child process attached to the call for
// Kill, polls for a result artifact at ResultPath, parses it via
// Deserialize, and feeds the outcome into the spawned-call machinery. This
// is the file-result shape of spec §4.5's process-worker combinators,
// grounded on the teacher's launchProcess/waitForSocket pattern:
// exec.Command with Setpgid so the child survives cleanly, a PID file, and
// utils.WaitFor-style polling for the artifact.
func ExecFileResultWorker[T any](ctx context.Context, h *ledger.Handle, opts ExecFileResultWorkerOptions[T]) (*SpawnedCall[T], error) {
	wait := opts.ResultWait
	if wait <= 0 {
		wait = 30 * time.Second //nolint:mnd
	}

	startOpts := opts.StartCall
	work := startOpts.Work
	startOpts.Work = func(workCtx context.Context, call *SpawnedCall[T]) (T, error) {
		var zero T
		cmd := exec.CommandContext(workCtx, opts.Command, opts.Args...) //nolint:gosec
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		if err := cmd.Start(); err != nil {
			return zero, fmt.Errorf("exec %s: %w", opts.Command, err)
		}
		call.AttachProcess(cmd.Process)

		pidPath := opts.ResultPath + ".pid"
		_ = utils.WritePIDFile(pidPath, cmd.Process.Pid)
		defer os.Remove(pidPath) //nolint:errcheck

		waitErr := make(chan error, 1)
		go func() { waitErr <- cmd.Wait() }()

		pollErr := utils.WaitFor(workCtx, wait, defaultResultPollInterval, func() (bool, error) {
			if call.IsCancelled() {
				return false, fmt.Errorf("cancelled")
			}
			return utils.ValidFile(opts.ResultPath), nil
		})
		<-waitErr
		if pollErr != nil {
			return zero, pollErr
		}

		data, err := os.ReadFile(opts.ResultPath) //nolint:gosec
		if err != nil {
			return zero, fmt.Errorf("read result file: %w", err)
		}
		if work != nil {
			return work(workCtx, call)
		}
		return opts.Deserialize(data)
	}

	return SpawnCall(ctx, h, startOpts)
}

// ExecStdioWorkerOptions configures ExecStdioWorker.
type ExecStdioWorkerOptions[T any] struct {
	StartCall   SpawnCallOptions[T]
	Command     string
	Args        []string
	Deserialize func([]byte) (T, error)
}

// ExecStdioWorker is the stdout-result shape of spec §4.5's process-worker
// combinators: runs Command, captures stdout, and parses it via
// Deserialize once the process exits.
func ExecStdioWorker[T any](ctx context.Context, h *ledger.Handle, opts ExecStdioWorkerOptions[T]) (*SpawnedCall[T], error) {
	startOpts := opts.StartCall
	startOpts.Work = func(workCtx context.Context, call *SpawnedCall[T]) (T, error) {
		var zero T
		cmd := exec.CommandContext(workCtx, opts.Command, opts.Args...) //nolint:gosec
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		var stdout bytes.Buffer
		cmd.Stdout = &stdout

		if err := cmd.Start(); err != nil {
			return zero, fmt.Errorf("exec %s: %w", opts.Command, err)
		}
		call.AttachProcess(cmd.Process)

		if err := cmd.Wait(); err != nil {
			return zero, fmt.Errorf("%s exited: %w", opts.Command, err)
		}
		return opts.Deserialize(stdout.Bytes())
	}

	return SpawnCall(ctx, h, startOpts)
}
