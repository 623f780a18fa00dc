package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/coredpl/dpl/heartbeat"
	"github.com/coredpl/dpl/ledger"
	"github.com/coredpl/dpl/types"
)

func operationCommand() *cobra.Command {
	opCmd := &cobra.Command{
		Use:   "operation",
		Short: "Create, join and inspect operations",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new operation and start heartbeating it",
		RunE:  runOperationCreate,
	}
	createCmd.Flags().String("description", "", "free-form label for the operation")

	joinCmd := &cobra.Command{
		Use:   "join OPERATION_ID",
		Short: "Join an existing operation and start heartbeating it",
		Args:  cobra.ExactArgs(1),
		RunE:  runOperationJoin,
	}

	completeCmd := &cobra.Command{
		Use:   "complete OPERATION_ID",
		Short: "Complete an operation (initiator only, no other open frames)",
		Args:  cobra.ExactArgs(1),
		RunE:  runOperationComplete,
	}

	abortCmd := &cobra.Command{
		Use:   "abort OPERATION_ID",
		Short: "Set the aborted flag on an operation",
		Args:  cobra.ExactArgs(1),
		RunE:  runOperationAbort,
	}

	stateCmd := &cobra.Command{
		Use:   "state OPERATION_ID",
		Short: "Print an operation's current document state",
		Args:  cobra.ExactArgs(1),
		RunE:  runOperationState,
	}

	logCmd := &cobra.Command{
		Use:   "log OPERATION_ID MESSAGE",
		Short: "Emit a structured log line tagged with an operation id",
		Args:  cobra.ExactArgs(2),
		RunE:  runOperationLog,
	}
	logCmd.Flags().String("level", "info", "log level (info|warn)")

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List known operations",
		RunE:    runOperationList,
	}

	watchCmd := &cobra.Command{
		Use:   "watch OPERATION_ID",
		Short: "Follow an operation's state until it reaches a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE:  runOperationWatch,
	}

	resourceCmd := &cobra.Command{
		Use:   "resource OPERATION_ID PATH",
		Short: "Print a single registered temp resource's owner and on-disk size",
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE:  runOperationResource,
	}

	opCmd.AddCommand(createCmd, joinCmd, completeCmd, abortCmd, stateCmd, logCmd, listCmd, watchCmd, resourceCmd)
	return opCmd
}

func runOperationResource(cmd *cobra.Command, args []string) error {
	store := ledger.NewStore(conf.BasePath, args[0], participantID(), time.Time{})
	doc, err := store.Read(cmd.Context())
	if err != nil {
		return err
	}
	res, err := ledger.GetTempResource(doc, args[1])
	if err != nil {
		return err
	}
	fmt.Printf("path:     %s\nowner:    %d\nsize:     %s\nsince:    %s\n",
		res.Path, res.Owner, pathSize(res.Path), res.RegisteredAt.Local().Format(time.DateTime))
	return nil
}

func newLedger() *ledger.Ledger {
	return ledger.New(conf.BasePath, participantID(),
		ledger.WithMaxBackups(conf.MaxBackups),
		ledger.WithLockTimeout(conf.LockTimeout),
		ledger.WithStaleLockAge(conf.StaleLockAge),
	)
}

// runHeartbeat starts an Engine for h and blocks until ctx is cancelled; an
// engine that stops itself (operation finalized) does not end the wait.
// Printed diagnostics are
// the CLI's equivalent of a caller's OnError/OnAbort/OnOperationFailed
// callbacks (spec §4.3).
func runHeartbeat(ctx context.Context, h *ledger.Handle) {
	stopped := make(chan struct{})
	eng := heartbeat.New(h, "", heartbeat.Options{
		Interval:       conf.HeartbeatInterval,
		Jitter:         conf.HeartbeatJitter,
		StaleThreshold: conf.StaleThreshold,
		BackupsEnabled: conf.BackupsEnabled,
		Callbacks: heartbeat.Callbacks{
			OnError: func(lerr *ledger.Error) {
				fmt.Fprintf(os.Stderr, "heartbeat error: %v\n", lerr)
			},
			OnAbort: func() {
				fmt.Fprintln(os.Stderr, "operation aborted")
			},
			OnOperationFailed: func(doc *types.Document) {
				fmt.Fprintf(os.Stderr, "operation %s reached state %s\n", doc.OperationID, doc.State)
			},
		},
	})
	go func() {
		<-ctx.Done()
		eng.Stop()
		close(stopped)
	}()
	<-stopped
}

func runOperationCreate(cmd *cobra.Command, _ []string) error {
	description, _ := cmd.Flags().GetString("description")
	l := newLedger()
	h, _, err := l.CreateOperation(cmd.Context(), "", description)
	if err != nil {
		return err
	}
	fmt.Println(h.OperationID())

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	runHeartbeat(ctx, h)
	return nil
}

func runOperationJoin(cmd *cobra.Command, args []string) error {
	l := newLedger()
	h, sess, err := l.JoinOperation(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("joined %s as session %d\n", h.OperationID(), sess.ID())

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	runHeartbeat(ctx, h)
	return nil
}

func runOperationComplete(cmd *cobra.Command, args []string) error {
	// startTime is a placeholder: this command joins an existing operation
	// rather than creating it, so Store.Update's read re-anchors it from
	// doc.StartTime before the completing write's trail snapshot.
	store := ledger.NewStore(conf.BasePath, args[0], participantID(), time.Time{},
		ledger.WithMaxBackups(conf.MaxBackups))
	doc, err := store.Update(cmd.Context(), func(doc *types.Document) error {
		if doc.InitiatorID != participantID() {
			return fmt.Errorf("operation %s can only be completed by its initiator %s", doc.OperationID, doc.InitiatorID)
		}
		if !ledger.CanComplete(doc, doc.InitiatorID) {
			return fmt.Errorf("operation %s still has other participants' frames open", doc.OperationID)
		}
		doc.CallFrames = nil
		return ledger.Transition(doc, types.StateCompleted)
	})
	if err != nil {
		return err
	}
	if err := store.Finalize(cmd.Context(), conf.BackupsEnabled, doc); err != nil {
		return err
	}
	fmt.Printf("completed %s\n", args[0])
	return nil
}

func runOperationAbort(cmd *cobra.Command, args []string) error {
	store := ledger.NewStore(conf.BasePath, args[0], participantID(), time.Time{})
	_, err := store.Update(cmd.Context(), func(doc *types.Document) error {
		doc.Aborted = true
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("aborted %s\n", args[0])
	return nil
}

func runOperationState(cmd *cobra.Command, args []string) error {
	store := ledger.NewStore(conf.BasePath, args[0], participantID(), time.Time{})
	doc, err := store.Read(cmd.Context())
	if err != nil {
		return err
	}
	printDoc(doc)
	return nil
}

func runOperationLog(cmd *cobra.Command, args []string) error {
	level, _ := cmd.Flags().GetString("level")
	tag := fmt.Sprintf("[%s]", args[0])
	if level == "warn" {
		fmt.Fprintln(os.Stderr, tag, args[1])
	} else {
		fmt.Println(tag, args[1])
	}
	return nil
}

func runOperationList(cmd *cobra.Command, _ []string) error {
	summaries, err := ledger.ListOperations(cmd.Context(), conf.BasePath, participantID())
	if err != nil {
		return err
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastHeartbeat.Before(summaries[j].LastHeartbeat)
	})
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0) //nolint:mnd
	fmt.Fprintln(w, "OPERATION\tINITIATOR\tSTATE\tFRAMES\tLAST HEARTBEAT")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			s.OperationID, s.InitiatorID, s.State, s.FrameCount,
			s.LastHeartbeat.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runOperationWatch(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return runOperationState(cmd, args)
	}
	store := ledger.NewStore(conf.BasePath, args[0], participantID(), time.Time{})
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond) //nolint:mnd
	defer ticker.Stop()
	for {
		doc, err := store.Read(ctx)
		if err != nil {
			return err
		}
		fmt.Print("\033[H\033[2J") //nolint:mnd
		printDoc(doc)
		if doc.State == types.StateCompleted || doc.State == types.StateFailed {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printDoc(doc *types.Document) {
	fmt.Printf("operation:   %s\n", doc.OperationID)
	fmt.Printf("initiator:   %s\n", doc.InitiatorID)
	fmt.Printf("state:       %s\n", doc.State)
	fmt.Printf("aborted:     %t\n", doc.Aborted)
	fmt.Printf("heartbeat:   %s\n", doc.LastHeartbeat.Local().Format(time.DateTime))
	if len(doc.CallFrames) == 0 {
		fmt.Println("frames:      (none)")
		return
	}
	fmt.Println("frames:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0) //nolint:mnd
	fmt.Fprintln(w, "  PARTICIPANT\tCALL\tPID\tSTATE\tHEARTBEAT")
	for _, f := range doc.CallFrames {
		fmt.Fprintf(w, "  %s\t%s\t%d\t%s\t%s\n",
			f.ParticipantID, truncate(f.CallID, 12), f.PID, f.State, //nolint:mnd
			f.LastHeartbeat.Local().Format(time.DateTime))
	}
	_ = w.Flush()
	printTempResources(doc)
}

// printTempResources lists registered temp resources with their current
// on-disk size, the CLI's view into spec §3.1/invariant 6's guaranteed
// reclaim set.
func printTempResources(doc *types.Document) {
	if len(doc.TempResources) == 0 {
		return
	}
	fmt.Println("tempResources:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0) //nolint:mnd
	fmt.Fprintln(w, "  PATH\tOWNER\tSIZE\tREGISTERED")
	for _, r := range doc.TempResources {
		fmt.Fprintf(w, "  %s\t%d\t%s\t%s\n",
			r.Path, r.Owner, pathSize(r.Path), r.RegisteredAt.Local().Format(time.DateTime))
	}
	_ = w.Flush()
}

func pathSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "-"
	}
	return units.HumanSize(float64(info.Size()))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
