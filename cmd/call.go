package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coredpl/dpl/ledger"
	"github.com/coredpl/dpl/session"
	"github.com/coredpl/dpl/types"
)

func callCommand() *cobra.Command {
	callCmd := &cobra.Command{
		Use:   "call",
		Short: "Open, end and fail call frames within an operation",
	}

	startCmd := &cobra.Command{
		Use:   "start OPERATION_ID",
		Short: "Open a new call frame and print its call id",
		Args:  cobra.ExactArgs(1),
		RunE:  runCallStart,
	}
	startCmd.Flags().String("description", "", "free-form label for the call")
	startCmd.Flags().Bool("fail-on-crash", false, "abort the operation if this call crashes uncleanly")

	endCmd := &cobra.Command{
		Use:   "end OPERATION_ID CALL_ID",
		Short: "Close a call frame as successfully completed",
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE:  runCallEnd,
	}

	failCmd := &cobra.Command{
		Use:   "fail OPERATION_ID CALL_ID",
		Short: "Close a call frame as failed",
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE:  runCallFail,
	}
	failCmd.Flags().String("error", "", "error message to record for this failure")

	callCmd.AddCommand(startCmd, endCmd, failCmd)
	return callCmd
}

func runCallStart(cmd *cobra.Command, args []string) error {
	description, _ := cmd.Flags().GetString("description")
	failOnCrash, _ := cmd.Flags().GetBool("fail-on-crash")

	// startTime is a placeholder here: this command didn't create the
	// operation, so it doesn't know its real startTime yet. Store.Update's
	// first read re-anchors it from doc.StartTime before any trail write.
	store := ledger.NewStore(conf.BasePath, args[0], participantID(), time.Time{})
	callID := session.NewCallID()
	now := time.Now().UTC()

	_, err := store.Update(cmd.Context(), func(doc *types.Document) error {
		return ledger.AddFrame(doc, &types.Frame{
			ParticipantID: participantID(),
			CallID:        callID,
			StartTime:     now,
			LastHeartbeat: now,
			State:         types.FrameActive,
			Description:   description,
			FailOnCrash:   failOnCrash,
		})
	})
	if err != nil {
		return err
	}
	fmt.Println(callID)
	return nil
}

func runCallEnd(cmd *cobra.Command, args []string) error {
	store := ledger.NewStore(conf.BasePath, args[0], participantID(), time.Time{})
	_, err := store.Update(cmd.Context(), func(doc *types.Document) error {
		if _, ok := ledger.RemoveFrame(doc, args[1]); !ok {
			return fmt.Errorf("call %s not found in operation %s", args[1], args[0])
		}
		return nil
	})
	return err
}

func runCallFail(cmd *cobra.Command, args []string) error {
	errMsg, _ := cmd.Flags().GetString("error")
	store := ledger.NewStore(conf.BasePath, args[0], participantID(), time.Time{})
	_, err := store.Update(cmd.Context(), func(doc *types.Document) error {
		f, ok := ledger.RemoveFrame(doc, args[1])
		if !ok {
			return fmt.Errorf("call %s not found in operation %s", args[1], args[0])
		}
		if f.FailOnCrash {
			doc.Aborted = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if errMsg != "" {
		fmt.Println(errMsg)
	}
	return nil
}
