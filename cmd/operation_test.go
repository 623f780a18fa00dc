package cmd

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/coredpl/dpl/config"
	"github.com/coredpl/dpl/ledger"
	"github.com/coredpl/dpl/types"
)

func setTestConfig(t *testing.T) {
	t.Helper()
	c := config.DefaultConfig()
	c.BasePath = t.TempDir()
	c.ApplyDefaults()
	conf = c
}

func findSubcommand(root *cobra.Command, name string) *cobra.Command {
	for _, c := range root.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// captureStdout redirects os.Stdout for the duration of fn and returns what
// was printed; RunE handlers in this package print with fmt.Println/Printf
// rather than writing to a cobra-provided writer.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	fn()
	os.Stdout = orig
	w.Close() //nolint:errcheck
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read captured stdout: %v", err)
	}
	return string(data)
}

func createTestOperation(t *testing.T) string {
	t.Helper()
	l := newLedger()
	h, _, err := l.CreateOperation(context.Background(), "", "test")
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}
	return h.OperationID()
}

func TestRunOperationCompleteRequiresNoOpenFrames(t *testing.T) {
	setTestConfig(t)
	opID := createTestOperation(t)

	root := operationCommand()
	sub := findSubcommand(root, "complete")
	sub.SetContext(context.Background())

	out := captureStdout(t, func() {
		if err := runOperationComplete(sub, []string{opID}); err != nil {
			t.Fatalf("runOperationComplete: %v", err)
		}
	})
	if !strings.Contains(out, opID) {
		t.Fatalf("output = %q, want it to mention %s", out, opID)
	}
}

func TestRunOperationAbortSetsFlag(t *testing.T) {
	setTestConfig(t)
	opID := createTestOperation(t)

	root := operationCommand()
	sub := findSubcommand(root, "abort")
	sub.SetContext(context.Background())

	captureStdout(t, func() {
		if err := runOperationAbort(sub, []string{opID}); err != nil {
			t.Fatalf("runOperationAbort: %v", err)
		}
	})

	store := ledger.NewStore(conf.BasePath, opID, participantID(), time.Time{})
	doc, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !doc.Aborted {
		t.Fatalf("expected Aborted to be true")
	}
}

func TestRunOperationStatePrintsDocument(t *testing.T) {
	setTestConfig(t)
	opID := createTestOperation(t)

	root := operationCommand()
	sub := findSubcommand(root, "state")
	sub.SetContext(context.Background())

	out := captureStdout(t, func() {
		if err := runOperationState(sub, []string{opID}); err != nil {
			t.Fatalf("runOperationState: %v", err)
		}
	})
	if !strings.Contains(out, opID) {
		t.Fatalf("output = %q, want it to mention %s", out, opID)
	}
	if !strings.Contains(out, "frames:") {
		t.Fatalf("output = %q, want a frames section", out)
	}
}

func TestRunOperationLogPrintsTaggedMessage(t *testing.T) {
	setTestConfig(t)

	root := operationCommand()
	sub := findSubcommand(root, "log")
	sub.SetContext(context.Background())
	if err := sub.Flags().Set("level", "info"); err != nil {
		t.Fatalf("set level flag: %v", err)
	}

	out := captureStdout(t, func() {
		if err := runOperationLog(sub, []string{"op-123", "hello there"}); err != nil {
			t.Fatalf("runOperationLog: %v", err)
		}
	})
	if !strings.Contains(out, "[op-123]") || !strings.Contains(out, "hello there") {
		t.Fatalf("output = %q, want tagged message", out)
	}
}

func TestRunOperationListPrintsTable(t *testing.T) {
	setTestConfig(t)
	opID := createTestOperation(t)

	root := operationCommand()
	sub := findSubcommand(root, "list")
	sub.SetContext(context.Background())

	out := captureStdout(t, func() {
		if err := runOperationList(sub, nil); err != nil {
			t.Fatalf("runOperationList: %v", err)
		}
	})
	if !strings.Contains(out, opID) {
		t.Fatalf("output = %q, want to list %s", out, opID)
	}
	if !strings.Contains(out, "OPERATION") {
		t.Fatalf("output = %q, want a header row", out)
	}
}

func TestRunOperationResourcePrintsRegisteredResource(t *testing.T) {
	setTestConfig(t)
	opID := createTestOperation(t)

	resourcePath := conf.BasePath + "/scratch.bin"
	if err := os.WriteFile(resourcePath, []byte("0123456789"), 0o600); err != nil {
		t.Fatalf("write scratch resource: %v", err)
	}

	store := ledger.NewStore(conf.BasePath, opID, participantID(), time.Time{})
	if _, err := store.Update(context.Background(), func(doc *types.Document) error {
		ledger.RegisterTempResource(doc, resourcePath, 1, time.Now().UTC())
		return nil
	}); err != nil {
		t.Fatalf("RegisterTempResource: %v", err)
	}

	root := operationCommand()
	sub := findSubcommand(root, "resource")
	sub.SetContext(context.Background())

	out := captureStdout(t, func() {
		if err := runOperationResource(sub, []string{opID, resourcePath}); err != nil {
			t.Fatalf("runOperationResource: %v", err)
		}
	})
	if !strings.Contains(out, resourcePath) {
		t.Fatalf("output = %q, want to mention %s", out, resourcePath)
	}
}

func TestRunOperationWatchFallsBackToStateWhenNotATerminal(t *testing.T) {
	setTestConfig(t)
	opID := createTestOperation(t)

	root := operationCommand()
	sub := findSubcommand(root, "watch")
	sub.SetContext(context.Background())

	out := captureStdout(t, func() {
		if err := runOperationWatch(sub, []string{opID}); err != nil {
			t.Fatalf("runOperationWatch: %v", err)
		}
	})
	if !strings.Contains(out, opID) {
		t.Fatalf("output = %q, want to print the operation once (non-tty fallback)", out)
	}
}
