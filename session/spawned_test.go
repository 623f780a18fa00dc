package session

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/coredpl/dpl/ledger"
)

func TestSpawnCallSuccess(t *testing.T) {
	h := newTestCallHandle(t)
	sc, err := SpawnCall[int](context.Background(), h, SpawnCallOptions[int]{
		Work: func(_ context.Context, _ *SpawnedCall[int]) (int, error) { return 7, nil },
	})
	if err != nil {
		t.Fatalf("SpawnCall: %v", err)
	}

	v, err := sc.Await(context.Background())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if v != 7 {
		t.Fatalf("v = %d, want 7", v)
	}
	if !sc.IsSuccess() || sc.IsFailed() {
		t.Fatalf("expected a successful call")
	}

	doc, _ := h.Store().Read(context.Background())
	if _, ok := ledger.FindFrame(doc, sc.ID()); ok {
		t.Fatalf("frame should be removed once the call completes")
	}
}

func TestSpawnCallFailureSetsAbortedWhenFailOnCrash(t *testing.T) {
	h := newTestCallHandle(t)
	wantErr := errors.New("boom")
	sc, err := SpawnCall[int](context.Background(), h, SpawnCallOptions[int]{
		FailOnCrash: true,
		Work:        func(_ context.Context, _ *SpawnedCall[int]) (int, error) { return 0, wantErr },
	})
	if err != nil {
		t.Fatalf("SpawnCall: %v", err)
	}

	_, err = sc.Await(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("Await error = %v, want %v", err, wantErr)
	}
	if !sc.IsFailed() {
		t.Fatalf("expected IsFailed")
	}
	if sc.StackTrace() == "" {
		t.Fatalf("expected a captured stack trace on failure")
	}

	doc, _ := h.Store().Read(context.Background())
	if !doc.Aborted {
		t.Fatalf("document should be aborted after a failOnCrash spawned call fails")
	}
}

func TestSpawnCallCancel(t *testing.T) {
	h := newTestCallHandle(t)
	cancelled := make(chan struct{})
	sc, err := SpawnCall[int](context.Background(), h, SpawnCallOptions[int]{
		OnCancel: func() { close(cancelled) },
		Work: func(_ context.Context, call *SpawnedCall[int]) (int, error) {
			for !call.IsCancelled() {
				time.Sleep(time.Millisecond)
			}
			return 0, nil
		},
	})
	if err != nil {
		t.Fatalf("SpawnCall: %v", err)
	}

	sc.Cancel()
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("OnCancel callback did not run")
	}
	if !sc.IsCancelled() {
		t.Fatalf("expected IsCancelled")
	}

	if _, err := sc.Await(context.Background()); err != nil {
		t.Fatalf("Await after cancel: %v", err)
	}
}

func TestSpawnCallTerminateWithoutAttachedProcess(t *testing.T) {
	h := newTestCallHandle(t)
	sc, err := SpawnCall[int](context.Background(), h, SpawnCallOptions[int]{
		Work: func(_ context.Context, _ *SpawnedCall[int]) (int, error) { return 0, nil },
	})
	if err != nil {
		t.Fatalf("SpawnCall: %v", err)
	}
	_, _ = sc.Await(context.Background())

	attached, err := sc.Terminate(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if attached {
		t.Fatalf("expected Terminate to report no attached process")
	}
}

func TestSpawnCallTerminateKillsAttachedProcess(t *testing.T) {
	h := newTestCallHandle(t)
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}

	sc, err := SpawnCall[int](context.Background(), h, SpawnCallOptions[int]{
		Work: func(_ context.Context, call *SpawnedCall[int]) (int, error) {
			call.AttachProcess(cmd.Process)
			_ = cmd.Wait()
			return 0, nil
		},
	})
	if err != nil {
		t.Fatalf("SpawnCall: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	attached, err := sc.Terminate(context.Background(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if !attached {
		t.Fatalf("expected Terminate to report an attached process")
	}

	if _, err := sc.Await(context.Background()); err != nil {
		t.Fatalf("Await: %v", err)
	}
}
