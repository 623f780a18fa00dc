package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSyncAllSucceeded(t *testing.T) {
	h := newTestCallHandle(t)
	calls := make([]*SpawnedCall[int], 3)
	for i := range calls {
		sc, err := SpawnCall[int](context.Background(), h, SpawnCallOptions[int]{
			Work: func(_ context.Context, _ *SpawnedCall[int]) (int, error) { return 1, nil },
		})
		if err != nil {
			t.Fatalf("SpawnCall: %v", err)
		}
		calls[i] = sc
	}

	res := Sync[int](context.Background(), calls, nil)
	if !res.AllSucceeded() {
		t.Fatalf("expected all calls to succeed: %+v", res)
	}
	if len(res.Successful) != 3 {
		t.Fatalf("got %d successful, want 3", len(res.Successful))
	}
}

func TestSyncHasFailed(t *testing.T) {
	h := newTestCallHandle(t)
	ok, err := SpawnCall[int](context.Background(), h, SpawnCallOptions[int]{
		Work: func(_ context.Context, _ *SpawnedCall[int]) (int, error) { return 1, nil },
	})
	if err != nil {
		t.Fatalf("SpawnCall: %v", err)
	}
	bad, err := SpawnCall[int](context.Background(), h, SpawnCallOptions[int]{
		Work: func(_ context.Context, _ *SpawnedCall[int]) (int, error) { return 0, errors.New("boom") },
	})
	if err != nil {
		t.Fatalf("SpawnCall: %v", err)
	}

	res := Sync[int](context.Background(), []*SpawnedCall[int]{ok, bad}, nil)
	if res.AllSucceeded() {
		t.Fatalf("expected AllSucceeded to be false")
	}
	if !res.HasFailed() || len(res.Failed) != 1 || len(res.Successful) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSyncStopsEarlyOnOperationFailed(t *testing.T) {
	h := newTestCallHandle(t)
	block := make(chan struct{})
	sc, err := SpawnCall[int](context.Background(), h, SpawnCallOptions[int]{
		Work: func(_ context.Context, _ *SpawnedCall[int]) (int, error) {
			<-block
			return 1, nil
		},
	})
	if err != nil {
		t.Fatalf("SpawnCall: %v", err)
	}
	defer close(block)

	res := Sync[int](context.Background(), []*SpawnedCall[int]{sc}, func() bool { return true })
	if !res.OperationFailed {
		t.Fatalf("expected OperationFailed to be true")
	}
	if res.AllResolved() {
		t.Fatalf("expected the pending call to be reported Unknown")
	}
	if len(res.Unknown) != 1 {
		t.Fatalf("got %d unknown, want 1", len(res.Unknown))
	}
}

func TestAwaitCallReturnsErrOperationFailed(t *testing.T) {
	h := newTestCallHandle(t)
	block := make(chan struct{})
	sc, err := SpawnCall[int](context.Background(), h, SpawnCallOptions[int]{
		Work: func(_ context.Context, _ *SpawnedCall[int]) (int, error) {
			<-block
			return 1, nil
		},
	})
	if err != nil {
		t.Fatalf("SpawnCall: %v", err)
	}
	defer close(block)

	_, err = AwaitCall[int](context.Background(), sc, func() bool { return true })
	if !errors.Is(err, ErrOperationFailed) {
		t.Fatalf("err = %v, want ErrOperationFailed", err)
	}
}

func TestAwaitCallReturnsNormallyWhenOperationHealthy(t *testing.T) {
	h := newTestCallHandle(t)
	sc, err := SpawnCall[int](context.Background(), h, SpawnCallOptions[int]{
		Work: func(_ context.Context, _ *SpawnedCall[int]) (int, error) { return 9, nil },
	})
	if err != nil {
		t.Fatalf("SpawnCall: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := AwaitCall[int](ctx, sc, func() bool { return false })
	if err != nil {
		t.Fatalf("AwaitCall: %v", err)
	}
	if v != 9 {
		t.Fatalf("v = %d, want 9", v)
	}
}
