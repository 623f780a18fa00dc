package poll

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWaitForSucceeds(t *testing.T) {
	calls := 0
	err := WaitFor(context.Background(), Options{Timeout: time.Second, Interval: 5 * time.Millisecond}, func() (bool, error) {
		calls++
		return calls >= 3, nil
	})
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if calls < 3 {
		t.Fatalf("calls = %d, want at least 3", calls)
	}
}

func TestWaitForPropagatesCheckError(t *testing.T) {
	wantErr := errors.New("boom")
	err := WaitFor(context.Background(), Options{Timeout: time.Second, Interval: 5 * time.Millisecond}, func() (bool, error) {
		return false, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestWaitForTimesOut(t *testing.T) {
	err := WaitFor(context.Background(), Options{Timeout: 20 * time.Millisecond, Interval: 5 * time.Millisecond}, func() (bool, error) {
		return false, nil
	})
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
}

func TestFileWaitsForExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "result")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(path, []byte("x"), 0o600)
	}()

	err := File(context.Background(), path, Options{Timeout: time.Second, Interval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("File: %v", err)
	}
}

func TestFilesWaitsForAll(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a"), filepath.Join(dir, "b")}
	for _, p := range paths {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	err := Files(context.Background(), paths, Options{Timeout: time.Second, Interval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
}

func TestFilesFailsIfOneNeverAppears(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "a")
	if err := os.WriteFile(present, []byte("x"), 0o600); err != nil {
		t.Fatalf("write %s: %v", present, err)
	}
	missing := filepath.Join(dir, "never")

	err := Files(context.Background(), []string{present, missing}, Options{Timeout: 30 * time.Millisecond, Interval: 5 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected an error since one path never appears")
	}
}
