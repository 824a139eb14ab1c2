package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"PostForge/internal/domain"
)

func TestTryLockExcludesSecondLocker(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := NewFileLocker(dir)
	if err != nil {
		t.Fatalf("new locker: %v", err)
	}
	second, err := NewFileLocker(dir)
	if err != nil {
		t.Fatalf("new locker: %v", err)
	}

	unlock, err := first.TryLock("run-cli")
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := second.TryLock("run-cli"); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	other, err := second.TryLock("run-bot")
	if err != nil {
		t.Fatalf("unrelated name should be free: %v", err)
	}
	_ = other()

	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	again, err := second.TryLock("run-cli")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	_ = again()
}

func TestLockWaitsForRelease(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	holder, _ := NewFileLocker(dir)
	waiter, _ := NewFileLocker(dir)

	unlock, err := holder.Lock(context.Background(), "queue")
	if err != nil {
		t.Fatalf("hold: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := waiter.Lock(ctx, "queue"); err == nil {
		t.Fatal("expected the waiter to time out while the lock is held")
	}

	acquired := make(chan error, 1)
	go func() {
		release, err := waiter.Lock(context.Background(), "queue")
		if err == nil {
			_ = release()
		}
		acquired <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = unlock()

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("waiter: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the released lock")
	}
}

func TestFileName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"queue":     "queue",
		"run-cli_1": "run-cli_1",
		"run-a/b":   "=72756e2d612f62",
		"":          "=",
	}
	for in, want := range cases {
		if got := fileName(in); got != want {
			t.Errorf("fileName(%q) = %q, want %q", in, got, want)
		}
	}
}
