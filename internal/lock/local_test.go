package lock

import (
	"context"
	"sync"
	"testing"
)

func TestLocalLockMutualExclusion(t *testing.T) {
	locks := NewLocalLock()

	const workers = 50
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(context.Background(), "kol_1")
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			defer release()
			counter++
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("expected %d increments, got %d", workers, counter)
	}
}

func TestLocalLockIndependentKeys(t *testing.T) {
	locks := NewLocalLock()

	releaseA, err := locks.Acquire(context.Background(), "kol_a")
	if err != nil {
		t.Fatalf("acquire kol_a: %v", err)
	}
	defer releaseA()

	// A held lock on one key must not block another key.
	releaseB, err := locks.Acquire(context.Background(), "kol_b")
	if err != nil {
		t.Fatalf("acquire kol_b: %v", err)
	}
	releaseB()
}

func TestLocalLockCancelledContext(t *testing.T) {
	locks := NewLocalLock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := locks.Acquire(ctx, "kol_1"); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestLocalLockCleansUpEntries(t *testing.T) {
	locks := NewLocalLock()

	release, err := locks.Acquire(context.Background(), "kol_1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	release()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.keys) != 0 {
		t.Fatalf("expected no retained entries, got %d", len(locks.keys))
	}
}
