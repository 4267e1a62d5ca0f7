package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedisLockForTest(t *testing.T) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	locks, err := NewRedisLock("redis://" + server.Addr())
	if err != nil {
		t.Fatalf("NewRedisLock failed: %v", err)
	}
	t.Cleanup(func() { _ = locks.Close() })
	return locks, server
}

func TestRedisLockAcquireRelease(t *testing.T) {
	locks, server := newRedisLockForTest(t)

	release, err := locks.Acquire(context.Background(), "kol_1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if !server.Exists("kollab-lock:kol_1") {
		t.Fatalf("expected lock key in redis")
	}

	release()
	if server.Exists("kollab-lock:kol_1") {
		t.Fatalf("expected lock key removed after release")
	}
}

func TestRedisLockMutualExclusion(t *testing.T) {
	locks, _ := newRedisLockForTest(t)

	const workers = 20
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

func TestRedisLockIndependentKeys(t *testing.T) {
	locks, _ := newRedisLockForTest(t)

	releaseA, err := locks.Acquire(context.Background(), "kol_a")
	if err != nil {
		t.Fatalf("acquire kol_a: %v", err)
	}
	defer releaseA()

	releaseB, err := locks.Acquire(context.Background(), "kol_b")
	if err != nil {
		t.Fatalf("acquire kol_b: %v", err)
	}
	releaseB()
}

// A holder whose lock expired must not delete the lock the next holder took.
func TestRedisLockStaleReleaseIsNoop(t *testing.T) {
	locks, server := newRedisLockForTest(t)

	staleRelease, err := locks.Acquire(context.Background(), "kol_1")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	// Expire the first holder's lock, then let a second holder take it.
	server.FastForward(lockTTL + time.Second)
	release, err := locks.Acquire(context.Background(), "kol_1")
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	staleRelease()
	if !server.Exists("kollab-lock:kol_1") {
		t.Fatalf("stale release must not remove the new holder's lock")
	}

	release()
	if server.Exists("kollab-lock:kol_1") {
		t.Fatalf("expected lock removed by current holder")
	}
}

func TestRedisLockAcquireTimesOut(t *testing.T) {
	locks, _ := newRedisLockForTest(t)

	release, err := locks.Acquire(context.Background(), "kol_1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := locks.Acquire(ctx, "kol_1"); err == nil {
		t.Fatalf("expected timeout acquiring a held lock")
	}
}

func TestRedisLockPing(t *testing.T) {
	locks, server := newRedisLockForTest(t)

	if err := locks.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	server.Close()
	if err := locks.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping failure after server close")
	}
}
