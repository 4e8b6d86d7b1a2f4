package lock

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestManager() *Manager {
	return NewManager(Options{})
}

func TestAcquireFreeResource(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	res, err := m.Acquire("requirement:r1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !res.Acquired {
		t.Fatalf("Expected lock to be acquired, reason: %s", res.Reason)
	}
	if res.LockID == "" {
		t.Error("Acquired lock has no id")
	}
	if !m.IsLocked("requirement:r1") {
		t.Error("Resource not reported as locked")
	}
	if m.ActiveLockCount() != 1 {
		t.Errorf("Expected 1 active lock, got %d", m.ActiveLockCount())
	}
}

func TestAcquireValidation(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	if _, err := m.Acquire(""); err == nil {
		t.Error("Expected error for empty resource name")
	}
	if _, err := m.Acquire("r", WithAcquireTimeout(-time.Second)); err == nil {
		t.Error("Expected error for negative acquire timeout")
	}
	if _, err := m.Acquire("r", WithTTL(-time.Second)); err == nil {
		t.Error("Expected error for negative ttl")
	}
	if m.ActiveLockCount() != 0 {
		t.Error("Validation failures must not create locks")
	}
}

func TestAcquireZeroTimeoutOnHeldResource(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	first, err := m.Acquire("phase:p1")
	if err != nil || !first.Acquired {
		t.Fatalf("Setup acquire failed: %v %+v", err, first)
	}

	start := time.Now()
	res, err := m.Acquire("phase:p1", WithAcquireTimeout(0))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if res.Acquired {
		t.Error("Expected contended acquire with zero timeout to fail")
	}
	if res.Reason != ReasonTimeout {
		t.Errorf("Expected reason %q, got %q", ReasonTimeout, res.Reason)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Zero-timeout acquire waited %v", elapsed)
	}
}

func TestReentrantAcquireAndRelease(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	const n = 5
	var lockID string
	for i := 0; i < n; i++ {
		res, err := m.Acquire("solution:s1", WithHolder("h1"), Reentrant())
		if err != nil || !res.Acquired {
			t.Fatalf("Reentrant acquire %d failed: %v %+v", i, err, res)
		}
		if lockID == "" {
			lockID = res.LockID
		} else if res.LockID != lockID {
			t.Fatalf("Reentrant acquire changed lock id: %s != %s", res.LockID, lockID)
		}
	}

	for i := 0; i < n; i++ {
		if err := m.Release(lockID); err != nil {
			t.Fatalf("Release %d failed: %v", i, err)
		}
	}

	if m.IsLocked("solution:s1") {
		t.Error("Resource still locked after balanced releases")
	}
	if err := m.Release(lockID); err == nil {
		t.Error("Expected error releasing an already-released lock")
	}
}

func TestNonReentrantSameHolderWaits(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	first, err := m.Acquire("decision:d1", WithHolder("h1"))
	if err != nil || !first.Acquired {
		t.Fatalf("Setup acquire failed: %v %+v", err, first)
	}

	res, err := m.Acquire("decision:d1", WithHolder("h1"), WithAcquireTimeout(0))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if res.Acquired {
		t.Error("Non-reentrant lock must not be re-acquired by its holder")
	}
}

func TestWaiterWakesOnRelease(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	first, err := m.Acquire("artifact:a1")
	if err != nil || !first.Acquired {
		t.Fatalf("Setup acquire failed: %v %+v", err, first)
	}

	done := make(chan AcquireResult, 1)
	go func() {
		res, err := m.Acquire("artifact:a1", WithAcquireTimeout(2*time.Second))
		if err != nil {
			t.Errorf("Waiting acquire failed: %v", err)
		}
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	if err := m.Release(first.LockID); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	select {
	case res := <-done:
		if !res.Acquired {
			t.Errorf("Waiter did not acquire after release, reason: %s", res.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Waiter never woke up")
	}
}

func TestMutualExclusionUnderContention(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	const goroutines = 8
	const iterations = 25

	var wg sync.WaitGroup
	var mu sync.Mutex
	inside := 0
	maxInside := 0

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				err := m.WithLock("counter", func() error {
					mu.Lock()
					inside++
					if inside > maxInside {
						maxInside = inside
					}
					mu.Unlock()

					time.Sleep(time.Microsecond)

					mu.Lock()
					inside--
					mu.Unlock()
					return nil
				}, WithAcquireTimeout(5*time.Second))
				if err != nil {
					t.Errorf("WithLock failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("Mutual exclusion violated: %d goroutines inside critical section", maxInside)
	}
	if m.ActiveLockCount() != 0 {
		t.Errorf("Expected 0 active locks after contention, got %d", m.ActiveLockCount())
	}
}

func TestTTLExpiry(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	res, err := m.Acquire("requirement:r1", WithTTL(30*time.Millisecond))
	if err != nil || !res.Acquired {
		t.Fatalf("Acquire failed: %v %+v", err, res)
	}

	time.Sleep(80 * time.Millisecond)

	if m.IsLocked("requirement:r1") {
		t.Error("Lock should have expired")
	}
	if err := m.Release(res.LockID); err == nil {
		t.Error("Expected error releasing an expired lock")
	}
}

func TestManualReleaseBeatsExpiryTimer(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	res, err := m.Acquire("phase:p1", WithTTL(30*time.Millisecond))
	if err != nil || !res.Acquired {
		t.Fatalf("Acquire failed: %v %+v", err, res)
	}
	if err := m.Release(res.LockID); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// A new lock for the same resource must survive the old timer firing.
	again, err := m.Acquire("phase:p1", WithTTL(time.Minute))
	if err != nil || !again.Acquired {
		t.Fatalf("Re-acquire failed: %v %+v", err, again)
	}

	time.Sleep(80 * time.Millisecond)

	if !m.IsLocked("phase:p1") {
		t.Error("Stale expiry timer removed the wrong lock record")
	}
}

func TestReentrantTTLReplacesTimer(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	res, err := m.Acquire("solution:s1", WithHolder("h1"), Reentrant(), WithTTL(40*time.Millisecond))
	if err != nil || !res.Acquired {
		t.Fatalf("Acquire failed: %v %+v", err, res)
	}

	time.Sleep(25 * time.Millisecond)
	again, err := m.Acquire("solution:s1", WithHolder("h1"), Reentrant(), WithTTL(200*time.Millisecond))
	if err != nil || !again.Acquired {
		t.Fatalf("Reentrant acquire failed: %v %+v", err, again)
	}

	// Original deadline has passed; the replacement timer keeps it alive.
	time.Sleep(60 * time.Millisecond)
	if !m.IsLocked("solution:s1") {
		t.Error("TTL did not replace the previous timer on reentrant acquire")
	}
}

func TestReentryWithoutTTLKeepsOriginalExpiry(t *testing.T) {
	m := NewManager(Options{DefaultTTL: 60 * time.Millisecond})
	defer m.Dispose()

	res, err := m.Acquire("requirement:r1", WithHolder("h1"), Reentrant())
	if err != nil || !res.Acquired {
		t.Fatalf("Acquire failed: %v %+v", err, res)
	}

	// Re-enter shortly before the default TTL elapses, without supplying
	// a TTL. The original expiry must stand; re-entry alone never extends
	// the lock's life.
	time.Sleep(40 * time.Millisecond)
	again, err := m.Acquire("requirement:r1", WithHolder("h1"), Reentrant())
	if err != nil || !again.Acquired {
		t.Fatalf("Reentrant acquire failed: %v %+v", err, again)
	}

	time.Sleep(50 * time.Millisecond)
	if m.IsLocked("requirement:r1") {
		t.Error("Re-entry without a TTL extended the default expiry")
	}
}

func TestExtendZeroMakesLockNonExpiring(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	res, err := m.Acquire("decision:d1", WithTTL(40*time.Millisecond))
	if err != nil || !res.Acquired {
		t.Fatalf("Acquire failed: %v %+v", err, res)
	}

	ext, err := m.Extend(res.LockID, 0)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if !ext.Extended {
		t.Fatalf("Extend rejected: %s", ext.Reason)
	}
	if !ext.ExpiresAt.IsZero() {
		t.Error("Expected zero expiry after extend(0)")
	}

	time.Sleep(80 * time.Millisecond)
	if !m.IsLocked("decision:d1") {
		t.Error("Lock expired after being converted to non-expiring")
	}
}

func TestExtendUnknownLock(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	ext, err := m.Extend("no-such-lock", time.Second)
	if err != nil {
		t.Fatalf("Extend returned error: %v", err)
	}
	if ext.Extended {
		t.Error("Extend succeeded on unknown lock id")
	}
	if ext.Reason != ReasonNotFound {
		t.Errorf("Expected reason %q, got %q", ReasonNotFound, ext.Reason)
	}

	if _, err := m.Extend("x", -time.Second); err == nil {
		t.Error("Expected error for negative ttl")
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	wantErr := errors.New("boom")
	err := m.WithLock("artifact:a1", func() error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Expected callback error, got %v", err)
	}
	if m.IsLocked("artifact:a1") {
		t.Error("Lock leaked after callback error")
	}
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Expected panic to propagate")
			}
		}()
		_ = m.WithLock("artifact:a2", func() error {
			panic("boom")
		})
	}()

	if m.IsLocked("artifact:a2") {
		t.Error("Lock leaked after callback panic")
	}
}

func TestWithLockReentrantCallback(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	err := m.WithLock("requirement:r1", func() error {
		return m.WithLock("requirement:r1", func() error {
			if !m.IsLocked("requirement:r1") {
				t.Error("Resource not locked inside nested callback")
			}
			return nil
		}, WithHolder("h1"), Reentrant())
	}, WithHolder("h1"), Reentrant())
	if err != nil {
		t.Fatalf("Nested WithLock failed: %v", err)
	}
	if m.IsLocked("requirement:r1") {
		t.Error("Lock leaked after nested WithLock")
	}
}

func TestDisposeWakesWaiters(t *testing.T) {
	m := newTestManager()

	first, err := m.Acquire("phase:p1")
	if err != nil || !first.Acquired {
		t.Fatalf("Setup acquire failed: %v %+v", err, first)
	}

	done := make(chan AcquireResult, 1)
	go func() {
		res, err := m.Acquire("phase:p1", WithAcquireTimeout(5*time.Second))
		if err != nil {
			t.Errorf("Waiting acquire failed: %v", err)
		}
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	m.Dispose()

	select {
	case res := <-done:
		if res.Acquired {
			t.Error("Waiter acquired a lock from a disposed manager")
		}
		if res.Reason != ReasonDisposed {
			t.Errorf("Expected reason %q, got %q", ReasonDisposed, res.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Waiter hung through disposal")
	}

	if m.ActiveLockCount() != 0 {
		t.Errorf("Expected 0 active locks after dispose, got %d", m.ActiveLockCount())
	}
}

func TestDisposedManagerFailsFast(t *testing.T) {
	m := newTestManager()

	res, err := m.Acquire("requirement:r1")
	if err != nil || !res.Acquired {
		t.Fatalf("Setup acquire failed: %v %+v", err, res)
	}

	m.Dispose()
	m.Dispose() // idempotent

	// Release of a lock the dispose already force-released is a no-op.
	if err := m.Release(res.LockID); err != nil {
		t.Errorf("Release after dispose should be silent, got %v", err)
	}

	again, err := m.Acquire("requirement:r1")
	if err != nil {
		t.Fatalf("Acquire after dispose returned error: %v", err)
	}
	if again.Acquired {
		t.Error("Disposed manager granted a lock")
	}
	if again.Reason != ReasonDisposed {
		t.Errorf("Expected reason %q, got %q", ReasonDisposed, again.Reason)
	}

	ext, err := m.Extend(res.LockID, time.Second)
	if err != nil {
		t.Fatalf("Extend after dispose returned error: %v", err)
	}
	if ext.Extended || ext.Reason != ReasonDisposed {
		t.Errorf("Expected disposed extend failure, got %+v", ext)
	}

	if m.IsLocked("requirement:r1") {
		t.Error("Disposed manager reports resources as locked")
	}
}

func TestTwoHoldersNeverBothObserveFree(t *testing.T) {
	m := newTestManager()
	defer m.Dispose()

	const attempts = 200
	var wg sync.WaitGroup
	granted := make(chan string, attempts*2)

	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func(holder string) {
			defer wg.Done()
			for i := 0; i < attempts; i++ {
				res, err := m.Acquire("hot", WithHolder(holder), WithAcquireTimeout(0))
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				if res.Acquired {
					granted <- res.LockID
					if err := m.Release(res.LockID); err != nil {
						t.Errorf("Release failed: %v", err)
						return
					}
				}
			}
		}([]string{"h1", "h2"}[g])
	}
	wg.Wait()
	close(granted)

	// Every grant was paired with a release; nothing may remain held.
	if m.ActiveLockCount() != 0 {
		t.Errorf("Expected 0 active locks, got %d", m.ActiveLockCount())
	}
}
