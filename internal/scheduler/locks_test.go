package scheduler

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestLockRegistryTryAcquire(t *testing.T) {
	r := newLockRegistry()
	a, b := uuid.New(), uuid.New()

	if !r.tryAcquire(a) {
		t.Fatal("first acquire of a failed")
	}
	if r.tryAcquire(a) {
		t.Error("second acquire of a succeeded while held")
	}
	// Independent ids do not contend.
	if !r.tryAcquire(b) {
		t.Error("acquire of b failed while a is held")
	}

	r.release(a)
	if !r.tryAcquire(a) {
		t.Error("acquire of a failed after release")
	}
}

func TestLockRegistryReleaseUnheld(t *testing.T) {
	r := newLockRegistry()
	r.release(uuid.New()) // must not panic
}

func TestLockRegistrySingleWinner(t *testing.T) {
	r := newLockRegistry()
	id := uuid.New()

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.tryAcquire(id) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("%d goroutines acquired the lock, want exactly 1", count)
	}
}
