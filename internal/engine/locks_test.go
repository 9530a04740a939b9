package engine

import (
	"sync"
	"testing"
)

func TestSessionLocksSerialize(t *testing.T) {
	locks := newSessionLocks()

	counter := 0
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.acquire("s1")
			defer release()
			counter++ // data race without the lock
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
}

func TestSessionLocksIndependentSessions(t *testing.T) {
	locks := newSessionLocks()

	releaseA := locks.acquire("a")
	defer releaseA()

	// A different session must not block behind "a".
	done := make(chan struct{})
	go func() {
		release := locks.acquire("b")
		release()
		close(done)
	}()
	<-done
}

func TestSessionLocksCleanup(t *testing.T) {
	locks := newSessionLocks()

	release := locks.acquire("s1")
	release()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Errorf("lock map has %d entries after release, want 0", len(locks.locks))
	}
}
