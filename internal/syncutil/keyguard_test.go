package syncutil

import (
	"sync"
	"testing"
)

func TestKeyGuard_ExclusivePerKey(t *testing.T) {
	g := NewKeyGuard()

	release, ok := g.TryAcquire("app_store:2025-06-01")
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	if _, ok := g.TryAcquire("app_store:2025-06-01"); ok {
		t.Error("second acquire of held key should fail")
	}

	// A different key is independent.
	release2, ok := g.TryAcquire("play_store:2025-06-01")
	if !ok {
		t.Error("acquire of a different key should succeed")
	}
	release2()

	release()
	if _, ok := g.TryAcquire("app_store:2025-06-01"); !ok {
		t.Error("acquire after release should succeed")
	}
}

func TestKeyGuard_ReleaseIdempotent(t *testing.T) {
	g := NewKeyGuard()

	release, _ := g.TryAcquire("k")
	release()

	other, ok := g.TryAcquire("k")
	if !ok {
		t.Fatal("re-acquire after release should succeed")
	}

	// Stale release must not free the new holder's claim.
	release()
	if !g.Held("k") {
		t.Error("double release freed a key held by another caller")
	}
	other()
}

func TestKeyGuard_ConcurrentSingleWinner(t *testing.T) {
	g := NewKeyGuard()

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan func(), n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, ok := g.TryAcquire("shared"); ok {
				wins <- release
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for release := range wins {
		count++
		release()
	}
	if count != 1 {
		t.Errorf("expected exactly one winner, got %d", count)
	}
}
