// Package syncutil provides small concurrency helpers shared across packages.
package syncutil

import "sync"

// KeyGuard tracks in-flight work keyed by string. A key can be held by at
// most one goroutine at a time; a second TryAcquire for the same key fails
// instead of blocking, so duplicate concurrent runs are rejected rather
// than queued.
type KeyGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewKeyGuard creates an empty guard.
func NewKeyGuard() *KeyGuard {
	return &KeyGuard{active: make(map[string]struct{})}
}

// TryAcquire claims the key. It returns a release function and true on
// success, or nil and false if the key is already held.
func (g *KeyGuard) TryAcquire(key string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.active[key]; held {
		return nil, false
	}
	g.active[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, key)
			g.mu.Unlock()
		})
	}, true
}

// Held reports whether the key is currently claimed.
func (g *KeyGuard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.active[key]
	return held
}
