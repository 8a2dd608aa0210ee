package service

import "sync"

// writeGuard admits one seat write per key at a time.  A second submission
// while the first is in flight is refused instead of queued.
type writeGuard struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func newWriteGuard() *writeGuard {
	return &writeGuard{busy: make(map[string]struct{})}
}

func (g *writeGuard) acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.busy[key]; ok {
		return false
	}
	g.busy[key] = struct{}{}
	return true
}

func (g *writeGuard) release(key string) {
	g.mu.Lock()
	delete(g.busy, key)
	g.mu.Unlock()
}
