// internal/app/locks.go
package app

import "sync"

// requestLocks serializes work on a single request id inside this process.
// Cross-process safety comes from the store's conditional updates.
type requestLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newRequestLocks() *requestLocks {
	return &requestLocks{locks: make(map[string]*refLock)}
}

// Lock blocks until id is free and returns the matching unlock func.
func (l *requestLocks) Lock(id string) func() {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &refLock{}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.Lock()
	return func() {
		lk.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
