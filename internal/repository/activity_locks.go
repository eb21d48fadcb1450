package repository

import "sync"

// activityLocks hands out one mutex per activity name. Entries are reference counted and
// dropped once no caller holds or waits on them, so the map only grows with in-flight writes.
type activityLocks struct {
	mu    sync.Mutex
	locks map[string]*activityLock
}

type activityLock struct {
	mu   sync.Mutex
	refs int
}

func newActivityLocks() *activityLocks {
	return &activityLocks{locks: make(map[string]*activityLock)}
}

// Lock blocks until the caller owns the named activity and returns the release func.
func (l *activityLocks) Lock(name string) func() {
	l.mu.Lock()
	entry, ok := l.locks[name]
	if !ok {
		entry = &activityLock{}
		l.locks[name] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, name)
		}
		l.mu.Unlock()
	}
}

func (l *activityLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
