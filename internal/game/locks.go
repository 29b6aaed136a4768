package game

import "sync"

// LockManager hands out one mutex per key. Entries are reference counted
// and dropped once nobody holds or waits on them.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*lockInfo
}

type lockInfo struct {
	mu   sync.Mutex
	refs int
}

// NewLockManager creates a lock manager
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*lockInfo)}
}

// Lock blocks until the key is free and returns its unlock function
func (lm *LockManager) Lock(key string) func() {
	lm.mu.Lock()
	info, ok := lm.locks[key]
	if !ok {
		info = &lockInfo{}
		lm.locks[key] = info
	}
	info.refs++
	lm.mu.Unlock()

	info.mu.Lock()

	return func() {
		info.mu.Unlock()

		lm.mu.Lock()
		info.refs--
		if info.refs == 0 {
			delete(lm.locks, key)
		}
		lm.mu.Unlock()
	}
}

// ExecuteWithLock runs fn while holding the key's lock
func (lm *LockManager) ExecuteWithLock(key string, fn func() error) error {
	unlock := lm.Lock(key)
	defer unlock()
	return fn()
}

// Size returns the number of keys currently held or awaited
func (lm *LockManager) Size() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.locks)
}
