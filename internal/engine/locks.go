package engine

import (
	"sync"

	id "perimeter/pkg/domain"
)

// userLocks linearizes processing per user. Entries are refcounted and
// removed when the last holder releases, so the map does not grow with the
// user population. Distinct users proceed fully in parallel.
type userLocks struct {
	mu    sync.Mutex
	locks map[id.UserID]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[id.UserID]*userLock)}
}

func (l *userLocks) lock(userID id.UserID) {
	l.mu.Lock()
	entry, ok := l.locks[userID]
	if !ok {
		entry = &userLock{}
		l.locks[userID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

func (l *userLocks) unlock(userID id.UserID) {
	l.mu.Lock()
	entry := l.locks[userID]
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, userID)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}
