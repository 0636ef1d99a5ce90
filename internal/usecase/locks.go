package usecase

import "sync"

// BatchLocks serialises work on the same batch number inside one process.
type BatchLocks struct {
	mu    sync.Mutex
	locks map[string]*batchLock
}

type batchLock struct {
	mu   sync.Mutex
	refs int
}

func NewBatchLocks() *BatchLocks {
	return &BatchLocks{locks: make(map[string]*batchLock)}
}

// Lock blocks until the batch is free and returns the matching unlock.
func (l *BatchLocks) Lock(batchNumber string) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.locks[batchNumber]
	if !ok {
		entry = &batchLock{}
		l.locks[batchNumber] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, batchNumber)
		}
		l.mu.Unlock()
	}
}

func (l *BatchLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
