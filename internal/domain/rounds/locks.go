package rounds

import "sync"

// patientLock serializes commits per patient.
type patientLock struct {
	mu   sync.Mutex
	refs int
}

// patientLocks holds per-key mutexes. Entries are dropped once no caller
// holds or waits on them.
type patientLocks struct {
	mu    sync.Mutex
	locks map[string]*patientLock
}

func newPatientLocks() *patientLocks {
	return &patientLocks{locks: make(map[string]*patientLock)}
}

// Lock acquires the lock for key and returns its release func.
func (l *patientLocks) Lock(key string) func() {
	l.mu.Lock()
	pl, ok := l.locks[key]
	if !ok {
		pl = &patientLock{}
		l.locks[key] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *patientLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
