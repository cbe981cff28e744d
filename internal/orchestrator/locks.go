package orchestrator

import "sync"

// workflowLocks hands out a per-workflow mutex so that, in a single
// orchestrator process, at most one event handler touches a given
// workflow at a time. This is the in-process stand-in for the
// row-level lock a multi-instance deployment would take in the store;
// it does not by itself make the orchestrator safe to run as more than
// one instance (see the store's row-level locking requirement).
type workflowLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newWorkflowLocks() *workflowLocks {
	return &workflowLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *workflowLocks) forWorkflow(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}
