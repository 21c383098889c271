package main

import "sync"

// inflightRuns tracks daemon runs so shutdown can wait for them. Once
// closed, no new run may start.
type inflightRuns struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// begin registers a run. It returns false after shutdown has started.
func (r *inflightRuns) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.wg.Add(1)
	return true
}

func (r *inflightRuns) done() { r.wg.Done() }

// closeAndWait refuses new runs and waits for the registered ones.
func (r *inflightRuns) closeAndWait() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}
