package qcmengine

import "sync"

// Runner executes fire-and-forget tasks on a bounded worker pool. Go never
// blocks the caller; Wait lets shutdown paths and tests await all in-flight
// work deterministically.
type Runner struct {
	wg  sync.WaitGroup
	sem chan struct{}
}

// NewRunner creates a runner allowing at most limit concurrent tasks.
func NewRunner(limit int) *Runner {
	if limit < 1 {
		limit = 1
	}
	return &Runner{sem: make(chan struct{}, limit)}
}

// Go schedules task for execution and returns immediately. Excess tasks queue
// on the pool rather than piling up as runnable goroutines doing work.
func (r *Runner) Go(task func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sem <- struct{}{}
		defer func() { <-r.sem }()
		task()
	}()
}

// Wait blocks until every scheduled task has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
