package hlogcache

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// TaskRunner bounds fan-out concurrency, used by the eviction sweep to move
// evicted records' locks into the lock table in parallel and by
// CompletePendingWithOutputs to drain a batch of outstanding AsyncIOContexts.
type TaskRunner struct {
	maxThreadCount int
	eg             *errgroup.Group
	limiterChan    chan bool
	context        context.Context
}

// NewTaskRunner creates a new task runner capped at maxThreadCount concurrent goroutines.
func NewTaskRunner(ctx context.Context, maxThreadCount int) *TaskRunner {
	eg, ctx2 := errgroup.WithContext(ctx)
	return &TaskRunner{
		maxThreadCount: maxThreadCount,
		limiterChan:    make(chan bool, maxThreadCount),
		eg:             eg,
		context:        ctx2,
	}
}

// GetContext returns the errgroup-derived context, canceled on first task error.
func (tr *TaskRunner) GetContext() context.Context {
	return tr.context
}

// Go runs task on a bounded goroutine, blocking if maxThreadCount are already in flight.
func (tr *TaskRunner) Go(task func() error) {
	t := func() error {
		// Free up this thread slot, whether or not the task fails.
		defer func() { <-tr.limiterChan }()
		return task()
	}
	// Occupy a thread slot.
	tr.limiterChan <- true
	tr.eg.Go(t)
}

// Wait blocks until all submitted tasks complete, returning the first error.
func (tr *TaskRunner) Wait() error {
	defer close(tr.limiterChan)
	return tr.eg.Wait()
}
