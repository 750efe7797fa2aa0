// Package workers provides bounded parallel execution for per-signal
// evaluation. Each task is independent and reads only shared immutable
// data, so the pool needs no synchronization beyond join semantics.
package workers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc is a function that can be used as a Task
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// Pool runs batches of tasks across a fixed number of worker goroutines
type Pool struct {
	logger *zap.Logger
	size   int

	tasksCompleted atomic.Int64
	tasksFailed    atomic.Int64
}

// NewPool creates a pool with the given worker count. A count below one
// falls back to the number of CPUs.
func NewPool(logger *zap.Logger, size int) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
	}
	return &Pool{logger: logger, size: size}
}

// Size returns the worker count.
func (p *Pool) Size() int { return p.size }

// Completed returns the number of tasks completed since creation.
func (p *Pool) Completed() int64 { return p.tasksCompleted.Load() }

// Failed returns the number of tasks that returned an error.
func (p *Pool) Failed() int64 { return p.tasksFailed.Load() }

// Map runs all tasks to completion across the pool's workers and returns
// the first error observed. Once the context is cancelled, queued tasks
// that have not started are abandoned.
func (p *Pool) Map(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	workerCount := p.size
	if workerCount > len(tasks) {
		workerCount = len(tasks)
	}

	queue := make(chan Task)
	errOnce := sync.Once{}
	var firstErr error
	var wg sync.WaitGroup

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				if err := task.Execute(ctx); err != nil {
					p.tasksFailed.Add(1)
					errOnce.Do(func() { firstErr = err })
					continue
				}
				p.tasksCompleted.Add(1)
			}
		}()
	}

	for _, task := range tasks {
		select {
		case <-ctx.Done():
			errOnce.Do(func() { firstErr = ctx.Err() })
			close(queue)
			wg.Wait()
			return firstErr
		case queue <- task:
		}
	}
	close(queue)
	wg.Wait()

	if firstErr != nil {
		p.logger.Debug("Pool batch finished with error", zap.Error(firstErr))
	}
	return firstErr
}
