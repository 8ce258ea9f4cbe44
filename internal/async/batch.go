// Package async provides background processing infrastructure: a
// semaphore-bounded batch executor and a background indexing runner.
package async

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	ragerr "github.com/reynard-dev/ragindex/internal/errors"
)

// Task is a unit of work submitted to the BatchExecutor.
type Task[T any] func(ctx context.Context) (T, error)

// TaskResult pairs a task's output with its error, at the task's submission
// position.
type TaskResult[T any] struct {
	Value T
	Err   error
}

// BatchExecutor runs submitted tasks with bounded concurrency. At most
// MaxConcurrent tasks execute at once; results are collected in submission
// order regardless of completion order.
type BatchExecutor[T any] struct {
	maxConcurrent int64
	sem           *semaphore.Weighted
}

// NewBatchExecutor creates an executor allowing maxConcurrent simultaneous
// tasks. maxConcurrent < 1 is clamped to 1.
func NewBatchExecutor[T any](maxConcurrent int) *BatchExecutor[T] {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &BatchExecutor[T]{
		maxConcurrent: int64(maxConcurrent),
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// MaxConcurrent returns the configured concurrency bound.
func (e *BatchExecutor[T]) MaxConcurrent() int {
	return int(e.maxConcurrent)
}

// ExecuteBatch runs all tasks and blocks until every one has finished or the
// context is cancelled. The returned slice has one entry per task, positioned
// by submission order. Per-task errors land in the corresponding TaskResult;
// the call itself only errors on context cancellation.
func (e *BatchExecutor[T]) ExecuteBatch(ctx context.Context, tasks []Task[T]) ([]TaskResult[T], error) {
	if len(tasks) == 0 {
		return []TaskResult[T]{}, nil
	}

	results := make([]TaskResult[T], len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			// Mark the tasks that never ran, then wait for the ones
			// already in flight
			for j := i; j < len(tasks); j++ {
				results[j].Err = ragerr.New(ragerr.ErrCodeInternal,
					"task cancelled before execution", err)
			}
			wg.Wait()
			return results, err
		}

		wg.Add(1)
		go func(idx int, t Task[T]) {
			defer wg.Done()
			defer e.sem.Release(1)
			results[idx].Value, results[idx].Err = t(ctx)
		}(i, task)
	}

	wg.Wait()
	return results, nil
}
