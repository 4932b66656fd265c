// Package workerpool runs a bounded number of tasks concurrently and
// collects their results without exceptions: a task that blows its
// deadline resolves to a JobResult with TimedOut set rather than
// panicking or propagating a context error up the stack, so a single
// slow task never aborts the batch.
package workerpool

import (
	"context"
	"sync"
)

// Job is one unit of work submitted to Run.
type Job[T any] struct {
	// Task is invoked with the context passed to Run; Run adds no
	// per-job deadline of its own.
	Task func(ctx context.Context) (T, error)
}

// JobResult is the outcome of running a Job. A timed-out job has
// TimedOut set and Result holds the zero value of T.
type JobResult[T any] struct {
	Result   T
	Err      error
	TimedOut bool
}

func runJob[T any](ctx context.Context, job Job[T]) JobResult[T] {
	value, err := job.Task(ctx)
	if err != nil && ctx.Err() != nil {
		var zero T
		return JobResult[T]{Result: zero, TimedOut: true, Err: ctx.Err()}
	}
	return JobResult[T]{Result: value, Err: err}
}

// Run executes jobs with at most concurrency in flight at once and
// returns results aligned by index with the input slice. Used to bound
// parallel route simulations and reserve fetches to
// quoteEvaluation.concurrency while still honoring per-job and
// whole-batch cancellation via ctx.
func Run[T any](ctx context.Context, concurrency int, jobs []Job[T]) []JobResult[T] {
	if len(jobs) == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(jobs) {
		concurrency = len(jobs)
	}

	results := make([]JobResult[T], len(jobs))
	indices := make(chan int)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for idx := range indices {
				results[idx] = runJob(ctx, jobs[idx])
			}
		}()
	}

feed:
	for i := range jobs {
		select {
		case indices <- i:
		case <-ctx.Done():
			for j := i; j < len(jobs); j++ {
				results[j] = JobResult[T]{TimedOut: true, Err: ctx.Err()}
			}
			break feed
		}
	}
	close(indices)

	wg.Wait()
	return results
}
