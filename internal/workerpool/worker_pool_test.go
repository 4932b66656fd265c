package workerpool_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plsx-router/quoteengine/internal/workerpool"
)

func TestRun_BoundsConcurrency(t *testing.T) {
	const concurrency = 3
	var inFlight, maxInFlight int32

	jobs := make([]workerpool.Job[int], 20)
	for i := range jobs {
		i := i
		jobs[i] = workerpool.Job[int]{
			Task: func(ctx context.Context) (int, error) {
				n := atomic.AddInt32(&inFlight, 1)
				defer atomic.AddInt32(&inFlight, -1)
				for {
					old := atomic.LoadInt32(&maxInFlight)
					if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				return i, nil
			},
		}
	}

	results := workerpool.Run(context.Background(), concurrency, jobs)
	require.Len(t, results, 20)
	for i, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, i, r.Result)
	}
	assert.LessOrEqual(t, int(maxInFlight), concurrency)
}

func TestRun_TimeoutYieldsSentinel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	jobs := []workerpool.Job[int]{
		{Task: func(ctx context.Context) (int, error) {
			select {
			case <-time.After(time.Second):
				return 1, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}},
	}

	results := workerpool.Run(ctx, 1, jobs)
	require.Len(t, results, 1)
	assert.True(t, results[0].TimedOut)
}

func TestRun_EmptyJobs(t *testing.T) {
	results := workerpool.Run(context.Background(), 4, nil)
	assert.Nil(t, results)
}
