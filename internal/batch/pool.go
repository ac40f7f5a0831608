package batch

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool is a bounded worker pool with a synchronous join.
type Pool struct {
	Workers int
}

func (p Pool) size(n int) int {
	w := p.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	if w > n {
		w = n
	}
	return w
}

// Map runs fn over tasks on the pool and returns results in task order once
// every worker has finished. fn reports its own failures in R. Tasks not yet
// started when ctx is cancelled are skipped and keep their zero result; the
// returned error is then ctx.Err().
func Map[T, R any](ctx context.Context, p Pool, tasks []T, fn func(context.Context, T) R) ([]R, error) {
	results := make([]R, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}

	queue := make(chan int)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < p.size(len(tasks)); w++ {
		g.Go(func() error {
			for i := range queue {
				results[i] = fn(gctx, tasks[i])
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(queue)
		for i := range tasks {
			select {
			case queue <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
