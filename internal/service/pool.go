package service

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runPool feeds tasks to at most workers goroutines and returns results in
// task order. Tasks still queued once ctx is done are handed to cancelled
// instead of run.
func runPool[T, R any](ctx context.Context, workers int, tasks []T, run func(context.Context, T) R, cancelled func(T, error) R) []R {
	results := make([]R, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	queue := make(chan int)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range queue {
				if err := ctx.Err(); err != nil {
					results[i] = cancelled(tasks[i], err)
					continue
				}
				results[i] = run(ctx, tasks[i])
			}
			return nil
		})
	}
	for i := range tasks {
		queue <- i
	}
	close(queue)
	_ = g.Wait()
	return results
}
