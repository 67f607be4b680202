package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ForEach runs fn for every item on at most workers goroutines. The first
// error cancels the context handed to the remaining calls.
func ForEach[T any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, item T) error) error {
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, item)
		})
	}

	return g.Wait()
}

// Map applies fn to every item concurrently and returns the results in
// input order.
func Map[T, R any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	out := make([]R, len(items))
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}

	err := ForEach(ctx, workers, idx, func(ctx context.Context, i int) error {
		r, err := fn(ctx, items[i])
		if err != nil {
			return err
		}
		out[i] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
