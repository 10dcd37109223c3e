// Package pool provides the bounded-concurrency map used by the fetch,
// realize, and validation phases. Each unit of work runs in exactly one
// worker; failures are the work function's concern and never abort
// siblings.
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultSize is the worker count used when a run does not set one.
const DefaultSize = 10

// Map runs fn over items with at most size concurrent workers and returns
// the results in input order. A cancelled context stops new work from
// starting; in-flight work observes the context itself.
func Map[T, R any](ctx context.Context, size int, items []T, fn func(context.Context, T) R) []R {
	if size <= 0 {
		size = DefaultSize
	}
	results := make([]R, len(items))
	g := new(errgroup.Group)
	g.SetLimit(size)
	for i, item := range items {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Each is Map without results.
func Each[T any](ctx context.Context, size int, items []T, fn func(context.Context, T)) {
	Map(ctx, size, items, func(ctx context.Context, item T) struct{} {
		fn(ctx, item)
		return struct{}{}
	})
}
