package runner

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Forcer is anything ComputeAll can evaluate
type Forcer interface {
	Force() error
}

// Deferred is a value computed at most once, on first demand
type Deferred[T any] struct {
	once sync.Once
	fn   func() (T, error)
	val  T
	err  error
}

func Defer[T any](fn func() (T, error)) *Deferred[T] {
	return &Deferred[T]{fn: fn}
}

// Compute evaluates the task if needed and returns its result. Concurrent
// callers block until the single evaluation finishes.
func (d *Deferred[T]) Compute() (T, error) {
	d.once.Do(func() {
		d.val, d.err = d.fn()
		d.fn = nil
	})
	return d.val, d.err
}

func (d *Deferred[T]) Force() error {
	_, err := d.Compute()
	return err
}

// ComputeAll forces every task concurrently and returns the first error
func ComputeAll(ctx context.Context, tasks ...Forcer) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		t := t
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			return t.Force()
		})
	}
	return eg.Wait()
}
